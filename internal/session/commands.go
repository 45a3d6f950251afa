package session

import (
	"context"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/seedlink4go/seedlink4/internal/cursor"
	"github.com/seedlink4go/seedlink4/internal/info"
	"github.com/seedlink4go/seedlink4/internal/record"
	"github.com/seedlink4go/seedlink4/internal/selector"
)

// dispatch parses one command-mode line and routes it to a handler, per
// §4.6's command surface table.
func (s *Session) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	switch verb {
	case "HELLO":
		return s.cmdHello()
	case "SLPROTO":
		return s.cmdSLProto(args)
	case "USERAGENT":
		return s.cmdUserAgent(args)
	case "AUTH":
		return s.cmdAuth(args)
	case "BATCH":
		return s.cmdBatch()
	case "FEED":
		return s.cmdFeed()
	case "STATION":
		return s.cmdStation(args)
	case "SELECT":
		return s.cmdSelect(args)
	case "DATA":
		return s.cmdDataOrFetch(args, false)
	case "FETCH":
		return s.cmdDataOrFetch(args, true)
	case "TIME":
		return s.cmdTime(args)
	case "END":
		return s.cmdEnd(false)
	case "ENDFETCH":
		return s.cmdEndFetch()
	case "INFO":
		return s.cmdInfo(args)
	case "CAT":
		return s.cmdCat()
	case "BYE":
		return fmt.Errorf("session: BYE from %s", s.remoteIP)
	default:
		return s.reply(errorReply(s.isV4(), "UNSUPPORTED", "unknown command "+verb))
	}
}

// reply writes line unless the session is in BATCH mode and line is a bare
// "OK" acknowledgement (§4.6: "suppresses per-command OKs").
func (s *Session) reply(line string) error {
	s.mu.Lock()
	batch := s.batch
	s.mu.Unlock()
	if batch && line == "OK" {
		return nil
	}
	return s.writeLine(line)
}

func (s *Session) cmdHello() error {
	s.mu.Lock()
	org := s.deps.Config.Organization
	s.mu.Unlock()
	banner := fmt.Sprintf("SeedLink v%s seedlink4 :: SLPROTO:3.1,4.0", s.slprotoOrDefault())
	if err := s.writeLine(banner); err != nil {
		return err
	}
	return s.writeLine(org)
}

func (s *Session) slprotoOrDefault() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slproto == "" {
		return "3.1"
	}
	return s.slproto
}

func (s *Session) cmdSLProto(args []string) error {
	if len(args) != 1 {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "SLPROTO requires one version argument"))
	}
	s.mu.Lock()
	s.slproto = args[0]
	s.v4 = strings.HasPrefix(args[0], "4")
	s.mu.Unlock()
	return s.reply("OK")
}

func (s *Session) cmdUserAgent(args []string) error {
	ua := strings.Join(args, " ")
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	s.mu.Lock()
	s.useragent = ua
	s.mu.Unlock()
	return s.reply("OK")
}

func (s *Session) cmdAuth(args []string) error {
	if len(args) < 3 || strings.ToUpper(args[0]) != "USERPASS" {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "AUTH USERPASS requires a user and password"))
	}
	user, pass := args[1], args[2]
	ok := user != ""
	if s.deps.Authenticator != nil {
		ok = s.deps.Authenticator(user, pass)
	}
	if !ok {
		return s.reply(errorReply(s.isV4(), "UNAUTHORIZED", "authentication failed"))
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return s.reply("OK")
}

func (s *Session) cmdBatch() error {
	s.mu.Lock()
	s.batch = true
	s.mu.Unlock()
	return s.reply("OK")
}

func (s *Session) cmdFeed() error {
	if !s.deps.TrustedACL.CheckHostPort(s.conn.RemoteAddr().String(), s.currentUser()) {
		return s.reply(errorReply(s.isV4(), "UNAUTHORIZED", "FEED requires a trusted peer"))
	}
	s.setState(stateFeed)
	return s.reply("OK")
}

func (s *Session) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// cmdStation opens a new pending stationRequest. v3 takes an optional
// second argument naming the network separately; v4 folds network into
// the station pattern and allows '*'/'?' wildcards.
func (s *Session) cmdStation(args []string) error {
	if len(args) == 0 {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "STATION requires a station name"))
	}
	req := &stationRequest{pattern: args[0]}
	if len(args) > 1 {
		req.network = args[1]
	}
	s.mu.Lock()
	s.pending = append(s.pending, req)
	s.mu.Unlock()
	return s.reply("OK")
}

func (s *Session) currentRequest() (*stationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, fmt.Errorf("no current station")
	}
	return s.pending[len(s.pending)-1], nil
}

func (s *Session) cmdSelect(args []string) error {
	req, err := s.currentRequest()
	if err != nil {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "SELECT requires a preceding STATION"))
	}
	if len(args) == 0 {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "SELECT requires a pattern"))
	}
	v4 := s.isV4()
	for _, pat := range args {
		if _, err := selector.Compile(pat, v4); err != nil {
			return s.reply(errorReply(v4, "ARGUMENTS", err.Error()))
		}
	}
	s.mu.Lock()
	req.selectors = append(req.selectors, args...)
	s.mu.Unlock()
	return s.reply("OK")
}

func (s *Session) cmdDataOrFetch(args []string, dialup bool) error {
	req, err := s.currentRequest()
	if err != nil {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "DATA/FETCH requires a preceding STATION"))
	}
	s.mu.Lock()
	req.dialup = dialup
	s.mu.Unlock()
	if len(args) > 0 {
		seq, perr := parseSeq(args[0])
		if perr != nil {
			return s.reply(errorReply(s.isV4(), "ARGUMENTS", perr.Error()))
		}
		s.mu.Lock()
		req.seq, req.hasSeq = seq, true
		s.mu.Unlock()
	}
	if len(args) > 1 {
		t, perr := parseTime(args[1])
		if perr != nil {
			return s.reply(errorReply(s.isV4(), "ARGUMENTS", perr.Error()))
		}
		s.mu.Lock()
		req.start = t
		s.mu.Unlock()
	}
	return s.reply("OK")
}

func (s *Session) cmdTime(args []string) error {
	req, err := s.currentRequest()
	if err != nil {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "TIME requires a preceding STATION"))
	}
	if len(args) == 0 {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "TIME requires a start time"))
	}
	start, perr := parseTime(args[0])
	if perr != nil {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", perr.Error()))
	}
	s.mu.Lock()
	req.start = start
	s.mu.Unlock()
	if len(args) > 1 {
		end, perr := parseTime(args[1])
		if perr != nil {
			return s.reply(errorReply(s.isV4(), "ARGUMENTS", perr.Error()))
		}
		s.mu.Lock()
		req.end = end
		s.mu.Unlock()
	}
	return s.reply("OK")
}

// cmdEnd resolves every pending stationRequest into a cursor binding and
// enters transfer mode, per §4.6's transfer-scheduling description.
// allDialup forces every resolved station into dialup mode (ENDFETCH).
func (s *Session) cmdEnd(allDialup bool) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	any := false
	for _, req := range pending {
		if allDialup {
			req.dialup = true
		}
		for _, name := range s.resolveStations(req) {
			if err := s.attachStation(name, req); err != nil {
				s.logger().Warn("denying station binding", "station", name, "error", err)
				continue
			}
			any = true
		}
		if isWildcard(req.pattern) {
			s.mu.Lock()
			s.wildcards = append(s.wildcards, req)
			s.mu.Unlock()
		}
	}
	if !any {
		// No station resolved to a live binding: the client is already
		// expecting binary framing from here, so the reply is the bare
		// three-byte terminator (§6), not a CRLF command-mode line.
		return s.writeFrame([]byte("END"))
	}
	s.setState(stateClientTransferring)
	return nil
}

func (s *Session) cmdEndFetch() error {
	if !s.isV4() {
		return s.reply(errorReply(false, "UNSUPPORTED", "ENDFETCH requires v4"))
	}
	return s.cmdEnd(true)
}

// resolveStations expands req's pattern against known ring names. A v4
// wildcard pattern ('*' or '?' present) matches every currently known
// station; a literal pattern resolves to itself whether or not a ring yet
// exists for it (§9: unknown stations may appear later on a Feed).
func (s *Session) resolveStations(req *stationRequest) []string {
	name := req.pattern
	if req.network != "" {
		name = req.network + "." + req.pattern
	}
	if !isWildcard(name) {
		return []string{name}
	}
	var out []string
	for _, known := range s.deps.Store.Cat() {
		if matchWildcard(name, known) {
			out = append(out, known)
		}
	}
	return out
}

func isWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

func matchWildcard(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// hostIP parses a session's recorded remote host as a net.IP, or nil if it
// isn't one (e.g. a unix-domain test connection).
func hostIP(host string) net.IP {
	return net.ParseIP(host)
}

// attachStation builds a cursor for name per req's accumulated
// seq/time/selector/dialup configuration, enforces the access ACL, and
// spawns the forwarder goroutine that feeds the session's shared notify
// channel for as long as the session lives.
func (s *Session) attachStation(name string, req *stationRequest) error {
	if !s.deps.accessACL(name).Check(hostIP(s.remoteIP), s.currentUser()) {
		return fmt.Errorf("access denied for %s", name)
	}
	// Unlike the Feed path (Session.ingest), a client binding never creates
	// a station: an unknown name is a request error, not an invitation to
	// allocate a ring nobody will ever feed.
	r, ok := s.deps.Store.Ring(name)
	if !ok {
		return fmt.Errorf("no such station %s", name)
	}
	c := cursor.New(r)
	v4 := s.isV4()
	if req.hasSeq {
		c.SetSequence(req.seq, v4)
	} else {
		// No explicit starting sequence: either a bare DATA/FETCH ("start
		// at whatever endseq is then") or a TIME-windowed replay, which
		// filters by SetTimeWindow below rather than by sequence.
		c.SetSequence(record.UnsetSequence, v4)
	}
	c.SetTimeWindow(req.start, req.end)
	c.SetDialup(req.dialup)
	if !v4 {
		c.Accept("2D")
	}
	for _, pat := range req.selectors {
		sel, err := selector.Compile(pat, v4)
		if err != nil {
			c.Close()
			return err
		}
		c.AddSelector(sel)
	}

	s.mu.Lock()
	s.bindings = append(s.bindings, binding{name: name, cursor: c})
	s.mu.Unlock()

	go s.forwardWakes(c)
	return nil
}

// forwardWakes relays c's wake notifications onto the session's shared
// notify channel for the lifetime of the session. An unsubscribed cursor
// simply stops firing; the goroutine exits only when the session closes.
func (s *Session) forwardWakes(c *cursor.Cursor) {
	for {
		select {
		case <-c.Wake():
			select {
			case s.notify <- struct{}{}:
			default:
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) cmdInfo(args []string) error {
	if len(args) == 0 {
		return s.reply(errorReply(s.isV4(), "ARGUMENTS", "INFO requires a level"))
	}
	v4 := s.isV4()
	level := info.Level(strings.ToUpper(args[0]))
	pattern := ""
	if len(args) > 1 {
		pattern = args[1]
	}
	if level == info.LevelConnections && !s.deps.TrustedACL.CheckHostPort(s.conn.RemoteAddr().String(), s.currentUser()) {
		return s.reply(errorReply(v4, "UNAUTHORIZED", "INFO CONNECTIONS requires a trusted peer"))
	}

	var doc []byte
	var err error
	conns := s.hub.Snapshot()
	if v4 {
		doc, err = s.deps.Info.JSON(level, pattern, conns)
	} else {
		doc, err = s.deps.Info.XML(level, pattern, conns)
	}
	if err != nil {
		if v4 {
			return s.writeFrame(infoJSONFrame([]byte(`{"error":"`+err.Error()+`"}`), false))
		}
		for _, f := range infoXMLFrames([]byte(err.Error()), "ERR") {
			if werr := s.writeFrame(f); werr != nil {
				return werr
			}
		}
		return nil
	}
	if v4 {
		return s.writeFrame(infoJSONFrame(doc, true))
	}
	for _, f := range infoXMLFrames(doc, "INF") {
		if werr := s.writeFrame(f); werr != nil {
			return werr
		}
	}
	return nil
}

func (s *Session) cmdCat() error {
	if s.isV4() {
		return s.reply(errorReply(true, "UNSUPPORTED", "CAT is v3-only"))
	}
	for _, name := range s.deps.Store.Cat() {
		if err := s.writeLine(name); err != nil {
			return err
		}
	}
	return s.writeLine("END")
}

func parseSeq(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence %q", s)
	}
	return v, nil
}

// parseTime parses SeedLink's "YYYY,MM,DD,HH,MM,SS" TIME argument form,
// with trailing fields optional.
func parseTime(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	ints := make([]int, 6)
	for i, p := range parts {
		if i >= 6 {
			break
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q", s)
		}
		ints[i] = v
	}
	return time.Date(ints[0], time.Month(ints[1]), ints[2], ints[3], ints[4], ints[5], 0, time.UTC), nil
}
