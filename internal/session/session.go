// Package session implements §4.6: the per-connection protocol state
// machine that multiplexes the line-oriented command language, the Feed
// binary ingest path, and the Client streaming/dialup transfer path over
// one net.Conn.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/seedlink4go/seedlink4/internal/cursor"
	"github.com/seedlink4go/seedlink4/internal/logging"
	"github.com/seedlink4go/seedlink4/internal/ratelimit"
)

// sessionLogRole groups every connection's optional per-connection debug
// log under one subdirectory; seedlinkd does not yet distinguish Feed from
// Client connections at accept time (that split only happens once the
// FEED/STATION command arrives), so one role covers both.
const sessionLogRole = "connection"

// state names §4.6's session states.
type state int

const (
	stateUnspecific state = iota
	stateClientConfiguring
	stateClientTransferring
	stateFeed
)

// maxLineLength bounds a single command-mode inbox line (§5): a client
// that never terminates a line is disconnected rather than allowed to
// grow an unbounded buffer.
const maxLineLength = 4096

// maxUserAgentLength caps the USERAGENT string recorded for a session
// (§12).
const maxUserAgentLength = 256

// binding pairs a bound station name with the cursor streaming its data.
type binding struct {
	name   string
	cursor *cursor.Cursor
}

// stationRequest accumulates STATION/SELECT/DATA/FETCH/TIME arguments for
// one station until END or ENDFETCH resolves it into a binding (§4.6:
// "when END is received, the session builds cursors for all resolved
// stations").
type stationRequest struct {
	pattern   string // station name, or a v4 wildcard pattern
	network   string // v3 optional second STATION argument
	selectors []string
	seq       uint64
	hasSeq    bool
	start     time.Time
	end       time.Time
	dialup    bool
}

// Session is one accepted connection's protocol state machine.
type Session struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	deps *Deps
	hub  *Hub

	remoteIP    string
	connectedAt time.Time
	cmdLimiter  *ratelimit.CommandLimiter
	sessionID   string
	log         *slog.Logger
	logCloser   io.Closer

	mu          sync.Mutex
	state       state
	v4          bool
	slproto     string
	user        string
	useragent   string
	batch       bool
	pending     []*stationRequest
	bindings    []binding
	wildcards   []*stationRequest // unresolved v4 wildcard STATION requests, re-checked on stationAvail

	stationAvail chan string
	notify       chan struct{}
	closed       chan struct{}
	closeOnce    sync.Once
}

// New builds a Session over an already-accepted connection.
func New(conn net.Conn, deps *Deps) *Session {
	host := conn.RemoteAddr().String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	connectedAt := time.Now()
	sessionID := newSessionID(host, connectedAt)

	log, closer, _, err := logging.NewSessionLogger(deps.Logger, deps.SessionLogDir, sessionLogRole, sessionID)
	if err != nil {
		deps.Logger.Warn("session: per-connection log file unavailable", "session", sessionID, "error", err)
		log, closer = deps.Logger, io.NopCloser(nil)
	}
	log = log.With("remote", host)

	return &Session{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, 4096),
		w:            bufio.NewWriterSize(conn, 4096),
		deps:         deps,
		hub:          deps.Hub,
		remoteIP:     host,
		connectedAt:  connectedAt,
		cmdLimiter:   deps.newCommandLimiter(),
		sessionID:    sessionID,
		log:          log,
		logCloser:    closer,
		slproto:      "3.1",
		stationAvail: make(chan string, 16),
		notify:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
}

// newSessionID builds a filesystem-safe identifier for a connection's log
// file from its remote host and accept time.
func newSessionID(host string, connectedAt time.Time) string {
	safeHost := strings.NewReplacer(":", "_", "/", "_").Replace(host)
	return fmt.Sprintf("%s-%d", safeHost, connectedAt.UnixNano())
}

// Run drives the session to completion: the line-mode command loop, then
// whichever of Feed/Client transfer mode END or FEED selected. It returns
// when the connection closes or ctx is canceled.
func (s *Session) Run(ctx context.Context) (err error) {
	s.hub.register(s)
	defer s.hub.unregister(s)
	defer func() { s.close(err) }()

	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-s.closed:
		}
	}()

	for {
		st := s.getState()
		switch st {
		case stateFeed:
			return s.runFeed(ctx)
		case stateClientTransferring:
			if err := s.runTransfer(ctx); err != nil {
				return err
			}
			s.setState(stateClientConfiguring)
			continue
		default:
			line, err := s.readLine()
			if err != nil {
				return err
			}
			if line == "" {
				continue
			}
			if !s.cmdLimiter.Allow() {
				s.writeLine(errorReply(s.isV4(), "RATE_LIMIT", "command rate exceeded"))
				continue
			}
			if err := s.dispatch(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (s *Session) getState() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) isV4() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v4
}

// close unregisters every bound cursor and closes the connection. Safe to
// call more than once. runErr is Run's own return value: a clean
// disconnect (nil) discards the per-connection log file, while an error
// leaves it in place for inspection.
func (s *Session) close(runErr error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		for _, b := range s.bindings {
			b.cursor.Close()
		}
		s.bindings = nil
		s.mu.Unlock()
		s.conn.Close()
		s.logCloser.Close()
		if runErr == nil {
			logging.RemoveSessionLog(s.deps.SessionLogDir, sessionLogRole, s.sessionID)
		}
	})
}

// readLine reads one CRLF- or LF-terminated command line, enforcing
// maxLineLength via bufio.Reader.ReadSlice rather than ReadString so a
// client that never sends a newline cannot grow an unbounded buffer.
func (s *Session) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := s.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineLength {
			return "", fmt.Errorf("session: command line exceeds %d bytes", maxLineLength)
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// writeLine writes s followed by CRLF and flushes immediately; command
// replies are small and infrequent enough that batching would only add
// latency.
func (s *Session) writeLine(line string) error {
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	if !strings.HasSuffix(line, "\r\n") {
		if _, err := s.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *Session) writeFrame(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *Session) logger() *slog.Logger {
	return s.log
}
