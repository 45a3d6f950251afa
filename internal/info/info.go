// Package info projects server and storage state into the two wire
// representations SeedLink's INFO command emits: a v3 XML document rooted
// at <seedlink> and a v4 JSON document, per §6's INFO levels.
package info

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/seedlink4go/seedlink4/internal/format"
	"github.com/seedlink4go/seedlink4/internal/storage"
)

// Level names one of §6's INFO sublevels.
type Level string

const (
	LevelID           Level = "ID"
	LevelFormats      Level = "FORMATS"
	LevelCapabilities Level = "CAPABILITIES"
	LevelStations     Level = "STATIONS"
	LevelStreams      Level = "STREAMS"
	LevelConnections  Level = "CONNECTIONS"
)

// ErrUnknownLevel is returned for an INFO level the negotiated protocol
// version does not recognize; callers report it on the "ERR" channel
// rather than "INF" per §12.
var ErrUnknownLevel = errors.New("info: unrecognized level")

// timeFormat is the SeedLink INFO convention for begin/end/started
// timestamps: "YYYY,DDD,HH:MM:SS".
const timeFormat = "2006,002,15:04:05"

// ConnectionSummary describes one live session, supplied by the session
// package since Info has no visibility into active connections itself.
type ConnectionSummary struct {
	Station       string
	IP            string
	ClientID      string
	ConnectedAt   time.Time
	Sequence      uint64
	BytesSent     int64
	RealtimeDelay time.Duration
}

// Server builds INFO documents from a snapshot of storage and format
// registry state, plus a caller-supplied connection list for CONNECTIONS.
type Server struct {
	store        *storage.Storage
	formats      *format.Registry
	organization string
	software     string
	started      time.Time
}

// New returns a Server. software is the version banner's software string
// (e.g. "seedlink4|1.0"); started is the process start time reported by ID.
func New(store *storage.Storage, formats *format.Registry, organization, software string, started time.Time) *Server {
	return &Server{store: store, formats: formats, organization: organization, software: software, started: started}
}

// capabilities lists the protocol extensions this server implements,
// mirrored into both XML and JSON CAPABILITIES projections.
var capabilities = []string{"dialup", "multistation", "window-extraction", "batch"}

// stations returns every known ring name matching pattern ('*'/'?'
// wildcards via path.Match), sorted for deterministic output.
func (s *Server) stations(pattern string) []string {
	names := s.store.Cat()
	if pattern == "" {
		sort.Strings(names)
		return names
	}
	var out []string
	for _, n := range names {
		if ok, _ := path.Match(pattern, n); ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func splitNetSta(name string) (network, station string) {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}

// --- XML (v3) ---

type xmlDoc struct {
	XMLName      xml.Name        `xml:"seedlink"`
	Software     string          `xml:"software,attr"`
	Organization string          `xml:"organization,attr"`
	Started      string          `xml:"started,attr"`
	Capabilities []xmlCapability `xml:"capability,omitempty"`
	Formats      []xmlFormat     `xml:"format,omitempty"`
	Stations     []xmlStation    `xml:"station,omitempty"`
	Connections  []xmlConnection `xml:"connection,omitempty"`
}

type xmlCapability struct {
	Name string `xml:"name,attr"`
}

type xmlFormat struct {
	Code        string `xml:"code,attr"`
	MIMEType    string `xml:"mimetype,attr"`
	Description string `xml:"description,attr"`
}

type xmlStation struct {
	Name        string      `xml:"name,attr"`
	Network     string      `xml:"network,attr"`
	Description string      `xml:"description,attr,omitempty"`
	Streams     []xmlStream `xml:"stream,omitempty"`
}

type xmlStream struct {
	Location  string `xml:"location,attr"`
	Seedname  string `xml:"seedname,attr"`
	Type      string `xml:"type,attr"`
	BeginTime string `xml:"begin_time,attr"`
	EndTime   string `xml:"end_time,attr"`
}

type xmlConnection struct {
	Station       string `xml:"station,attr"`
	IP            string `xml:"ip,attr"`
	ClientID      string `xml:"client_id,attr,omitempty"`
	CTime         string `xml:"ctime,attr"`
	Sequence      string `xml:"sequence,attr"`
	RealtimeDelay string `xml:"realtime_delay,attr,omitempty"`
}

// XML builds the body of a v3 INFO document for level, restricted to
// stations matching stationPattern (empty means "all"). connections is
// only consulted for LevelConnections.
func (s *Server) XML(level Level, stationPattern string, connections []ConnectionSummary) ([]byte, error) {
	doc := xmlDoc{
		Software:     s.software,
		Organization: s.organization,
		Started:      s.started.UTC().Format(timeFormat),
	}

	switch level {
	case LevelID:
		// ID carries only the header attributes; no children.
	case LevelCapabilities:
		for _, c := range capabilities {
			doc.Capabilities = append(doc.Capabilities, xmlCapability{Name: c})
		}
	case LevelFormats:
		for _, f := range s.formats.List() {
			doc.Formats = append(doc.Formats, xmlFormat{Code: f.Code, MIMEType: f.MIME, Description: f.Description})
		}
	case LevelStations:
		doc.Stations = s.xmlStations(stationPattern, false)
	case LevelStreams:
		doc.Stations = s.xmlStations(stationPattern, true)
	case LevelConnections:
		for _, c := range connections {
			doc.Connections = append(doc.Connections, xmlConnection{
				Station:       c.Station,
				IP:            c.IP,
				ClientID:      c.ClientID,
				CTime:         c.ConnectedAt.UTC().Format(timeFormat),
				Sequence:      fmt.Sprintf("%d", c.Sequence),
				RealtimeDelay: formatDelay(c.RealtimeDelay),
			})
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("info: marshaling XML: %w", err)
	}
	return out, nil
}

func (s *Server) xmlStations(pattern string, withStreams bool) []xmlStation {
	var out []xmlStation
	for _, name := range s.stations(pattern) {
		network, station := splitNetSta(name)
		xs := xmlStation{Name: station, Network: network}
		if withStreams {
			r, ok := s.store.Ring(name)
			if !ok {
				continue
			}
			for _, st := range r.Streams() {
				xs.Streams = append(xs.Streams, xmlStream{
					Location:  st.Location,
					Seedname:  st.Channel,
					Type:      string(rune(st.Type)),
					BeginTime: st.StartTime.UTC().Format(timeFormat),
					EndTime:   st.EndTime.UTC().Format(timeFormat),
				})
			}
		}
		out = append(out, xs)
	}
	return out
}

// --- JSON (v4) ---

type jsonDoc struct {
	Software     string            `json:"software"`
	Organization string            `json:"organization"`
	Started      string            `json:"started"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Formats      []jsonFormat      `json:"formats,omitempty"`
	Stations     []jsonStation     `json:"stations,omitempty"`
	Connections  []jsonConnection  `json:"connections,omitempty"`
}

type jsonFormat struct {
	Code        string `json:"code"`
	MIMEType    string `json:"mimetype"`
	Description string `json:"description"`
}

type jsonStation struct {
	ID          string       `json:"id"`
	Network     string       `json:"network"`
	Station     string       `json:"station"`
	Description string       `json:"description,omitempty"`
	Streams     []jsonStream `json:"streams,omitempty"`
}

type jsonStream struct {
	ID        string `json:"id"`
	Location  string `json:"location"`
	Seedname  string `json:"seedname"`
	Type      string `json:"type"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
}

type jsonConnection struct {
	Station       string  `json:"station"`
	IP            string  `json:"ip"`
	ClientID      string  `json:"clientId,omitempty"`
	ConnectedAt   string  `json:"connectedAt"`
	Sequence      uint64  `json:"sequence"`
	RealtimeDelay float64 `json:"realtimeDelaySeconds,omitempty"`
}

// JSON builds the body of a v4 INFO document (the payload that follows the
// "SEJ" fixed header; see §6).
func (s *Server) JSON(level Level, stationPattern string, connections []ConnectionSummary) ([]byte, error) {
	doc := jsonDoc{
		Software:     s.software,
		Organization: s.organization,
		Started:      s.started.UTC().Format(time.RFC3339),
	}

	switch level {
	case LevelID:
	case LevelCapabilities:
		doc.Capabilities = append([]string{}, capabilities...)
	case LevelFormats:
		for _, f := range s.formats.List() {
			doc.Formats = append(doc.Formats, jsonFormat{Code: f.Code, MIMEType: f.MIME, Description: f.Description})
		}
	case LevelStations:
		doc.Stations = s.jsonStations(stationPattern, false)
	case LevelStreams:
		doc.Stations = s.jsonStations(stationPattern, true)
	case LevelConnections:
		for _, c := range connections {
			doc.Connections = append(doc.Connections, jsonConnection{
				Station:       c.Station,
				IP:            c.IP,
				ClientID:      c.ClientID,
				ConnectedAt:   c.ConnectedAt.UTC().Format(time.RFC3339),
				Sequence:      c.Sequence,
				RealtimeDelay: c.RealtimeDelay.Seconds(),
			})
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("info: marshaling JSON: %w", err)
	}
	return out, nil
}

func (s *Server) jsonStations(pattern string, withStreams bool) []jsonStation {
	var out []jsonStation
	for _, name := range s.stations(pattern) {
		network, station := splitNetSta(name)
		js := jsonStation{ID: name, Network: network, Station: station}
		if withStreams {
			r, ok := s.store.Ring(name)
			if !ok {
				continue
			}
			for _, st := range r.Streams() {
				js.Streams = append(js.Streams, jsonStream{
					ID:        st.StreamID,
					Location:  st.Location,
					Seedname:  st.Channel,
					Type:      string(rune(st.Type)),
					BeginTime: st.StartTime.UTC().Format(time.RFC3339),
					EndTime:   st.EndTime.UTC().Format(time.RFC3339),
				})
			}
		}
		out = append(out, js)
	}
	return out
}

func formatDelay(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return fmt.Sprintf("%.1f", d.Seconds())
}
