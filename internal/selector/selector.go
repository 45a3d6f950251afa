// Package selector implements §4.2: a compiled pattern over a record's
// (stream-id, format), in either the legacy v3 "LLCCC[.T]" syntax or the
// extended v4 "STREAM[.FMT]" syntax, each optionally negated with a
// leading '!'.
package selector

import (
	"fmt"
	"strings"

	"github.com/seedlink4go/seedlink4/internal/record"
)

// Selector is one compiled pattern. Negative selectors (leading '!')
// subtract matches from a cursor's filter; positive selectors add them —
// see MatchAll for the list-level combination rule.
type Selector struct {
	raw      string
	negate   bool
	location func(string) bool
	channel  func(string) bool
	typ      byte // 0 means "any"
	stream   func(string) bool
	format   func(string) bool
}

// ErrInvalidPattern is returned by Compile for malformed selector text.
type ErrInvalidPattern struct {
	Pattern string
	Reason  string
}

func (e *ErrInvalidPattern) Error() string {
	return fmt.Sprintf("selector: invalid pattern %q: %s", e.Pattern, e.Reason)
}

// Compile parses one selector token. v4 selects the extended "STREAM[.FMT]"
// grammar; otherwise the legacy v3 "LLCCC[.T]" grammar is used.
func Compile(pattern string, v4 bool) (*Selector, error) {
	raw := pattern
	negate := false
	if strings.HasPrefix(pattern, "!") {
		negate = true
		pattern = pattern[1:]
	}
	if pattern == "" {
		return nil, &ErrInvalidPattern{raw, "empty pattern"}
	}

	s := &Selector{raw: raw, negate: negate}
	if v4 {
		if err := s.compileV4(pattern); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.compileV3(pattern); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Selector) compileV3(pattern string) error {
	main := pattern
	var typeSuffix string
	if idx := strings.IndexByte(pattern, '.'); idx >= 0 {
		main = pattern[:idx]
		typeSuffix = pattern[idx+1:]
		if len(typeSuffix) != 1 {
			return &ErrInvalidPattern{s.raw, "type suffix must be a single character"}
		}
		s.typ = typeSuffix[0]
	}

	var locPat, chanPat string
	switch len(main) {
	case 3:
		locPat = "??"
		chanPat = main
	case 5:
		locPat = main[:2]
		chanPat = main[2:]
	default:
		return &ErrInvalidPattern{s.raw, "main field must be 3 (channel only) or 5 (location+channel) characters"}
	}

	for _, c := range locPat + chanPat {
		if !isValidSelectorChar(c) {
			return &ErrInvalidPattern{s.raw, fmt.Sprintf("invalid character %q", c)}
		}
	}

	locPat = strings.ReplaceAll(locPat, "-", " ")
	s.location = compileFixedPattern(locPat)
	s.channel = compileFixedPattern(chanPat)
	return nil
}

func (s *Selector) compileV4(pattern string) error {
	main := pattern
	fmtPat := ""
	if idx := strings.LastIndexByte(pattern, '.'); idx >= 0 {
		main = pattern[:idx]
		fmtPat = pattern[idx+1:]
	}
	if main == "" {
		return &ErrInvalidPattern{s.raw, "empty stream field"}
	}
	for _, c := range main {
		if !isValidSelectorChar(c) && c != '*' && c != '_' {
			return &ErrInvalidPattern{s.raw, fmt.Sprintf("invalid character %q", c)}
		}
	}
	s.stream = compileGlob(main)
	if fmtPat != "" {
		for _, c := range fmtPat {
			if !isValidSelectorChar(c) && c != '*' {
				return &ErrInvalidPattern{s.raw, fmt.Sprintf("invalid character %q", c)}
			}
		}
		s.format = compileGlob(fmtPat)
	}
	return nil
}

func isValidSelectorChar(c rune) bool {
	return c == '?' || c == '-' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// Negative reports whether this selector was written with a leading '!'.
func (s *Selector) Negative() bool { return s.negate }

// Raw returns the original selector text, including any leading '!'.
func (s *Selector) Raw() string { return s.raw }

// Match reports whether rec's identity satisfies this single selector's
// pattern (ignoring negation — callers combine a list via MatchAll).
func (s *Selector) Match(rec *record.Record) bool {
	if s.stream != nil {
		if !s.stream(rec.StreamID()) {
			return false
		}
		if s.format != nil && !s.format(rec.Format) {
			return false
		}
		return true
	}
	if !s.location(padLocation(rec.Location)) {
		return false
	}
	if !s.channel(padChannel(rec.Channel)) {
		return false
	}
	if s.typ != 0 && s.typ != rec.Subtype() {
		return false
	}
	return true
}

// MatchAll applies §4.2's list-level rule: with no positive selectors the
// default is allow; otherwise at least one positive selector must match
// and no negative selector may match.
func MatchAll(selectors []*Selector, rec *record.Record) bool {
	hasPositive := false
	matchedPositive := false
	for _, sel := range selectors {
		if sel.negate {
			if sel.Match(rec) {
				return false
			}
			continue
		}
		hasPositive = true
		if sel.Match(rec) {
			matchedPositive = true
		}
	}
	if !hasPositive {
		return true
	}
	return matchedPositive
}

func padLocation(loc string) string {
	for len(loc) < 2 {
		loc += " "
	}
	return loc
}

func padChannel(ch string) string {
	for len(ch) < 3 {
		ch += " "
	}
	return ch
}

// compileFixedPattern builds a matcher for a fixed-length pattern where
// '?' matches any single character at that position.
func compileFixedPattern(pattern string) func(string) bool {
	p := pattern
	return func(s string) bool {
		if len(s) != len(p) {
			return false
		}
		for i := 0; i < len(p); i++ {
			if p[i] != '?' && p[i] != s[i] {
				return false
			}
		}
		return true
	}
}

// compileGlob builds a matcher supporting '?' (one character) and '*'
// (zero or more characters) wildcards over the whole string.
func compileGlob(pattern string) func(string) bool {
	p := pattern
	return func(s string) bool { return globMatch(p, s) }
}

func globMatch(pattern, s string) bool {
	// classic two-pointer glob match with backtracking on '*'
	pi, si := 0, 0
	starIdx, starMatch := -1, 0
	for si < len(s) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]) {
			pi++
			si++
		} else if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			starMatch = si
			pi++
		} else if starIdx >= 0 {
			pi = starIdx + 1
			starMatch++
			si = starMatch
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
