package session

import (
	"strings"
	"testing"
	"time"

	"github.com/seedlink4go/seedlink4/internal/acl"
)

func TestInfoIDContainsOrganization(t *testing.T) {
	deps := newTestDeps(t)
	ps := newPipeSession(t, deps)
	ps.sendLine(t, "INFO ID")

	frame := ps.readExact(t, 8+512)
	if string(frame[0:8]) != "SLINFO  " {
		t.Fatalf("header = %q, want single-frame terminator form", frame[0:8])
	}
	if !strings.Contains(string(frame[8:]), "Test Seismic Network") {
		t.Errorf("INFO ID body does not mention the organization: %q", frame[8:])
	}
}

func TestInfoConnectionsRequiresTrustedPeer(t *testing.T) {
	deps := newTestDeps(t)
	deps.TrustedACL = acl.New("198.51.100.0/24")
	ps := newPipeSession(t, deps)
	ps.sendLine(t, "INFO CONNECTIONS")
	got := ps.readLine(t)
	if got != "ERROR" {
		t.Errorf("reply = %q, want bare ERROR for an untrusted INFO CONNECTIONS request", got)
	}
}

func TestAccessACLDeniesStationBinding(t *testing.T) {
	deps := newTestDeps(t)
	putRecord(t, deps, "XX.STA", "BHZ", time.Now())
	deps.AccessACL = acl.New("198.51.100.0/24")

	ps := newPipeSession(t, deps)
	ps.sendLine(t, "STATION XX.STA")
	ps.readLine(t)
	ps.sendLine(t, "FETCH 0")
	ps.readLine(t)
	ps.sendLine(t, "END")

	// No binding was allowed to attach, so the session replies with the
	// bare termination frame instead of entering transfer mode.
	term := ps.readExact(t, 3)
	if string(term) != "END" {
		t.Fatalf("terminator = %q, want bare END", term)
	}
}

func TestWildcardStationMatchesExistingRings(t *testing.T) {
	deps := newTestDeps(t)
	putRecord(t, deps, "XX.STA1", "BHZ", time.Now())
	putRecord(t, deps, "XX.STA2", "BHZ", time.Now())

	ps := newPipeSession(t, deps)
	ps.sendLine(t, "STATION XX.*")
	ps.readLine(t)
	ps.sendLine(t, "FETCH 0")
	ps.readLine(t)
	ps.sendLine(t, "END")

	// Two stations matched, one record each: expect two legacy frames
	// (in some order) and then the bare terminator.
	ps.readExact(t, legacyFrameSize)
	ps.readExact(t, legacyFrameSize)
	term := ps.readExact(t, 3)
	if string(term) != "END" {
		t.Fatalf("terminator = %q, want bare END", term)
	}
}
