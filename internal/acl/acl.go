// Package acl implements §4.7: an allow-list over (IP, user) tuples built
// from a comma-separated token list, where each token is either an IP/CIDR
// or a plain username.
package acl

import (
	"net"
	"strings"
)

// ACL checks whether a remote IP or an authenticated username is allowed.
// An empty ACL (no tokens ever added) allows everything, matching the
// "trusted: " / "access: " empty-string default in the server config.
type ACL struct {
	nets  []*net.IPNet
	users map[string]bool
}

// New builds an ACL from a comma-separated token list. Each token is
// trimmed and classified: if it parses as a CIDR or bare IP it is added to
// the IP matcher (a bare IP is treated as a /32 or /128), otherwise it is
// added to the username set verbatim.
func New(tokens string) *ACL {
	a := &ACL{users: make(map[string]bool)}
	for _, tok := range strings.Split(tokens, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if ipnet := parseIPOrCIDR(tok); ipnet != nil {
			a.nets = append(a.nets, ipnet)
			continue
		}
		a.users[tok] = true
	}
	return a
}

func parseIPOrCIDR(tok string) *net.IPNet {
	if _, ipnet, err := net.ParseCIDR(tok); err == nil {
		return ipnet
	}
	ip := net.ParseIP(tok)
	if ip == nil {
		return nil
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// Empty reports whether the ACL carries no tokens at all.
func (a *ACL) Empty() bool {
	return a == nil || (len(a.nets) == 0 && len(a.users) == 0)
}

// Check returns true if ip matches a configured CIDR, or user is in the
// configured username set. An empty ACL always returns true. user may be
// empty when the session has not authenticated.
func (a *ACL) Check(ip net.IP, user string) bool {
	if a.Empty() {
		return true
	}
	if ip != nil {
		for _, n := range a.nets {
			if n.Contains(ip) {
				return true
			}
		}
	}
	if user != "" && a.users[user] {
		return true
	}
	return false
}

// CheckHostPort is a convenience wrapper for a "host:port" or bare host
// remote address string, as returned by net.Conn.RemoteAddr().String().
func (a *ACL) CheckHostPort(remoteAddr, user string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return a.Check(net.ParseIP(host), user)
}
