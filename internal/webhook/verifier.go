// Package webhook authenticates inbound provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/punchamoorthee/pkrsettle/internal/domain"
)

// Verifier checks hex(HMAC-SHA256(secret, body)) signatures and, when an
// allowlist is configured, the sender address. A verifier with an empty
// secret rejects every signature.
type Verifier struct {
	secret    []byte
	allowlist []netip.Prefix
}

// NewVerifier parses allowlist entries, each a CIDR or a bare IP.
func NewVerifier(secret string, allowlist []string) (*Verifier, error) {
	prefixes, err := ParseAllowlist(allowlist)
	if err != nil {
		return nil, err
	}
	return &Verifier{secret: []byte(secret), allowlist: prefixes}, nil
}

// ParseAllowlist parses CIDR or bare IP entries. Blank entries are skipped.
func ParseAllowlist(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p, err := parsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("webhook allowlist entry %q: %w", entry, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Sign returns the signature a sender would attach to body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. A "sha256=" prefix is accepted.
func (v *Verifier) VerifySignature(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return domain.Errorf(domain.ErrBadSignature, "webhook secret not configured")
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return domain.Errorf(domain.ErrBadSignature, "signature is not a hex sha256 digest")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.Errorf(domain.ErrBadSignature, "signature mismatch")
	}
	return nil
}

// AllowRemote checks an http.Request.RemoteAddr style address against the
// allowlist. An empty allowlist admits everyone.
func (v *Verifier) AllowRemote(remoteAddr string) error {
	if len(v.allowlist) == 0 {
		return nil
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return domain.Errorf(domain.ErrForbiddenSource, "unparseable sender address %q", remoteAddr)
	}
	addr = addr.Unmap()
	for _, p := range v.allowlist {
		if p.Contains(addr) {
			return nil
		}
	}
	return domain.Errorf(domain.ErrForbiddenSource, "sender %s not allowed", addr)
}
