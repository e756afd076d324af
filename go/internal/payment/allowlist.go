package payment

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// AllowList gates webhook sources by CIDR. An empty list allows everything,
// which is only meant for local development.
type AllowList struct {
	prefixes []netip.Prefix
}

// NewAllowList parses CIDRs or bare addresses.
func NewAllowList(entries []string) (*AllowList, error) {
	al := &AllowList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				return nil, fmt.Errorf("invalid allow-list address %q: %w", e, err)
			}
			al.prefixes = append(al.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list CIDR %q: %w", e, err)
		}
		al.prefixes = append(al.prefixes, prefix.Masked())
	}
	return al, nil
}

// Allowed reports whether ip (optionally host:port) is in the list.
func (al *AllowList) Allowed(ip string) bool {
	if len(al.prefixes) == 0 {
		return true
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range al.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
