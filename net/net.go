package net

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// strip port from addresses with hostname, ipv4 or ipv6
func stripPort(address string) string {
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}

	return address
}

func parseAddr(s string) netip.Addr {
	addr, err := netip.ParseAddr(stripPort(strings.TrimSpace(s)))
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// ClientAddrOptions control how the client address is resolved from
// proxy headers.
type ClientAddrOptions struct {

	// TrustDepth is the number of trusted proxies in front of the
	// gateway. The client address is the TrustDepth-th entry of
	// X-Forwarded-For counted from the right. Zero ignores the header.
	TrustDepth int

	// TrustedProxies, when set, restricts the use of X-Forwarded-For
	// to requests whose direct peer is in the set.
	TrustedProxies *netipx.IPSet
}

// ClientAddr returns the address of the client. With a trust depth of 1,
// the last hop appended by the single trusted proxy is used:
//
//	X-Forwarded-For: spoofed, client-ip-address
//
// When the header is missing, too short or invalid, the remote address of
// the connection is returned. The zero Addr means neither was usable.
func ClientAddr(r *http.Request, o ClientAddrOptions) netip.Addr {
	peer := parseAddr(r.RemoteAddr)
	if o.TrustDepth <= 0 {
		return peer
	}

	if o.TrustedProxies != nil && (!peer.IsValid() || !o.TrustedProxies.Contains(peer)) {
		return peer
	}

	ffs := r.Header.Values("X-Forwarded-For")
	if len(ffs) == 0 {
		return peer
	}

	var hops []string
	for _, ff := range ffs {
		for h := range strings.SplitSeq(ff, ",") {
			hops = append(hops, h)
		}
	}

	if o.TrustDepth > len(hops) {
		return peer
	}

	if addr := parseAddr(hops[len(hops)-o.TrustDepth]); addr.IsValid() {
		return addr
	}

	return peer
}

// RemoteAddr returns the remote address of the connection, ignoring any
// proxy headers.
func RemoteAddr(r *http.Request) netip.Addr {
	return parseAddr(r.RemoteAddr)
}

// ParseIPCIDRs returns a valid IPSet even in case there are parsing
// errors of some partial provided input cidrs. So recently added
// bogus values can be logged and ignored at runtime.
func ParseIPCIDRs(cidrs []string) (*netipx.IPSet, error) {
	var (
		b   netipx.IPSetBuilder
		err error
	)

	for _, w := range cidrs {
		if strings.Contains(w, "/") {
			if pref, e := netip.ParsePrefix(w); e != nil {
				err = e
			} else {
				b.AddPrefix(pref)
			}
		} else if addr, e := netip.ParseAddr(w); e != nil {
			err = e
		} else {
			b.Add(addr)
		}
	}

	ips, e := b.IPSet()
	if e != nil {
		return ips, e
	}

	return ips, err
}
