package net

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pires/go-proxyproto"
)

const defaultProxyHeaderTimeout = time.Second

// ProxyProtocolOptions configure the PROXY protocol support of the
// gateway listener. Behind an L4 load balancer, the header sent by the
// balancer carries the address of the client, which then appears as the
// remote address of the request.
type ProxyProtocolOptions struct {
	Enabled bool

	// AllowListCIDRs are the load balancers allowed to send the header.
	// All upstreams when empty. Other upstreams are served as plain
	// connections and a header from them fails the connection.
	AllowListCIDRs []string

	// ReadHeaderTimeout bounds the wait for the header. Defaults to 1s.
	ReadHeaderTimeout time.Duration
}

// NewProxyProtocolListener wraps l when the PROXY protocol is enabled and
// returns l unchanged otherwise.
func NewProxyProtocolListener(l net.Listener, o ProxyProtocolOptions) (net.Listener, error) {
	if !o.Enabled {
		return l, nil
	}

	allow, err := ParseIPCIDRs(o.AllowListCIDRs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy protocol allow list: %w", err)
	}

	trustAll := len(o.AllowListCIDRs) == 0
	timeout := o.ReadHeaderTimeout
	if timeout <= 0 {
		timeout = defaultProxyHeaderTimeout
	}

	return &proxyproto.Listener{
		Listener:          l,
		ReadHeaderTimeout: timeout,
		ConnPolicy: func(cpo proxyproto.ConnPolicyOptions) (proxyproto.Policy, error) {
			if trustAll {
				return proxyproto.USE, nil
			}

			if addr := parseAddr(cpo.Upstream.String()); addr.IsValid() && allow.Contains(addr) {
				return proxyproto.USE, nil
			}

			return proxyproto.REJECT, nil
		},
		ValidateHeader: validateProxyHeader,
	}, nil
}

func validateProxyHeader(h *proxyproto.Header) error {
	if h == nil {
		return errors.New("proxy header is nil")
	}

	if h.SourceAddr == nil || h.DestinationAddr == nil {
		return fmt.Errorf("proxy header without addresses, source: %v, destination: %v", h.SourceAddr, h.DestinationAddr)
	}

	if h.TransportProtocol != proxyproto.TCPv4 && h.TransportProtocol != proxyproto.TCPv6 {
		return fmt.Errorf("unsupported proxy header protocol: %v", h.TransportProtocol)
	}

	return nil
}
