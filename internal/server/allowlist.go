package server

import (
	"context"
	"net"
	"net/netip"

	"polybot/internal/observability"
)

// allowlistListener drops connections whose source is outside prefixes before
// any TLS handshake happens.
type allowlistListener struct {
	net.Listener
	prefixes []netip.Prefix
	log      *observability.Logger
}

func newAllowlistListener(ln net.Listener, prefixes []netip.Prefix) net.Listener {
	return &allowlistListener{
		Listener: ln,
		prefixes: prefixes,
		log:      observability.Component("server.allowlist"),
	}
}

func (l *allowlistListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if allowed(conn.RemoteAddr(), l.prefixes) {
			return conn, nil
		}
		l.log.Warn(context.Background(), "connection rejected by allowlist", "remote_addr", conn.RemoteAddr().String())
		_ = conn.Close()
	}
}

func allowed(addr net.Addr, prefixes []netip.Prefix) bool {
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return false
	}
	ip := ap.Addr().Unmap()
	for _, p := range prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
