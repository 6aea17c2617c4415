package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

type directDialer struct {
	cfg      Config
	resolver *Resolver
}

// NewDirectDialer returns a Dialer that connects straight to the destination.
// If cfg.DNSServer is set, domain names are resolved through it.
func NewDirectDialer(cfg Config) (Dialer, error) {
	d := &directDialer{cfg: cfg}
	if cfg.DNSServer != "" {
		r, err := NewResolver(cfg.DNSServer, cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		d.resolver = r
	}
	return d, nil
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	target, err := f.resolve(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	dd := net.Dialer{Timeout: f.cfg.DialTimeout}

	conn, err := dd.DialContext(ctx, network, target)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}

// resolve rewrites a domain address to an IP address when a resolver is
// configured. IP literals and the no-resolver case pass through.
func (f *directDialer) resolve(ctx context.Context, address string) (string, error) {
	if f.resolver == nil {
		return address, nil
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return address, nil
	}
	ip, err := f.resolver.LookupAddr(ctx, host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip.String(), port), nil
}
