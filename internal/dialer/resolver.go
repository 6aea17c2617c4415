package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Resolver looks up domain destinations against a single DNS server instead
// of the system resolver.
type Resolver struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// NewResolver returns a Resolver querying server (host or host:port, port
// 53 by default). A zero timeout uses the miekg/dns defaults.
func NewResolver(server string, timeout time.Duration) (*Resolver, error) {
	if server == "" {
		return nil, errors.New("resolver: missing server")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	host, _, _ := net.SplitHostPort(server)
	if _, err := netip.ParseAddr(host); err != nil {
		return nil, fmt.Errorf("resolver: server must be an ip address: %q", host)
	}

	return &Resolver{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}, nil
}

// Server returns the host:port being queried.
func (r *Resolver) Server() string {
	return r.server
}

// LookupAddr returns the first A record for host, falling back to AAAA.
func (r *Resolver) LookupAddr(ctx context.Context, host string) (netip.Addr, error) {
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ip, err := r.lookup(ctx, host, qtype)
		if err == nil {
			return ip, nil
		}
		if ctx.Err() != nil {
			return netip.Addr{}, ctx.Err()
		}
		lastErr = err
	}
	return netip.Addr{}, lastErr
}

func (r *Resolver) lookup(ctx context.Context, host string, qtype uint16) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	resp, _, err := r.udp.ExchangeContext(ctx, m, r.server)
	if err == nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, m, r.server)
	}
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("resolve %s: %s", host, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		var raw net.IP
		switch rr := rr.(type) {
		case *dns.A:
			raw = rr.A
		case *dns.AAAA:
			raw = rr.AAAA
		default:
			continue
		}
		if ip, ok := netip.AddrFromSlice(raw); ok {
			return ip.Unmap(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: no %s records", host, dns.TypeToString[qtype])
}
