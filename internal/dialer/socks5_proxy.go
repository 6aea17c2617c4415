package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/die-net/socks5d/internal/socks5"
)

// SOCKS5ProxyDialer dials outbound TCP connections through an upstream SOCKS5
// server using the CONNECT command.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

// NewSOCKS5ProxyDialer constructs a dialer chaining through the SOCKS5 server
// at proxyAddr. Destination names are sent to the upstream unresolved.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) (Dialer, error) {
	if proxyAddr == "" {
		return nil, errors.New("socks5 proxy dialer: missing proxy address")
	}

	// The upstream resolves names itself; only the proxy address is dialed
	// here and it never needs our resolver.
	directCfg := cfg
	directCfg.DNSServer = ""
	direct, err := NewDirectDialer(directCfg)
	if err != nil {
		return nil, err
	}

	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    direct,
	}, nil
}

// ProxyAddr returns the upstream host:port.
func (f *SOCKS5ProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to the upstream proxy and negotiates a CONNECT to
// address before returning.
//
// If NegotiationTimeout is set, a deadline is applied during negotiation and
// cleared before returning. Canceling ctx during negotiation aborts it.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})

	err = socks5.ClientDial(c, f.auth, address)
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}
	return c, nil
}
