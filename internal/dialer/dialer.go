package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type proxyScheme struct {
	defaultPort string
	build       func(cfg Config, addr, user, pass string) (Dialer, error)
}

// proxySchemes are the upstream URL schemes that chain through another proxy.
var proxySchemes = map[string]proxyScheme{
	"socks5":  {defaultPort: "1080", build: NewSOCKS5ProxyDialer},
	"socks5h": {defaultPort: "1080", build: NewSOCKS5ProxyDialer},
	"http":    {defaultPort: "8080", build: NewHTTPConnectDialer},
}

// New parses upstream and constructs the matching outbound Dialer.
//
// Supported URLs:
//   - direct://
//   - socks5://[user:pass@]host[:port] (socks5h is accepted as an alias)
//   - http://[user:pass@]host[:port]
//
// Proxy URLs without a port get the scheme's conventional one.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid url: path should be empty")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return nil, errors.New("invalid url: missing scheme")
	}
	if scheme == "direct" {
		return NewDirectDialer(cfg)
	}

	ps, ok := proxySchemes[scheme]
	if !ok {
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, errors.New("invalid url: missing host")
	}
	port := u.Port()
	if port == "" {
		port = ps.defaultPort
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	return ps.build(cfg, net.JoinHostPort(host, port), user, pass)
}
