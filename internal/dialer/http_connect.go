package dialer

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPConnectDialer dials outbound TCP connections through a plain HTTP proxy
// using the CONNECT method.
type HTTPConnectDialer struct {
	cfg       Config
	proxyAddr string
	auth      string
	direct    Dialer
}

// NewHTTPConnectDialer constructs a CONNECT dialer for the proxy at
// proxyAddr. If username is non-empty, Proxy-Authorization carries HTTP Basic
// credentials.
func NewHTTPConnectDialer(cfg Config, proxyAddr, username, password string) (Dialer, error) {
	if proxyAddr == "" {
		return nil, errors.New("http connect dialer: missing proxy address")
	}

	directCfg := cfg
	directCfg.DNSServer = ""
	direct, err := NewDirectDialer(directCfg)
	if err != nil {
		return nil, err
	}

	auth := ""
	if username != "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}

	return &HTTPConnectDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      auth,
		direct:    direct,
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (f *HTTPConnectDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to the proxy and issues CONNECT address before
// returning. Any 2xx status is success.
//
// If NegotiationTimeout is set, a deadline is applied during negotiation and
// cleared before returning. Canceling ctx during negotiation aborts it.
func (f *HTTPConnectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http connect dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http connect: %w", err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})

	br := bufio.NewReader(c)
	err = f.connect(c, br, address)
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http connect dial %s %s: %w", network, address, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}

	// The proxy may have sent tunneled bytes along with its response.
	if br.Buffered() > 0 {
		if tc, ok := c.(*net.TCPConn); ok {
			return &bufferedConn{TCPConn: tc, r: br}, nil
		}
	}
	return c, nil
}

func (f *HTTPConnectDialer) connect(c net.Conn, br *bufio.Reader, address string) error {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if f.auth != "" {
		req.Header.Set("Proxy-Authorization", f.auth)
	}

	if err := req.Write(c); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("proxy answered %s", resp.Status)
	}
	return nil
}

// bufferedConn drains bytes read ahead of the CONNECT response before reading
// from the socket again. CloseWrite still reaches the TCP connection.
type bufferedConn struct {
	*net.TCPConn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.r.Buffered() > 0 {
		return c.r.Read(p)
	}
	return c.TCPConn.Read(p)
}
