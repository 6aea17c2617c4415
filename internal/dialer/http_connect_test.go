package dialer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/die-net/socks5d/internal/testutil"
)

// serveCONNECT answers one CONNECT request on c and splices it to the
// requested target. wantAuth, when set, must match Proxy-Authorization.
func serveCONNECT(ctx context.Context, c net.Conn, wantAuth string) {
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	_ = req.Body.Close()
	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		return
	}
	if wantAuth != "" && req.Header.Get("Proxy-Authorization") != wantAuth {
		_, _ = io.WriteString(c, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
		return
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Host)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer dst.Close()

	_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, br)
		_ = dst.(*net.TCPConn).CloseWrite()
	}()
	_, _ = io.Copy(c, dst)
	<-done
}

func TestHTTPConnectDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		wantAuth string
	}{
		{name: "no_auth"},
		{name: "basic_auth", user: "user", pass: "pass", wantAuth: "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				serveCONNECT(ctx, c, tt.wantAuth)
			})

			f, err := NewHTTPConnectDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, upLn.Addr().String(), tt.user, tt.pass)
			if err != nil {
				t.Fatal(err)
			}

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()

			waitUp()
		})
	}
}

func TestHTTPConnectDialerEarlyData(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(c))
		if err != nil {
			return
		}
		_ = req.Body.Close()
		// Response and the first tunneled bytes in one segment.
		_, _ = io.WriteString(c, "HTTP/1.1 200 OK\r\n\r\nbanner")
		_ = c.(*net.TCPConn).CloseWrite()
		_, _ = io.Copy(io.Discard, c)
	})

	f, err := NewHTTPConnectDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := f.DialContext(ctx, "tcp", "198.51.100.1:25")
	if err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "banner" {
		t.Fatalf("got %q", got)
	}
	if _, ok := conn.(interface{ CloseWrite() error }); !ok {
		t.Fatalf("%T lost CloseWrite", conn)
	}
	_ = conn.Close()

	waitUp()
}

func TestHTTPConnectDialerNon2xx(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		serveCONNECT(ctx, c, "Basic nope")
	})

	f, err := NewHTTPConnectDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}

	waitUp()
}

func TestHTTPConnectDialerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		// Read the request but never answer it.
		if _, err := http.ReadRequest(bufio.NewReader(c)); err != nil {
			return
		}
		cancel()
		_, _ = io.Copy(io.Discard, c)
	})

	f, err := NewHTTPConnectDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	waitUp()
}
