package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socks5d/internal/dialer"
	"github.com/die-net/socks5d/internal/socks5"
	"github.com/die-net/socks5d/internal/testutil"
)

func directConfig(t *testing.T) Config {
	t.Helper()

	d, err := dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return Config{Dialer: d, NegotiationTimeout: 2 * time.Second}
}

// startServer serves cfg on a loopback listener until ctx is canceled. The
// returned channel yields Serve's result.
func startServer(t *testing.T, ctx context.Context, cfg Config) (string, <-chan error) {
	t.Helper()

	ln, err := Listen(context.Background(), "127.0.0.1:0", ListenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	srv := NewSOCKS5Server(ctx, cfg)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	return ln.Addr().String(), errc
}

func dialThrough(t *testing.T, proxyAddr, target string) *net.TCPConn {
	t.Helper()

	c, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatal(err)
	}
	if err := socks5.ClientDial(c, socks5.Auth{}, target); err != nil {
		_ = c.Close()
		t.Fatal(err)
	}
	return c.(*net.TCPConn)
}

func TestSOCKS5ConnectDirect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	addr, _ := startServer(t, ctx, directConfig(t))

	client, err := txsocks5.NewClient(addr, "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}

	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestSOCKS5ConcurrentSessions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	addr, _ := startServer(t, ctx, directConfig(t))

	const clients = 20
	g := errgroup.Group{}
	for i := range clients {
		g.Go(func() error {
			c, err := net.Dial("tcp", addr)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := socks5.ClientDial(c, socks5.Auth{}, echoLn.Addr().String()); err != nil {
				return err
			}

			payload := bytes.Repeat([]byte(fmt.Sprintf("client-%02d;", i)), 1000)
			if _, err := c.Write(payload); err != nil {
				return err
			}
			if err := c.(*net.TCPConn).CloseWrite(); err != nil {
				return err
			}
			got, err := io.ReadAll(c)
			if err != nil {
				return err
			}
			if !bytes.Equal(got, payload) {
				return fmt.Errorf("client %d got %d bytes of mixed data", i, len(got))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSOCKS5Chained(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	upstreamAddr, _ := startServer(t, ctx, directConfig(t))

	chained, err := dialer.NewSOCKS5ProxyDialer(dialer.Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, upstreamAddr, "", "")
	if err != nil {
		t.Fatal(err)
	}
	frontAddr, _ := startServer(t, ctx, Config{Dialer: chained})

	c := dialThrough(t, frontAddr, echoLn.Addr().String())
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("two hops"))

	// Half-close crosses both proxies.
	_ = c.CloseWrite()
	if _, err := io.ReadAll(c); err != nil {
		t.Fatal(err)
	}
}

func TestSOCKS5ChainedRejection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upstreamAddr, _ := startServer(t, ctx, directConfig(t))

	chained, err := dialer.NewSOCKS5ProxyDialer(dialer.Config{DialTimeout: 2 * time.Second}, upstreamAddr, "", "")
	if err != nil {
		t.Fatal(err)
	}
	frontAddr, _ := startServer(t, ctx, Config{Dialer: chained})

	c, err := net.Dial("tcp", frontAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// The upstream proxy cannot reach the target, so the front proxy reports
	// a general failure.
	err = socks5.ClientDial(c, socks5.Auth{}, testutil.ClosedPort(t))
	var re *socks5.ReplyError
	if !errors.As(err, &re) || re.Code != socks5.RepServerFailure {
		t.Fatalf("err %v", err)
	}
}

func TestSOCKS5ServerShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, context.Background())
	defer echoLn.Close()

	addr, errc := startServer(t, ctx, directConfig(t))

	c := dialThrough(t, addr, echoLn.Addr().String())
	defer c.Close()
	testutil.AssertEcho(t, c, c, []byte("before shutdown"))

	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	// Serve waited for the session, which closed the client endpoint.
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadAll(c); errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatal("session survived shutdown")
	}

	if _, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		t.Fatal("listener still accepting")
	}
}
