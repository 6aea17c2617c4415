package proxy

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/socks5d/internal/testutil"
)

func startRelay(ctx context.Context, t *testing.T, opts RelayOptions) (user, remote *net.TCPConn, done <-chan RelayResult) {
	t.Helper()

	userConn, clientEnd := testutil.TCPPair(t)
	upstreamEnd, remoteConn := testutil.TCPPair(t)

	ch := make(chan RelayResult, 1)
	go func() {
		ch <- Relay(ctx, clientEnd, upstreamEnd, opts)
	}()
	return userConn, remoteConn, ch
}

func waitRelay(t *testing.T, done <-chan RelayResult) RelayResult {
	t.Helper()

	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
		return RelayResult{}
	}
}

func TestRelayHalfClose(t *testing.T) {
	tests := []struct {
		name    string
		bufSize int
		size    int
	}{
		{name: "small_buffer", bufSize: MinBufferSize, size: 100_000},
		{name: "default_buffer", size: 1 << 20},
		{name: "empty", bufSize: MinBufferSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			userConn, clientEnd := testutil.TCPPair(t)
			upstreamEnd, remoteConn := testutil.TCPPair(t)

			done := make(chan RelayResult, 1)
			go func() {
				done <- Relay(ctx, clientEnd, upstreamEnd, RelayOptions{Buffers: NewBufferPool(tt.bufSize)})
			}()

			payload := make([]byte, tt.size)
			_, _ = rand.Read(payload)
			response := []byte("response after half-close")

			g := errgroup.Group{}
			g.Go(func() error {
				if _, err := userConn.Write(payload); err != nil {
					return err
				}
				return userConn.CloseWrite()
			})
			g.Go(func() error {
				// ReadAll only returns once the relay propagated the half-close.
				got, err := io.ReadAll(remoteConn)
				if err != nil {
					return err
				}
				if !bytes.Equal(got, payload) {
					return fmt.Errorf("remote got %d bytes want %d", len(got), len(payload))
				}
				if _, err := remoteConn.Write(response); err != nil {
					return err
				}
				return remoteConn.CloseWrite()
			})

			got, err := io.ReadAll(userConn)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, response) {
				t.Fatalf("user got %q want %q", got, response)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}

			res := waitRelay(t, done)
			if err := res.Err(); err != nil {
				t.Fatal(err)
			}
			if res.Inbound.Bytes != int64(len(payload)) || res.Outbound.Bytes != int64(len(response)) {
				t.Fatalf("got %d/%d bytes want %d/%d", res.Inbound.Bytes, res.Outbound.Bytes, len(payload), len(response))
			}
			if res.Inbound.Label != LabelInbound || res.Outbound.Label != LabelOutbound {
				t.Fatalf("unexpected labels %q %q", res.Inbound.Label, res.Outbound.Label)
			}
		})
	}
}

// net.Pipe ends have no CloseWrite, so EOF has to close the destination fully.
func TestRelayWithoutCloseWrite(t *testing.T) {
	tests := []struct {
		name         string
		upstreamSide bool
	}{
		{name: "client_closes"},
		{name: "upstream_closes", upstreamSide: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			userConn, clientEnd := net.Pipe()
			upstreamEnd, remoteConn := net.Pipe()
			defer userConn.Close()
			defer remoteConn.Close()

			done := make(chan RelayResult, 1)
			go func() {
				done <- Relay(ctx, clientEnd, upstreamEnd, RelayOptions{})
			}()

			writer, reader := userConn, remoteConn
			if tt.upstreamSide {
				writer, reader = remoteConn, userConn
			}

			payload := []byte("hello")
			got := make(chan []byte, 1)
			go func() {
				b, _ := io.ReadAll(reader)
				got <- b
			}()

			if _, err := writer.Write(payload); err != nil {
				t.Fatal(err)
			}
			_ = writer.Close()

			select {
			case b := <-got:
				if !bytes.Equal(b, payload) {
					t.Fatalf("peer got %q want %q", b, payload)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("peer never saw EOF")
			}

			res := waitRelay(t, done)
			if err := res.Err(); err != nil {
				t.Fatalf("unexpected relay error: %v", err)
			}
		})
	}
}

func TestRelayUpstreamResetAborts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userConn, clientEnd := testutil.TCPPair(t)
	upstreamEnd, remoteConn := testutil.TCPPair(t)

	done := make(chan RelayResult, 1)
	go func() {
		done <- Relay(ctx, clientEnd, upstreamEnd, RelayOptions{})
	}()

	testutil.AssertEcho(t, userConn, remoteConn, []byte("ping"))

	// Linger 0 turns Close into a reset.
	_ = remoteConn.SetLinger(0)
	_ = remoteConn.Close()

	res := waitRelay(t, done)
	if res.Outbound.Err == nil {
		t.Fatalf("expected upstream->client error, got %+v", res)
	}
	if res.Inbound.Err != nil {
		t.Fatalf("client->upstream should end as a consequence of the abort, got %v", res.Inbound.Err)
	}

	// The client endpoint was closed by the abort.
	_ = userConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadAll(userConn); errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatal("client endpoint was left open")
	}
}

func TestRelayContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := startRelay(ctx, t, RelayOptions{})

	cancel()

	res := waitRelay(t, done)
	if !res.Canceled || !errors.Is(res.Err(), context.Canceled) {
		t.Fatalf("expected cancellation, got %+v", res)
	}
	if res.Inbound.Err != nil || res.Outbound.Err != nil {
		t.Fatalf("direction errors should be suppressed after cancel: %+v", res)
	}
}

func TestRelayIdleTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, _, done := startRelay(ctx, t, RelayOptions{IdleTimeout: 100 * time.Millisecond})

	res := waitRelay(t, done)
	if !errors.Is(res.Err(), errIdle) {
		t.Fatalf("expected idle timeout, got %v", res.Err())
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("relay ended before the idle timeout")
	}
}

func TestRelayIdleTimeoutOneWayStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, remote, done := startRelay(ctx, t, RelayOptions{IdleTimeout: 200 * time.Millisecond})

	const ticks = 10
	g := errgroup.Group{}
	g.Go(func() error {
		// Only upstream->client moves data; client->upstream stays idle well
		// past the timeout.
		for range ticks {
			if _, err := remote.Write([]byte{'x'}); err != nil {
				return err
			}
			time.Sleep(50 * time.Millisecond)
		}
		return remote.CloseWrite()
	})

	got, err := io.ReadAll(user)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != ticks {
		t.Fatalf("got %d bytes want %d", len(got), ticks)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	_ = user.CloseWrite()
	res := waitRelay(t, done)
	if err := res.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool(10)
	if p.Size() != MinBufferSize {
		t.Fatalf("got %d want %d", p.Size(), MinBufferSize)
	}
	b := p.Get()
	if len(b) != MinBufferSize {
		t.Fatalf("got len %d", len(b))
	}
	p.Put(b[:10])
	if got := p.Get(); len(got) != MinBufferSize {
		t.Fatalf("got len %d after put", len(got))
	}
	p.Put(make([]byte, 1)) // too small, dropped

	if NewBufferPool(0).Size() != DefaultBufferSize {
		t.Fatal("zero size should use the default")
	}
}
