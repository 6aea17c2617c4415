package testutil

import (
	"context"
	"net"
	"testing"
)

// StartSingleAcceptServer hands the first accepted connection to handler and
// closes it when handler returns. The returned func closes the listener and
// blocks until handler is done.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	ln := listenLoopback(t, ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()

	return ln, func() {
		_ = ln.Close()
		<-done
	}
}

// ClosedPort returns a loopback address nothing listens on.
func ClosedPort(t *testing.T) string {
	t.Helper()

	ln := listenLoopback(t, context.Background())
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
