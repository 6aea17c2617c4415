package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenOptions configures Listen.
type ListenOptions struct {
	// KeepAlive is applied to every accepted connection.
	KeepAlive net.KeepAliveConfig

	// ReusePort sets SO_REUSEPORT so several processes can share the port.
	ReusePort bool
}

// Listen opens a TCP listener on addr.
func Listen(ctx context.Context, addr string, opts ListenOptions) (*net.TCPListener, error) {
	lc := net.ListenConfig{KeepAliveConfig: opts.KeepAlive}
	if !opts.KeepAlive.Enable {
		lc.KeepAlive = -1
	}
	if opts.ReusePort {
		lc.Control = reusePortControl
	}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln.(*net.TCPListener), nil
}
