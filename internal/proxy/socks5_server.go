package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/die-net/socks5d/internal/events"
)

// SOCKS5Server accepts SOCKS5 clients and runs one Session per connection.
type SOCKS5Server struct {
	ctx     context.Context
	cfg     Config
	buffers *BufferPool
	wg      sync.WaitGroup
}

// NewSOCKS5Server constructs a server. Canceling ctx stops Serve and tears
// down every session it started.
func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SOCKS5Server{ctx: ctx, cfg: cfg, buffers: NewBufferPool(cfg.BufferSize)}
}

// Serve accepts connections on ln until it fails. When the failure is caused
// by ctx being canceled, Serve waits for active sessions and returns nil.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	stop := context.AfterFunc(s.ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

func (s *SOCKS5Server) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			_ = conn.Close()
			s.cfg.events().RecordEvent(events.Error, conn.RemoteAddr().String(), fmt.Sprintf("session panic: %v", r))
		}
	}()

	_ = newSession(s.cfg, s.buffers, conn).Run(s.ctx)
}
