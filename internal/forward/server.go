package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/die-net/socks5d/internal/dialer"
	"github.com/die-net/socks5d/internal/events"
	"github.com/die-net/socks5d/internal/proxy"
)

type Config struct {
	// Remote is the host:port every connection is forwarded to.
	Remote string

	Dialer dialer.Dialer

	IdleTimeout time.Duration
	BufferSize  int

	// Events receives per-connection diagnostics. Nil discards them.
	Events events.Sink
}

type Server struct {
	ctx     context.Context
	cfg     Config
	events  events.Sink
	buffers *proxy.BufferPool
	wg      sync.WaitGroup
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Remote == "" {
		return nil, errors.New("forward: missing remote address")
	}
	if _, _, err := net.SplitHostPort(cfg.Remote); err != nil {
		return nil, fmt.Errorf("forward: remote %q: %w", cfg.Remote, err)
	}
	if cfg.Dialer == nil {
		return nil, errors.New("forward: missing dialer")
	}

	sink := cfg.Events
	if sink == nil {
		sink = events.Discard
	}
	return &Server{
		ctx:     ctx,
		cfg:     cfg,
		events:  sink,
		buffers: proxy.NewBufferPool(cfg.BufferSize),
	}, nil
}

// Serve accepts connections on ln and forwards each one to the remote. It
// returns nil once ctx is canceled and every connection has been torn down.
func (s *Server) Serve(ln net.Listener) error {
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
			id := c.RemoteAddr().String()
			if err := s.handle(c); err != nil {
				s.events.RecordEvent(events.Info, id, err.Error())
			}
		}()
	}
}

func (s *Server) handle(conn net.Conn) error {
	defer conn.Close()

	id := conn.RemoteAddr().String()
	s.events.RecordEvent(events.Debug, id, "forward to "+s.cfg.Remote)

	up, err := s.cfg.Dialer.DialContext(s.ctx, "tcp", s.cfg.Remote)
	if err != nil {
		return &proxy.UpstreamConnectError{Addr: s.cfg.Remote, Err: err}
	}
	defer up.Close()

	res := proxy.Relay(s.ctx, conn, up, proxy.RelayOptions{
		IdleTimeout: s.cfg.IdleTimeout,
		Buffers:     s.buffers,
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	s.events.RecordEvent(events.Info, id, fmt.Sprintf("closed %s: sent %d, received %d",
		s.cfg.Remote, res.Inbound.Bytes, res.Outbound.Bytes))
	return nil
}
