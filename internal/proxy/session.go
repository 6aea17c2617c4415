package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/die-net/socks5d/internal/events"
	"github.com/die-net/socks5d/internal/socks5"
)

// State is a session's position in the SOCKS5 exchange. States only move
// forward.
type State int

const (
	StateAwaitingHandshake State = iota
	StateAwaitingRequest
	StateConnecting
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateConnecting:
		return "connecting"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session serves one accepted SOCKS5 client connection. It is not safe for
// concurrent use; State, Err and Result are meant to be read after Run
// returns.
type Session struct {
	cfg     Config
	buffers *BufferPool
	events  events.Sink
	id      string

	client   net.Conn
	upstream net.Conn

	state  State
	dest   socks5.Destination
	err    error
	result RelayResult
}

// NewSession returns a session owning client. cfg.Dialer must be set.
func NewSession(cfg Config, client net.Conn) *Session {
	return newSession(cfg, nil, client)
}

func newSession(cfg Config, buffers *BufferPool, client net.Conn) *Session {
	if buffers == nil {
		buffers = NewBufferPool(cfg.BufferSize)
	}
	id := "unknown"
	if ra := client.RemoteAddr(); ra != nil {
		id = ra.String()
	}
	return &Session{
		cfg:     cfg,
		buffers: buffers,
		events:  cfg.events(),
		id:      id,
		client:  client,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Err returns the reason the session closed, or nil for a clean relay.
func (s *Session) Err() error { return s.err }

// Destination returns the requested destination, once parsed.
func (s *Session) Destination() socks5.Destination { return s.dest }

// Result returns the relay outcome. It is zero unless the session reached
// StateRelaying.
func (s *Session) Result() RelayResult { return s.result }

// Run drives the session to StateClosed. Both endpoints are closed on every
// return path.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() { s.finish(err) }()

	if s.cfg.NegotiationTimeout > 0 {
		_ = s.client.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	// Unblock negotiation reads if ctx ends before the relay takes over.
	stop := context.AfterFunc(ctx, func() {
		_ = s.client.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := socks5.Negotiate(s.client); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	s.enter(StateAwaitingRequest)

	req, err := socks5.ReadRequest(s.client)
	if err != nil {
		if socks5.IsProtocolError(err) && !errors.Is(err, socks5.ErrUnsupportedVersion) {
			s.reply(socks5.FailureReply(err))
		}
		return fmt.Errorf("request: %w", err)
	}
	s.dest = req.Dest
	s.enter(StateConnecting)
	s.events.RecordEvent(events.Debug, s.id, "connect "+s.dest.String())

	up, err := s.cfg.Dialer.DialContext(ctx, "tcp", s.dest.String())
	if err != nil {
		err = &UpstreamConnectError{Addr: s.dest.String(), Err: err}
		s.reply(socks5.FailureReply(err))
		return err
	}
	s.upstream = up

	if _, err := s.successReply().WriteTo(s.client); err != nil {
		return fmt.Errorf("reply: %w", err)
	}

	if !stop() {
		return ctx.Err()
	}
	if s.cfg.NegotiationTimeout > 0 {
		_ = s.client.SetDeadline(time.Time{})
	}

	s.enter(StateRelaying)
	s.result = Relay(ctx, s.client, s.upstream, RelayOptions{
		IdleTimeout: s.cfg.IdleTimeout,
		Buffers:     s.buffers,
	})
	return s.result.Err()
}

func (s *Session) enter(next State) {
	if next > s.state {
		s.state = next
	}
}

func (s *Session) successReply() socks5.Reply {
	if s.cfg.BindReply == BindLocal {
		return socks5.SuccessReply(s.upstream.LocalAddr())
	}
	return socks5.SuccessReply(nil)
}

// reply writes a best-effort failure reply.
func (s *Session) reply(r socks5.Reply) {
	_, _ = r.WriteTo(s.client)
}

func (s *Session) finish(err error) {
	s.err = err
	s.enter(StateClosed)

	if s.upstream != nil {
		_ = s.upstream.Close()
	}
	_ = s.client.Close()

	s.record()
}

func (s *Session) record() {
	var upErr *UpstreamConnectError
	switch {
	case s.err == nil:
		s.events.RecordEvent(events.Info, s.id, fmt.Sprintf("closed %s: sent %d, received %d",
			s.dest, s.result.Inbound.Bytes, s.result.Outbound.Bytes))
	case socks5.IsProtocolError(s.err), errors.As(s.err, &upErr):
		s.events.RecordEvent(events.Warn, s.id, s.err.Error())
	default:
		s.events.RecordEvent(events.Info, s.id, s.err.Error())
	}
}
