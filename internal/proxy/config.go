package proxy

import (
	"fmt"
	"strings"
	"time"

	"github.com/die-net/socks5d/internal/dialer"
	"github.com/die-net/socks5d/internal/events"
)

type Config struct {
	// NegotiationTimeout bounds handshake, request and reply. Zero disables
	// it.
	NegotiationTimeout time.Duration

	// IdleTimeout aborts a relay when neither direction moved data for this
	// long. Zero disables it.
	IdleTimeout time.Duration

	// BufferSize is the per-direction relay buffer. Values under
	// MinBufferSize are raised to it; zero uses DefaultBufferSize.
	BufferSize int

	BindReply BindReplyMode

	Dialer dialer.Dialer

	// Events receives per-connection diagnostics. Nil discards them.
	Events events.Sink
}

// BindReplyMode selects what BND.ADDR/BND.PORT carry in a success reply.
type BindReplyMode int

const (
	// BindZero always replies 0.0.0.0:0.
	BindZero BindReplyMode = iota
	// BindLocal replies with the upstream socket's local address.
	BindLocal
)

func (m BindReplyMode) String() string {
	switch m {
	case BindZero:
		return "zero"
	case BindLocal:
		return "local"
	default:
		return fmt.Sprintf("BindReplyMode(%d)", int(m))
	}
}

// ParseBindReplyMode parses "zero" or "local".
func ParseBindReplyMode(s string) (BindReplyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zero", "":
		return BindZero, nil
	case "local":
		return BindLocal, nil
	default:
		return BindZero, fmt.Errorf("expected zero|local, got %q", s)
	}
}

func (cfg Config) events() events.Sink {
	if cfg.Events == nil {
		return events.Discard
	}
	return cfg.Events
}
