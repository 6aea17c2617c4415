package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Relay direction labels, as reported in DirectionResult.
const (
	LabelInbound  = "client->upstream"
	LabelOutbound = "upstream->client"
)

var errIdle = errors.New("idle timeout")

// RelayOptions tunes Relay. The zero value relays with default buffers and no
// idle timeout.
type RelayOptions struct {
	IdleTimeout time.Duration
	Buffers     *BufferPool
}

// DirectionResult describes how one copy loop ended. Err is nil when the
// source reached EOF, or when the loop was torn down because the other
// direction failed.
type DirectionResult struct {
	Label string
	Bytes int64
	Err   error
}

// RelayResult is returned once both directions have ended.
type RelayResult struct {
	Inbound  DirectionResult
	Outbound DirectionResult

	// Canceled is set when ctx ended the relay.
	Canceled bool
}

// Err returns the errors of both directions joined, or nil.
func (r RelayResult) Err() error {
	var ctxErr error
	if r.Canceled {
		ctxErr = context.Canceled
	}
	return errors.Join(r.Inbound.Err, r.Outbound.Err, ctxErr)
}

var defaultBuffers = NewBufferPool(DefaultBufferSize)

// Relay copies client->upstream on a new goroutine and upstream->client on
// the calling one, returning once both loops have ended.
//
// When a source reaches EOF the write half of its destination is closed, so
// the peer sees the half-close in both directions. Endpoints that cannot
// half-close are closed fully, which also ends the opposite direction's reads
// from them without an error. Any I/O error aborts the relay by closing both
// endpoints, and so does canceling ctx.
//
// Relay does not close the endpoints after a clean finish; that is left to
// the caller.
func Relay(ctx context.Context, client, upstream net.Conn, opts RelayOptions) RelayResult {
	if opts.Buffers == nil {
		opts.Buffers = defaultBuffers
	}

	r := &relay{opts: opts}
	r.touch()

	var closeOnce sync.Once
	r.abort = func() {
		closeOnce.Do(func() {
			r.aborted.Store(true)
			_ = client.Close()
			_ = upstream.Close()
		})
	}

	// If the context is canceled, close both sides to unblock the copies.
	canceled := atomic.Bool{}
	stop := context.AfterFunc(ctx, func() {
		canceled.Store(true)
		r.abort()
	})
	defer stop()

	in := &direction{label: LabelInbound, src: client, dst: upstream}
	out := &direction{label: LabelOutbound, src: upstream, dst: client}
	in.reverse, out.reverse = out, in

	var g errgroup.Group
	g.Go(func() error {
		r.copy(in)
		return in.err
	})
	r.copy(out)
	_ = g.Wait()

	return RelayResult{
		Inbound:  in.result(),
		Outbound: out.result(),
		Canceled: canceled.Load(),
	}
}

type relay struct {
	opts    RelayOptions
	abort   func()
	aborted atomic.Bool

	// lastActive is the UnixNano time either direction last moved data.
	lastActive atomic.Int64
}

func (r *relay) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

// idleFor reports how long it has been since either direction moved data.
func (r *relay) idleFor() time.Duration {
	return time.Since(time.Unix(0, r.lastActive.Load()))
}

type direction struct {
	label string
	src   net.Conn
	dst   net.Conn

	// reverse reads from dst. Its srcClosed is set when this direction
	// had to close dst fully.
	reverse   *direction
	srcClosed atomic.Bool

	bytes int64
	err   error
}

func (d *direction) result() DirectionResult {
	return DirectionResult{Label: d.label, Bytes: d.bytes, Err: d.err}
}

func (r *relay) copy(d *direction) {
	buf := r.opts.Buffers.Get()
	defer r.opts.Buffers.Put(buf)

	idle := r.opts.IdleTimeout
	for {
		if idle > 0 {
			_ = d.src.SetReadDeadline(time.Now().Add(idle))
		}

		n, rerr := d.src.Read(buf)
		if n > 0 {
			r.touch()
			w, werr := d.dst.Write(buf[:n])
			d.bytes += int64(w)
			if werr == nil && w != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				d.fail(r, "write", werr)
				return
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			d.closeWrite()
			return
		case d.srcClosed.Load():
			// The reverse direction finished and closed src.
			return
		case idle > 0 && errors.Is(rerr, os.ErrDeadlineExceeded) && r.idleFor() < idle:
			// The other direction is still active.
		case idle > 0 && errors.Is(rerr, os.ErrDeadlineExceeded):
			d.fail(r, "read", errIdle)
			return
		default:
			d.fail(r, "read", rerr)
			return
		}
	}
}

// fail records err for d unless the relay was already aborted, in which case
// the error is only a consequence of that abort.
func (d *direction) fail(r *relay, op string, err error) {
	if !r.aborted.Load() {
		d.err = fmt.Errorf("%s %s: %w", d.label, op, err)
	}
	r.abort()
}

type closeWriter interface {
	CloseWrite() error
}

// closeWrite half-closes dst, or closes it fully when it has no CloseWrite.
func (d *direction) closeWrite() {
	if cw, ok := d.dst.(closeWriter); ok {
		_ = cw.CloseWrite()
		return
	}
	d.reverse.srcClosed.Store(true)
	_ = d.dst.Close()
}
