// Command socks5-local forwards a local TCP port to one fixed remote
// address, optionally through an upstream SOCKS5 proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/die-net/socks5d/internal/dialer"
	"github.com/die-net/socks5d/internal/events"
	"github.com/die-net/socks5d/internal/forward"
	"github.com/die-net/socks5d/internal/proxy"
)

const usageLine = "usage: socks5-local [flags] <port> <remote>"

var errUsage = errors.New("invalid command line")

func main() {
	if err := run(os.Args[1:]); err != nil {
		switch {
		case errors.Is(err, pflag.ErrHelp):
			os.Exit(0)
		case errors.Is(err, errUsage):
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	port       uint64
	remote     string
	listenHost string
	upstream   string

	dialTimeout time.Duration
	idleTimeout time.Duration
	keepAlive   net.KeepAliveConfig
	verbose     bool
}

// parseFlags parses args into options. Usage problems are reported on stderr
// and returned wrapped in errUsage.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := pflag.NewFlagSet("socks5-local", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}

	var (
		o            options
		tcpKeepAlive string
	)
	fs.StringVar(&o.listenHost, "listen-host", "127.0.0.1", "Address to bind the forwarding listener to")
	fs.StringVar(&o.upstream, "upstream", "direct://", "Upstream forwarding target URL: direct:// | socks5://[user:pass@]host:port | http://[user:pass@]host:port")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for outbound TCP connect")
	fs.DurationVar(&o.idleTimeout, "idle-timeout", 0, "Close connections that moved no data in either direction for this long. Zero disables.")
	fs.StringVar(&tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.BoolVar(&o.verbose, "verbose", false, "Enable per-connection logging")

	usage := func(err error) error {
		if err != nil {
			fmt.Fprintf(stderr, "socks5-local: %v\n", err)
		}
		fs.Usage()
		if err == nil {
			return errUsage
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return o, err
		}
		return o, usage(err)
	}
	if fs.NArg() != 2 {
		return o, usage(nil)
	}

	port, err := strconv.ParseUint(fs.Arg(0), 10, 16)
	if err != nil {
		return o, usage(fmt.Errorf("invalid port %q", fs.Arg(0)))
	}
	o.port = port
	o.remote = fs.Arg(1)

	if o.keepAlive, err = proxy.ParseKeepAlive(tcpKeepAlive); err != nil {
		return o, fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	return o, nil
}

func run(args []string) error {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        o.dialTimeout,
		NegotiationTimeout: o.dialTimeout,
		KeepAlive:          o.keepAlive,
	}, o.upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	level := slog.LevelError
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := forward.NewServer(ctx, forward.Config{
		Remote:      o.remote,
		Dialer:      d,
		IdleTimeout: o.idleTimeout,
		Events:      events.NewSlogSink(logger),
	})
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(o.listenHost, strconv.FormatUint(o.port, 10))
	ln, err := proxy.Listen(ctx, addr, proxy.ListenOptions{KeepAlive: o.keepAlive})
	if err != nil {
		return err
	}
	log.Printf("forwarding %s to %s", ln.Addr(), o.remote)

	err = srv.Serve(ln)
	log.Print("shutting down")
	return err
}
