package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socks5d/internal/dialer"
	"github.com/die-net/socks5d/internal/events"
	"github.com/die-net/socks5d/internal/proxy"
)

const usageLine = "usage: socks5d [flags] <port>"

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
	port        int
	listenHost  string
	upstream    string
	dnsServer   string
	debugListen string

	dialTimeout        time.Duration
	negotiationTimeout time.Duration
	idleTimeout        time.Duration

	keepAlive net.KeepAliveConfig
	bindReply proxy.BindReplyMode
	reusePort bool
	verbose   bool
}

// parseFlags parses args into options. Usage problems are reported on stderr
// and returned wrapped in errUsage.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := pflag.NewFlagSet("socks5d", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}

	var (
		o            options
		tcpKeepAlive string
		bindReply    string
	)
	fs.StringVar(&o.listenHost, "listen-host", "0.0.0.0", "Address to bind the SOCKS5 listener to")
	fs.StringVar(&o.upstream, "upstream", defaultUpstream(), "Upstream forwarding target URL: direct:// | socks5://[user:pass@]host:port | http://[user:pass@]host:port")
	fs.StringVar(&o.dnsServer, "dns-server", "", "DNS server (ip[:port]) used to resolve domain destinations. Empty uses the system resolver.")
	fs.StringVar(&o.debugListen, "debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
	fs.DurationVar(&o.negotiationTimeout, "negotiation-timeout", 0, "Timeout for the SOCKS5 handshake and request. Zero disables.")
	fs.DurationVar(&o.idleTimeout, "idle-timeout", 0, "Close relays that moved no data in either direction for this long. Zero disables.")
	fs.StringVar(&tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.StringVar(&bindReply, "bind-reply", "zero", "BND.ADDR in success replies: zero (0.0.0.0:0) | local (upstream socket address)")
	fs.BoolVar(&o.reusePort, "reuse-port", false, "Set SO_REUSEPORT on the listener")
	fs.BoolVar(&o.verbose, "verbose", false, "Enable per-connection logging")

	if !proxy.ReusePortSupported {
		_ = fs.MarkHidden("reuse-port")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return o, err
		}
		fmt.Fprintf(stderr, "socks5d: %v\n", err)
		fs.Usage()
		return o, fmt.Errorf("%w: %w", errUsage, err)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return o, errUsage
	}
	port, err := parsePort(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "socks5d: %v\n", err)
		fs.Usage()
		return o, fmt.Errorf("%w: %w", errUsage, err)
	}
	o.port = port

	if o.keepAlive, err = proxy.ParseKeepAlive(tcpKeepAlive); err != nil {
		return o, fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	if o.bindReply, err = proxy.ParseBindReplyMode(bindReply); err != nil {
		return o, fmt.Errorf("invalid --bind-reply: %w", err)
	}
	return o, nil
}

func run(args []string) error {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg := proxy.Config{
		NegotiationTimeout: o.negotiationTimeout,
		IdleTimeout:        o.idleTimeout,
		BindReply:          o.bindReply,
		Events:             events.NewSlogSink(newLogger(o.verbose)),
	}

	cfg.Dialer, err = dialer.New(dialer.Config{
		DialTimeout:        o.dialTimeout,
		NegotiationTimeout: o.dialTimeout,
		KeepAlive:          o.keepAlive,
		DNSServer:          o.dnsServer,
	}, o.upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.debugListen != "" {
		if err := serveDebug(ctx, g, o.debugListen); err != nil {
			return err
		}
	}

	addr := net.JoinHostPort(o.listenHost, strconv.Itoa(o.port))
	ln, err := proxy.Listen(ctx, addr, proxy.ListenOptions{KeepAlive: o.keepAlive, ReusePort: o.reusePort})
	if err != nil {
		return err
	}

	s5 := proxy.NewSOCKS5Server(ctx, cfg)
	g.Go(func() error {
		if err := s5.Serve(ln); err != nil {
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})
	log.Printf("socks5 proxy listening on %s, upstream %s", ln.Addr(), o.upstream)

	err = g.Wait()
	log.Print("shutting down")
	return err
}

// serveDebug exposes net/http/pprof on addr until ctx is done.
func serveDebug(ctx context.Context, g *errgroup.Group, addr string) error {
	debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
	ln, err := proxy.Listen(ctx, addr, proxy.ListenOptions{})
	if err != nil {
		return fmt.Errorf("debug listen: %w", err)
	}
	context.AfterFunc(ctx, func() {
		_ = debugSrv.Close()
	})

	g.Go(func() error {
		if err := debugSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug serve: %w", err)
		}
		return nil
	})
	log.Printf("debug listening on %s", ln.Addr())
	return nil
}

// newLogger returns the slog logger backing per-connection events. Without
// verbose only errors are written.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}

// defaultUpstream honors ALL_PROXY, then all_proxy.
func defaultUpstream() string {
	for _, k := range []string{"ALL_PROXY", "all_proxy"} {
		if p := os.Getenv(k); p != "" {
			return p
		}
	}
	return "direct://"
}
