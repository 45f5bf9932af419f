package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/edup2p/punch/server/rendezvous"
	"github.com/edup2p/punch/types"
	"github.com/edup2p/punch/types/msgpunch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Flags
var (
	listenIP    string
	modeFlag    string
	framingFlag string
	metricsAddr string
	logLevel    string
)

var programLevel = new(slog.LevelVar) // Info by default

var rootCmd = &cobra.Command{
	Use:   "rendezvous_server LISTEN_PORT",
	Short: "UDP rendezvous server for hole punching, with relay fallback",
	Long: `Pairs registering peers in arrival order and tells each the public endpoint of the other.

In relay mode it also forwards datagrams between paired peers until one of them exits.`,
	Args: cobra.ExactArgs(1),
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&listenIP, "listen-ip", "", "IP to bind to, all interfaces if empty")
	rootCmd.Flags().StringVar(&modeFlag, "mode", "relay", "server mode, relay or rendezvous")
	rootCmd.Flags().StringVar(&framingFlag, "framing", "plain", "wire framing, plain or identity")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this HTTP address, disabled if empty")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level, one of trace, debug, info, warn, error")
}

func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	slog.SetDefault(slog.New(h))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	port, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil || port == 0 {
		return fmt.Errorf("invalid listen port %q", args[0])
	}

	// Arguments are fine from here on, errors below are not usage errors.
	cmd.SilenceUsage = true

	level, err := types.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	programLevel.Set(level)

	mode, err := rendezvous.ParseMode(modeFlag)
	if err != nil {
		return err
	}

	framing, err := msgpunch.ParseFraming(framingFlag)
	if err != nil {
		return err
	}

	var ip netip.Addr
	if listenIP != "" {
		if ip, err = netip.ParseAddr(listenIP); err != nil {
			return fmt.Errorf("invalid listen ip: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := rendezvous.NewServer(rendezvous.Config{
		Mode:       mode,
		Framing:    framing,
		Registerer: reg,
	})

	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("could not listen for metrics: %w", err)
		}

		g.Go(func() error {
			return serveMetrics(ctx, ln, reg)
		})
	}

	g.Go(func() error {
		return server.ListenAndServe(ctx, netip.AddrPortFrom(ip, uint16(port)))
	})

	slog.Info("rendezvous server starting", "port", port, "mode", mode.String(), "framing", framing.String())

	return g.Wait()
}

// serveMetrics serves reg on ln until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpsrv := &http.Server{
		Handler: mux,

		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := httpsrv.Shutdown(context.Background()); err != nil {
			slog.Warn("metrics: failed to shut down", "err", err)
		}
	}()

	slog.Info("metrics: serving", "addr", ln.Addr())

	if err := httpsrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}
