package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/pipechat/internal/broker"
	"github.com/Tyrowin/pipechat/internal/config"
	"github.com/Tyrowin/pipechat/internal/monitor"
)

const (
	serverCmdName   = "server"
	shutdownTimeout = 5 * time.Second
)

type serverOptions struct {
	maxSessions   int
	strictFraming bool
	keepFiles     bool
	openTimeout   time.Duration
	monitorAddr   string
}

func newServerCmd(root *rootOptions) *cobra.Command {
	opts := &serverOptions{}

	cmd := &cobra.Command{
		Use:   serverCmdName,
		Short: "Run the chat broker",
		Long: `Run the broker: accept handshakes on the control FIFO, relay every
participant's messages to all others, and print each relayed line.

With --monitor-addr the broker also serves a read-only WebSocket feed of
joins, leaves, and messages at /ws, plus /stats and a small page at /view.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			return runServer(cmd, cfg, log)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.maxSessions, "max-sessions", broker.DefaultMaxSessions, "maximum concurrent participants")
	flags.BoolVar(&opts.strictFraming, "strict-framing", false, "stop the broker when a participant sends a malformed record")
	flags.BoolVar(&opts.keepFiles, "keep-files", false, "leave a participant's FIFOs in place after it leaves")
	flags.DurationVar(&opts.openTimeout, "open-timeout", 0, "give up on a handshake whose client never opens its FIFOs (0 waits forever)")
	flags.StringVar(&opts.monitorAddr, "monitor-addr", "", "serve the WebSocket monitor on this address, e.g. :8080")
	return cmd
}

func (o *serverOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-sessions") {
		cfg.MaxSessions = o.maxSessions
	}
	if flags.Changed("strict-framing") {
		cfg.StrictFraming = o.strictFraming
	}
	if flags.Changed("keep-files") {
		cfg.KeepFiles = o.keepFiles
	}
	if flags.Changed("open-timeout") {
		cfg.OpenTimeout = o.openTimeout
	}
	if flags.Changed("monitor-addr") {
		cfg.Monitor.Addr = o.monitorAddr
	}
	*cfg = config.Sanitize(*cfg)
}

func runServer(cmd *cobra.Command, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	brokerOpts := []broker.Option{
		broker.WithLogger(log),
		broker.WithTranscript(cmd.OutOrStdout(), true),
	}

	if cfg.Monitor.Addr != "" {
		hub := monitor.NewHub(log)
		brokerOpts = append(brokerOpts, broker.WithObserver(hub))
		startMonitor(gctx, g, hub, cfg.Monitor, log)
	}

	b := broker.New(cfg.Broker(), brokerOpts...)
	g.Go(func() error {
		return b.Run(gctx)
	})
	return g.Wait()
}

// startMonitor serves the event feed until ctx ends, then drains watchers.
func startMonitor(ctx context.Context, g *errgroup.Group, hub *monitor.Hub, cfg config.MonitorConfig, log zerolog.Logger) {
	srv := monitor.CreateServer(cfg.Addr, monitor.NewServer(hub, cfg.AllowedOrigins, log).Routes())

	go hub.Run()
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Strs("allowed_origins", cfg.AllowedOrigins).Msg("Monitor listening")
		return monitor.StartServer(srv)
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := monitor.ShutdownServer(srv, shutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("Monitor did not shut down cleanly")
		}
		if err := hub.Shutdown(shutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("Monitor hub did not drain")
		}
		return nil
	})
}
