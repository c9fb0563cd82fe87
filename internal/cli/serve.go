package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/txwatch/internal/alert"
	"github.com/ppiankov/txwatch/internal/audit"
	"github.com/ppiankov/txwatch/internal/config"
	"github.com/ppiankov/txwatch/internal/coordinator"
	"github.com/ppiankov/txwatch/internal/intercept"
	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/panel"
	"github.com/ppiankov/txwatch/internal/provider"
	"github.com/ppiankov/txwatch/internal/relay"
	"github.com/ppiankov/txwatch/internal/review"
	"github.com/ppiankov/txwatch/internal/server"
	"github.com/ppiankov/txwatch/internal/store"
)

var serveUpstream string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "Also run the wallet proxy in-process against this wallet RPC URL")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the approval coordinator",
	Long: `Runs the coordinator with its relay hub, review panel and gRPC API.

Page contexts connect to the relay hub; reviewers use the panel, the
terminal (txwatch review) or the MCP server. With --upstream the wallet
proxy runs in the same process and talks to the coordinator directly.
The config file is watched; log level and alert webhooks reload live.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	log := logging.New("serve")

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	metrics, err := coordinator.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var auditor coordinator.Auditor
	if cfg.Audit.Enabled {
		path := cfg.Audit.Path
		if path == "" {
			path = audit.DefaultPath()
		}
		auditLog, err := audit.Open(path)
		if err != nil {
			return err
		}
		defer auditLog.Close()
		auditor = auditLog
		log.Info("audit log enabled", "path", path)
	}

	alerts := alert.NewDispatcher(cfg.Alerts, logging.New("alert"))
	coord, err := coordinator.New(coordinator.Options{
		Store: st,
		History: coordinator.HistoryPolicy{
			Discard:  cfg.Coordinator.DiscardHistory,
			Capacity: cfg.Coordinator.HistoryCapacity,
		},
		PendingTTL: cfg.Coordinator.PendingTTL,
		Audit:      auditor,
		Alerts:     alerts,
		Metrics:    metrics,
		Logger:     logging.New("coordinator"),
	})
	if err != nil {
		return err
	}

	hub := relay.NewHub(coord, relay.HubConfig{Token: cfg.Relay.Token, Logger: logging.New("relay")})
	coord.SetNotifier(hub)

	analyzer, err := buildAnalyzer(ctx, cfg.Analysis)
	if err != nil {
		return err
	}
	surface := review.NewSurface(coord, analyzer, logging.New("review"))
	ui := panel.New(surface, coord, panel.Config{Gatherer: reg, Logger: logging.New("panel")})
	coord.SetPresenter(ui)
	unsubscribe := coord.Subscribe(ui.Publish)
	defer unsubscribe()

	api := server.New(coord, logging.New("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Start(gctx, cfg.Relay.Addr) })
	g.Go(func() error { return coord.Run(gctx, cfg.Coordinator.SweepInterval) })
	g.Go(func() error { return api.Start(gctx, cfg.APIAddr) })
	g.Go(func() error { return ui.Start(gctx, cfg.PanelAddr) })

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		logging.SetLevel(next.LogLevel)
		coord.SetAlerter(alert.NewDispatcher(next.Alerts, logging.New("alert")))
	}, logging.New("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: config reload disabled: %v\n", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if serveUpstream != "" {
		if err := runLocalProxy(gctx, g, hub); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "txwatch coordinator running\n")
	fmt.Fprintf(os.Stderr, "  relay: ws://%s/relay\n", cfg.Relay.Addr)
	fmt.Fprintf(os.Stderr, "  panel: http://%s/\n", cfg.PanelAddr)
	fmt.Fprintf(os.Stderr, "  api:   %s\n", cfg.APIAddr)
	if serveUpstream != "" {
		fmt.Fprintf(os.Stderr, "  proxy: http://%s -> %s\n", cfg.Proxy.Addr, serveUpstream)
	}
	fmt.Fprintln(os.Stderr)

	err = g.Wait()
	alerts.Wait()
	return err
}

// runLocalProxy wires an interceptor straight into the hub, skipping the websocket hop.
func runLocalProxy(ctx context.Context, g *errgroup.Group, hub *relay.Hub) error {
	pc := cfg.Proxy
	pc.Upstream = serveUpstream
	upstream, err := buildUpstream(pc)
	if err != nil {
		return err
	}
	ic := newInterceptor(pc)
	link := hub.Local(ic.ContextID())
	ic.SetPublisher(relay.New(link, ic.Deliver, logging.New("relay")))

	binding := provider.NewBinding()
	ic.Attach(binding)
	binding.Set(upstream)

	px := intercept.NewProxy(ic, intercept.ProxyConfig{
		Addr:      pc.Addr,
		RateLimit: pc.RateLimit,
		Burst:     pc.Burst,
		Logger:    logging.New("proxy"),
	})
	g.Go(func() error {
		defer link.Close()
		return px.Start(ctx)
	})
	return nil
}
