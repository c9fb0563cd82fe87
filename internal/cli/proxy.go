package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/txwatch/internal/config"
	"github.com/ppiankov/txwatch/internal/intercept"
	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/provider"
	"github.com/ppiankov/txwatch/internal/relay"
)

var (
	proxyAddr     string
	proxyUpstream string
	proxyRelay    string
)

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.Flags().StringVar(&proxyAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8545)")
	proxyCmd.Flags().StringVar(&proxyUpstream, "upstream", "", "Wallet JSON-RPC URL (overrides config)")
	proxyCmd.Flags().StringVar(&proxyRelay, "relay", "", "Coordinator relay address (overrides config)")
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Start the wallet proxy in front of a wallet RPC endpoint",
	Long: `Serves JSON-RPC to dapps as if it were the wallet. Signing and
transaction methods are held until the coordinator delivers a decision;
everything else passes straight through to the upstream wallet.

Usage: point the dapp's RPC URL at http://127.0.0.1:8545.
Send the page origin in the X-Txwatch-Origin header when it is known.
Editing proxy.upstream in the config rebinds the wallet without a restart.`,
	RunE: runProxy,
}

func runProxy(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	log := logging.New("proxy")

	pc := cfg.Proxy
	if proxyAddr != "" {
		pc.Addr = proxyAddr
	}
	if proxyUpstream != "" {
		pc.Upstream = proxyUpstream
	}
	relayAddr := cfg.Relay.Addr
	if proxyRelay != "" {
		relayAddr = proxyRelay
	}

	upstream, err := buildUpstream(pc)
	if err != nil {
		return err
	}
	ic := newInterceptor(pc)
	link := relay.NewClient(relay.ClientConfig{
		URL:       relayURL(relayAddr),
		ContextID: ic.ContextID(),
		Token:     cfg.Relay.Token,
		Logger:    logging.New("relay"),
	})
	ic.SetPublisher(relay.New(link, ic.Deliver, logging.New("relay")))

	binding := provider.NewBinding()
	ic.Attach(binding)
	binding.Set(upstream)

	px := intercept.NewProxy(ic, intercept.ProxyConfig{
		Addr:      pc.Addr,
		RateLimit: pc.RateLimit,
		Burst:     pc.Burst,
		Logger:    log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return link.Run(gctx) })
	g.Go(func() error { return px.Start(gctx) })

	current := pc.Upstream
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		logging.SetLevel(next.LogLevel)
		if proxyUpstream != "" || next.Proxy.Upstream == current {
			return
		}
		p, err := buildUpstream(next.Proxy)
		if err != nil {
			log.Error("upstream not rebound", "error", err)
			return
		}
		current = next.Proxy.Upstream
		binding.Set(p)
		log.Info("upstream rebound", "upstream", current)
	}, logging.New("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: config reload disabled: %v\n", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	fmt.Fprintf(os.Stderr, "txwatch proxy listening on %s\n", pc.Addr)
	fmt.Fprintf(os.Stderr, "  upstream: %s\n", pc.Upstream)
	fmt.Fprintf(os.Stderr, "  relay:    %s\n", relayURL(relayAddr))
	fmt.Fprintf(os.Stderr, "  context:  %s\n\n", ic.ContextID())

	return g.Wait()
}

// newInterceptor builds the page-side interceptor from proxy config.
func newInterceptor(pc config.ProxyConfig) *intercept.Interceptor {
	return intercept.New(intercept.Config{
		ContextID:  pc.ContextID,
		Timeout:    pc.ApprovalTimeout,
		Classifier: model.NewClassifier(pc.ExtraMethods),
		Logger:     logging.New("intercept"),
	})
}

// relayURL turns a hub address into its websocket endpoint.
func relayURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + "/relay"
}
