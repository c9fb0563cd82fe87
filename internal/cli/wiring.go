package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/ppiankov/txwatch/internal/analysis"
	"github.com/ppiankov/txwatch/internal/client"
	"github.com/ppiankov/txwatch/internal/config"
	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/provider"
	"github.com/ppiankov/txwatch/internal/review"
)

// backendNone disables risk analysis entirely.
const backendNone = "none"

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildAnalyzer returns nil when analysis is switched off.
func buildAnalyzer(ctx context.Context, c analysis.Config) (analysis.Service, error) {
	if strings.EqualFold(c.Backend, backendNone) {
		return nil, nil
	}
	svc, err := analysis.New(ctx, c, logging.New("analysis"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up analysis: %w", err)
	}
	return svc, nil
}

// buildUpstream connects to the wallet endpoint and any named secondaries.
func buildUpstream(p config.ProxyConfig) (provider.Provider, error) {
	if p.Upstream == "" {
		return nil, fmt.Errorf("proxy.upstream is required")
	}
	primary := provider.NewHTTP(p.Upstream, p.UpstreamTimeout, p.Headers)
	if len(p.Secondaries) == 0 {
		return primary, nil
	}
	names := make([]string, 0, len(p.Secondaries))
	for name := range p.Secondaries {
		names = append(names, name)
	}
	sort.Strings(names)
	named := make([]provider.Named, 0, len(names))
	for _, name := range names {
		named = append(named, provider.Named{
			Name:     name,
			Provider: provider.NewHTTP(p.Secondaries[name], p.UpstreamTimeout, p.Headers),
		})
	}
	return provider.NewGroup(primary, named...)
}

// remoteSurface opens a review surface backed by the running coordinator.
func remoteSurface(ctx context.Context) (*review.Surface, *client.Client, error) {
	c, err := client.New(cfg.APIAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to coordinator at %s: %w", cfg.APIAddr, err)
	}
	analyzer, err := buildAnalyzer(ctx, cfg.Analysis)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return review.NewSurface(c, analyzer, logging.New("review")), c, nil
}

// truncate shortens s to max runes for table output.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
