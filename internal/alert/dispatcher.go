package alert

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/ppiankov/txwatch/internal/logging"
)

// Dispatcher fans events out to matching webhooks without blocking the caller.
type Dispatcher struct {
	configs []Config
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher returns nil when configs is empty; a nil Dispatcher drops events.
func NewDispatcher(configs []Config, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs, log: logging.OrDiscard(logger)}
}

// Dispatch sends event to every webhook whose Events list names it.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !slices.Contains(cfg.Events, event.Event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg Config) {
			defer d.wg.Done()
			if err := Send(cfg, event); err != nil {
				d.log.Warn("alert delivery failed", "url", cfg.URL, "event", event.Event, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
