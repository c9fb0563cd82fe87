package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/txwatch/internal/logging"
)

// Backend names.
const (
	BackendHeuristic = "heuristic"
	BackendOpenAI    = "openai"
	BackendBedrock   = "bedrock"
)

// Config selects and configures an analysis backend.
type Config struct {
	Backend   string        `yaml:"backend"`
	APIURL    string        `yaml:"api_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Region    string        `yaml:"region"`
	CacheSize int           `yaml:"cache_size"`
	// Fallback answers with heuristics when the model backend fails.
	Fallback bool `yaml:"fallback"`
}

// New builds the configured backend wrapped in a verdict cache.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Cached, error) {
	var svc Service
	switch cfg.Backend {
	case "", BackendHeuristic:
		svc = Heuristic{}
	case BackendOpenAI:
		if cfg.APIURL == "" {
			return nil, fmt.Errorf("analysis: api_url is required for the openai backend")
		}
		svc = NewOpenAI(OpenAIConfig{
			APIURL:    cfg.APIURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
	case BackendBedrock:
		b, err := NewBedrock(ctx, BedrockConfig{
			Region:    cfg.Region,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		svc = b
	default:
		return nil, fmt.Errorf("analysis: unknown backend %q", cfg.Backend)
	}
	if cfg.Fallback && cfg.Backend != "" && cfg.Backend != BackendHeuristic {
		svc = &Fallback{Primary: svc, Secondary: Heuristic{}, Logger: logger}
	}
	return NewCached(svc, cfg.CacheSize)
}

// Fallback tries Primary and answers from Secondary when it fails.
type Fallback struct {
	Primary   Service
	Secondary Service
	Logger    *slog.Logger
}

func (f *Fallback) Analyze(ctx context.Context, req Request) (Verdict, error) {
	v, err := f.Primary.Analyze(ctx, req)
	if err == nil {
		return v, nil
	}
	logging.OrDiscard(f.Logger).Warn("analysis backend failed, using fallback", "id", req.ID, "error", err)
	v, ferr := f.Secondary.Analyze(ctx, req)
	if ferr != nil {
		return Verdict{}, err
	}
	v.Warnings = append(v.Warnings, "model analysis unavailable; showing rule-based result")
	return v, nil
}

func (f *Fallback) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	ch, err := f.Primary.Stream(ctx, req)
	if err == nil {
		return ch, nil
	}
	logging.OrDiscard(f.Logger).Warn("analysis stream failed, using fallback", "id", req.ID, "error", err)
	return f.Secondary.Stream(ctx, req)
}
