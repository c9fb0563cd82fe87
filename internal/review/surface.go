// Package review is the human-facing side of the approval workflow. It
// never offers a call for decision twice and never treats a terminal call
// as actionable.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ppiankov/txwatch/internal/analysis"
	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
)

// ErrAlreadyDecided is returned when this surface already sent a decision
// for the id.
var ErrAlreadyDecided = errors.New("call already decided")

// ErrAnalysisDisabled means no analyzer is configured.
var ErrAnalysisDisabled = fmt.Errorf("%w: no analyzer configured", model.ErrAnalysisUnavailable)

// Backend is the coordinator contract a surface drives. Both the
// in-process coordinator and the gRPC client satisfy it.
type Backend interface {
	ListPending(ctx context.Context) ([]model.InterceptedCall, error)
	ListHistory(ctx context.Context) ([]model.InterceptedCall, error)
	Decide(ctx context.Context, id string, approved bool) (model.InterceptedCall, error)
	ClearPending(ctx context.Context) (int, error)
}

// Entry is a call as presented for review.
type Entry struct {
	model.InterceptedCall
	Actionable bool `json:"actionable"`
}

// Snapshot is one consistent view for rendering.
type Snapshot struct {
	Pending []Entry                 `json:"pending"`
	History []model.InterceptedCall `json:"history"`
}

// Advisory is the result of a risk analysis request. Err is set instead of
// Verdict when analysis failed; decision controls stay available either way.
type Advisory struct {
	ID      string            `json:"id"`
	Verdict *analysis.Verdict `json:"verdict,omitempty"`
	Err     string            `json:"error,omitempty"`
}

// Surface wraps a Backend with the review-side guarantees.
type Surface struct {
	backend  Backend
	analyzer analysis.Service
	decided  *lru.Cache[string, model.Status]
	log      *slog.Logger
}

// decidedMemory bounds how many locally decided ids are remembered.
const decidedMemory = 4096

// NewSurface creates a review surface. analyzer may be nil.
func NewSurface(backend Backend, analyzer analysis.Service, logger *slog.Logger) *Surface {
	decided, _ := lru.New[string, model.Status](decidedMemory)
	return &Surface{
		backend:  backend,
		analyzer: analyzer,
		decided:  decided,
		log:      logging.OrDiscard(logger),
	}
}

// Pending returns pending calls, marking those decided here as not actionable.
func (s *Surface) Pending(ctx context.Context) ([]Entry, error) {
	calls, err := s.backend.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	out := make([]Entry, 0, len(calls))
	for _, c := range calls {
		out = append(out, Entry{InterceptedCall: c, Actionable: s.actionable(c)})
	}
	return out, nil
}

// History returns decided calls, newest last.
func (s *Surface) History(ctx context.Context) ([]model.InterceptedCall, error) {
	calls, err := s.backend.ListHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return calls, nil
}

// Snapshot reads pending and history together.
func (s *Surface) Snapshot(ctx context.Context) (Snapshot, error) {
	pending, err := s.Pending(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	history, err := s.History(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	// A fresher read showing a call terminal overrides a stale pending row.
	terminal := make(map[string]bool, len(history))
	for _, h := range history {
		terminal[h.ID] = true
	}
	for i := range pending {
		if terminal[pending[i].ID] {
			pending[i].Actionable = false
		}
	}
	return Snapshot{Pending: pending, History: history}, nil
}

// Decide sends one decision for id. A second attempt from this surface
// fails with ErrAlreadyDecided without reaching the backend. A backend
// ErrNotFound means another surface or the timeout got there first.
func (s *Surface) Decide(ctx context.Context, id string, approved bool) (model.InterceptedCall, error) {
	if id == "" {
		return model.InterceptedCall{}, fmt.Errorf("call id is required")
	}
	if prev, found, _ := s.decided.PeekOrAdd(id, model.StatusFor(approved)); found {
		return model.InterceptedCall{}, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, prev)
	}
	call, err := s.backend.Decide(ctx, id, approved)
	switch {
	case err == nil:
		s.log.Info("decision sent", "id", id, "approved", approved)
		return call, nil
	case errors.Is(err, model.ErrNotFound):
		return model.InterceptedCall{}, fmt.Errorf("decide %s: %w", id, err)
	default:
		// The backend never applied it; allow a retry.
		s.decided.Remove(id)
		return model.InterceptedCall{}, fmt.Errorf("decide %s: %w", id, err)
	}
}

// Clear rejects every pending call.
func (s *Surface) Clear(ctx context.Context) (int, error) {
	n, err := s.backend.ClearPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	return n, nil
}

// Analyze asks the analyzer for a verdict on a pending or recent call.
func (s *Surface) Analyze(ctx context.Context, id string) (analysis.Verdict, error) {
	req, err := s.request(ctx, id)
	if err != nil {
		return analysis.Verdict{}, err
	}
	return s.analyzer.Analyze(ctx, req)
}

// Stream asks the analyzer for a narrative.
func (s *Surface) Stream(ctx context.Context, id string) (<-chan analysis.Chunk, error) {
	req, err := s.request(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.analyzer.Stream(ctx, req)
}

// Advise wraps Analyze so failures become part of the result.
func (s *Surface) Advise(ctx context.Context, id string) Advisory {
	v, err := s.Analyze(ctx, id)
	if err != nil {
		s.log.Debug("analysis failed", "id", id, "error", err)
		return Advisory{ID: id, Err: err.Error()}
	}
	return Advisory{ID: id, Verdict: &v}
}

// Analyzing reports whether an analyzer is configured.
func (s *Surface) Analyzing() bool { return s.analyzer != nil }

func (s *Surface) request(ctx context.Context, id string) (analysis.Request, error) {
	if s.analyzer == nil {
		return analysis.Request{}, ErrAnalysisDisabled
	}
	call, err := s.find(ctx, id)
	if err != nil {
		return analysis.Request{}, err
	}
	return analysis.NewRequest(call), nil
}

func (s *Surface) find(ctx context.Context, id string) (model.InterceptedCall, error) {
	for _, list := range []func(context.Context) ([]model.InterceptedCall, error){s.backend.ListPending, s.backend.ListHistory} {
		calls, err := list(ctx)
		if err != nil {
			return model.InterceptedCall{}, err
		}
		for _, c := range calls {
			if c.ID == id {
				return c, nil
			}
		}
	}
	return model.InterceptedCall{}, fmt.Errorf("%s: %w", id, model.ErrNotFound)
}

func (s *Surface) actionable(c model.InterceptedCall) bool {
	if c.Status != model.StatusPending {
		return false
	}
	return !s.decided.Contains(c.ID)
}
