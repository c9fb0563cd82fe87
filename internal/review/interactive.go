package review

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ppiankov/txwatch/internal/analysis"
	"github.com/ppiankov/txwatch/internal/model"
)

// InteractiveConfig configures the terminal reviewer.
type InteractiveConfig struct {
	In            io.Reader
	Out           io.Writer
	PromptTimeout time.Duration // default 2m; an unanswered prompt skips the call
	PollInterval  time.Duration // default 1s
	Color         bool
	Analyze       bool // fetch an advisory before each prompt
	ExitWhenIdle  bool // return once nothing is actionable
}

// Interactive walks pending calls one at a time on a terminal.
type Interactive struct {
	surface *Surface
	cfg     InteractiveConfig
	skipped map[string]bool
	lines   chan string
	readErr chan error
}

// NewInteractive creates a terminal reviewer over surface.
func NewInteractive(surface *Surface, cfg InteractiveConfig) *Interactive {
	if cfg.PromptTimeout == 0 {
		cfg.PromptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Interactive{surface: surface, cfg: cfg, skipped: make(map[string]bool)}
}

type action int

const (
	actionApprove action = iota
	actionReject
	actionSkip
	actionQuit
)

// Run reviews until ctx is done, the user quits, input ends, or (with
// ExitWhenIdle) nothing is left to review.
func (r *Interactive) Run(ctx context.Context) error {
	r.lines = make(chan string)
	r.readErr = make(chan error, 1)
	go r.read()

	idle := false
	for {
		next, err := r.next(ctx)
		if err != nil {
			return err
		}
		if next == nil {
			if r.cfg.ExitWhenIdle {
				r.println(r.colorize("No pending calls.", color.FgGreen))
				return nil
			}
			if !idle {
				r.println(r.colorize("Waiting for calls...", color.FgCyan))
				idle = true
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}
		idle = false

		r.display(ctx, *next)
		act, err := r.prompt(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch act {
		case actionQuit:
			return nil
		case actionSkip:
			r.skipped[next.ID] = true
			r.println("Skipped.")
		case actionApprove, actionReject:
			approved := act == actionApprove
			if _, err := r.surface.Decide(ctx, next.ID, approved); err != nil {
				// Lost races are routine: the timeout or another surface decided first.
				r.println(r.colorize("Could not decide: "+err.Error(), color.FgRed))
				continue
			}
			if approved {
				r.println(r.colorize("Approved "+next.ID, color.FgGreen, color.Bold))
			} else {
				r.println(r.colorize("Rejected "+next.ID, color.FgRed, color.Bold))
			}
		}
	}
}

func (r *Interactive) next(ctx context.Context) (*model.InterceptedCall, error) {
	pending, err := r.surface.Pending(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	for _, e := range pending {
		if e.Actionable && !r.skipped[e.ID] {
			c := e.InterceptedCall
			return &c, nil
		}
	}
	return nil, nil
}

func (r *Interactive) display(ctx context.Context, call model.InterceptedCall) {
	separator := strings.Repeat("=", 72)
	r.println("")
	r.println(r.colorize(separator, color.FgCyan))
	r.println(r.colorize(fmt.Sprintf("%s  %s", call.Method, call.ID), color.FgYellow, color.Bold))
	r.println(fmt.Sprintf("Origin:  %s", call.Origin))
	r.println(fmt.Sprintf("Context: %s", call.TabID))
	r.println(fmt.Sprintf("Time:    %s", call.Timestamp.Format(time.RFC3339)))
	if len(call.Params) > 0 {
		r.println(r.colorize("Params:", color.FgCyan))
		for _, p := range call.Params {
			r.println("  " + indent(p))
		}
	}
	if r.cfg.Analyze && r.surface.Analyzing() {
		adv := r.surface.Advise(ctx, call.ID)
		r.println(r.colorize("Risk analysis:", color.FgCyan))
		if adv.Verdict == nil {
			r.println("  unavailable: " + adv.Err)
		} else {
			v := adv.Verdict
			r.println(fmt.Sprintf("  %s (score %d, confidence %.2f)", r.colorize(strings.ToUpper(v.RiskLevel), riskColor(v.RiskLevel), color.Bold), v.FraudScore, v.Confidence))
			r.println("  " + v.Description)
			for _, w := range v.Warnings {
				r.println(r.colorize("  ! "+w, color.FgYellow))
			}
		}
	}
	r.println(r.colorize(separator, color.FgCyan))
}

func (r *Interactive) prompt(ctx context.Context) (action, error) {
	timeout := time.NewTimer(r.cfg.PromptTimeout)
	defer timeout.Stop()
	for {
		r.println("")
		r.println("  [a] Approve")
		r.println("  [r] Reject")
		r.println("  [s] Skip")
		r.println("  [q] Quit")
		fmt.Fprint(r.cfg.Out, r.colorize("Choice: ", color.FgCyan))

		select {
		case <-ctx.Done():
			return actionQuit, nil
		case <-timeout.C:
			r.println("")
			r.println(r.colorize("No answer, skipping", color.FgYellow))
			return actionSkip, nil
		case err := <-r.readErr:
			return actionQuit, err
		case line := <-r.lines:
			switch strings.TrimSpace(strings.ToLower(line)) {
			case "a", "approve", "y", "yes":
				return actionApprove, nil
			case "r", "reject", "n", "no":
				return actionReject, nil
			case "s", "skip", "":
				return actionSkip, nil
			case "q", "quit":
				return actionQuit, nil
			default:
				r.println(r.colorize("Invalid choice. Please enter a, r, s, or q.", color.FgRed))
			}
		}
	}
}

func (r *Interactive) read() {
	if r.cfg.In == nil {
		r.readErr <- io.EOF
		return
	}
	sc := bufio.NewScanner(r.cfg.In)
	for sc.Scan() {
		r.lines <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		r.readErr <- fmt.Errorf("failed to read input: %w", err)
		return
	}
	r.readErr <- io.EOF
}

func (r *Interactive) println(s string) {
	fmt.Fprintln(r.cfg.Out, s)
}

func (r *Interactive) colorize(text string, attributes ...color.Attribute) string {
	if !r.cfg.Color {
		return text
	}
	return color.New(attributes...).Sprint(text)
}

func riskColor(level string) color.Attribute {
	switch level {
	case analysis.RiskCritical, analysis.RiskHigh:
		return color.FgRed
	case analysis.RiskMedium:
		return color.FgYellow
	}
	return color.FgGreen
}

func indent(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
