package mcp

import (
	"context"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/txwatch/internal/analysis"
	"github.com/ppiankov/txwatch/internal/model"
)

// --- Input/Output types ---

// CallItem describes one intercepted call. Params is the raw JSON array.
type CallItem struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	Params     string `json:"params"`
	Origin     string `json:"origin"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	Context    string `json:"context"`
	Reason     string `json:"reason,omitempty"`
	Actionable bool   `json:"actionable"`
}

// PendingInput takes no parameters.
type PendingInput struct{}

// PendingOutput lists pending calls.
type PendingOutput struct {
	Calls []CallItem `json:"calls"`
}

// HistoryInput takes no parameters.
type HistoryInput struct{}

// HistoryOutput lists decided calls.
type HistoryOutput struct {
	Calls []CallItem `json:"calls"`
}

// DecideInput defines parameters for the txwatch_decide tool.
type DecideInput struct {
	ID       string `json:"id" jsonschema:"call id from txwatch_pending"`
	Approved bool   `json:"approved" jsonschema:"true to approve, false to reject"`
}

// DecideOutput confirms the decision.
type DecideOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AnalyzeInput defines parameters for the txwatch_analyze tool.
type AnalyzeInput struct {
	ID string `json:"id" jsonschema:"call id from txwatch_pending"`
}

// AnalyzeOutput carries the verdict, or the reason analysis is unavailable.
type AnalyzeOutput struct {
	ID          string   `json:"id"`
	RiskLevel   string   `json:"risk_level,omitempty"`
	FraudScore  int      `json:"fraud_score"`
	Description string   `json:"description,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Contract    string   `json:"contract,omitempty"`
	Confidence  float64  `json:"confidence"`
	Unavailable string   `json:"unavailable,omitempty"`
}

// --- Handlers ---

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	entries, err := s.surface.Pending(ctx)
	if err != nil {
		return nil, PendingOutput{}, err
	}
	items := make([]CallItem, len(entries))
	for i, e := range entries {
		items[i] = toItem(e.InterceptedCall, e.Actionable)
	}
	return nil, PendingOutput{Calls: items}, nil
}

func (s *Server) handleHistory(ctx context.Context, req *mcpsdk.CallToolRequest, input HistoryInput) (*mcpsdk.CallToolResult, HistoryOutput, error) {
	calls, err := s.surface.History(ctx)
	if err != nil {
		return nil, HistoryOutput{}, err
	}
	items := make([]CallItem, len(calls))
	for i, c := range calls {
		items[i] = toItem(c, false)
	}
	return nil, HistoryOutput{Calls: items}, nil
}

func (s *Server) handleDecide(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, DecideOutput, error) {
	call, err := s.surface.Decide(ctx, input.ID, input.Approved)
	if err != nil {
		// Lost races and repeats are reported in-band, not as protocol errors.
		return &mcpsdk.CallToolResult{IsError: true}, DecideOutput{ID: input.ID, Error: err.Error()}, nil
	}
	return nil, DecideOutput{ID: call.ID, Status: string(call.Status)}, nil
}

func (s *Server) handleAnalyze(ctx context.Context, req *mcpsdk.CallToolRequest, input AnalyzeInput) (*mcpsdk.CallToolResult, AnalyzeOutput, error) {
	v, err := s.surface.Analyze(ctx, input.ID)
	if err != nil {
		return nil, AnalyzeOutput{ID: input.ID, Unavailable: err.Error()}, nil
	}
	return nil, fromVerdict(input.ID, v), nil
}

func fromVerdict(id string, v analysis.Verdict) AnalyzeOutput {
	out := AnalyzeOutput{
		ID:          id,
		RiskLevel:   v.RiskLevel,
		FraudScore:  v.FraudScore,
		Description: v.Description,
		Warnings:    v.Warnings,
		Confidence:  v.Confidence,
	}
	if c := v.Contract; c != nil {
		parts := []string{c.Address}
		if c.Name != "" {
			parts = append(parts, c.Name)
		}
		if c.Function != "" {
			parts = append(parts, c.Function)
		}
		out.Contract = strings.Join(parts, " ")
	}
	return out
}

func toItem(c model.InterceptedCall, actionable bool) CallItem {
	params := "[]"
	if len(c.Params) > 0 {
		parts := make([]string, len(c.Params))
		for i, p := range c.Params {
			parts[i] = string(p)
		}
		params = "[" + strings.Join(parts, ",") + "]"
	}
	return CallItem{
		ID:         c.ID,
		Method:     c.Method,
		Params:     params,
		Origin:     c.Origin,
		Timestamp:  c.Timestamp.Format(time.RFC3339),
		Status:     string(c.Status),
		Context:    c.TabID,
		Reason:     c.Reason,
		Actionable: actionable,
	}
}
