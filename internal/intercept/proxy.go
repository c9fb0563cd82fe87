package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
)

// OriginHeader lets a trusted local caller name the page origin explicitly.
const OriginHeader = "X-Txwatch-Origin"

const maxBodyBytes = 1 << 20

// ProxyConfig holds JSON-RPC endpoint configuration.
type ProxyConfig struct {
	Addr      string  // e.g. "127.0.0.1:8545"
	RateLimit float64 // reviewable calls per second per origin; 0 disables
	Burst     int
	Logger    *slog.Logger
}

// Proxy is the page-facing JSON-RPC endpoint. Dapps talk to it as if it were
// the wallet; every request goes through the interceptor's active provider.
type Proxy struct {
	cfg     ProxyConfig
	ic      *Interceptor
	limiter *originLimiter
	log     *slog.Logger
	srv     *http.Server
}

// NewProxy creates a proxy in front of ic.
func NewProxy(ic *Interceptor, cfg ProxyConfig) *Proxy {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8545"
	}
	p := &Proxy{
		cfg: cfg,
		ic:  ic,
		log: logging.OrDiscard(cfg.Logger),
	}
	if cfg.RateLimit > 0 {
		p.limiter = newOriginLimiter(cfg.RateLimit, cfg.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", p.handlePrimary)
	mux.HandleFunc("POST /p/{name}", p.handleNamed)
	mux.HandleFunc("GET /healthz", p.handleHealth)

	// No write timeout: a held call may legitimately wait minutes for review.
	p.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return p
}

// Handler exposes the routing table, mainly for tests.
func (p *Proxy) Handler() http.Handler { return p.srv.Handler }

// Start begins listening. Blocks until ctx is cancelled.
func (p *Proxy) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.srv.Addr)
	if err != nil {
		return err
	}
	return p.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	if p.limiter != nil {
		go p.limiter.cleanup(ctx)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.srv.Shutdown(shutdownCtx)
	}()

	p.log.Info("json-rpc endpoint listening", "addr", ln.Addr().String(), "context", p.ic.ContextID())
	err := p.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string               `json:"jsonrpc"`
	ID      json.RawMessage      `json:"id"`
	Result  json.RawMessage      `json:"result,omitempty"`
	Error   *model.ProviderError `json:"error,omitempty"`
}

func (p *Proxy) handlePrimary(w http.ResponseWriter, r *http.Request) {
	cur := p.ic.Current()
	if cur == nil {
		p.writeError(w, nil, &model.ProviderError{Code: model.CodeDisconnected, Message: "no wallet provider available"})
		return
	}
	p.serve(w, r, cur)
}

func (p *Proxy) handleNamed(w http.ResponseWriter, r *http.Request) {
	cur := p.ic.Current()
	if cur == nil {
		p.writeError(w, nil, &model.ProviderError{Code: model.CodeDisconnected, Message: "no wallet provider available"})
		return
	}
	name := r.PathValue("name")
	named, ok := cur.Named(name)
	if !ok {
		p.writeError(w, nil, &model.ProviderError{Code: model.CodeUnsupported, Message: fmt.Sprintf("unknown provider %q", name)})
		return
	}
	p.serve(w, r, named)
}

func (p *Proxy) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"context":     p.ic.ContextID(),
		"bound":       p.ic.Current() != nil,
		"outstanding": p.ic.Outstanding(),
	})
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, target *Wrapped) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		p.writeError(w, nil, &model.ProviderError{Code: model.CodeParseError, Message: "failed to read request body"})
		return
	}
	ctx := WithOrigin(r.Context(), requestOrigin(r))

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil || len(batch) == 0 {
			p.writeError(w, nil, &model.ProviderError{Code: model.CodeInvalidReq, Message: "invalid batch"})
			return
		}
		out := make([]rpcResponse, 0, len(batch))
		for _, raw := range batch {
			out = append(out, p.call(ctx, target, raw))
		}
		writeJSON(w, out)
		return
	}
	writeJSON(w, p.call(ctx, target, trimmed))
}

func (p *Proxy) call(ctx context.Context, target *Wrapped, raw json.RawMessage) rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, &model.ProviderError{Code: model.CodeParseError, Message: "invalid JSON"})
	}
	if req.Method == "" {
		return errorResponse(req.ID, &model.ProviderError{Code: model.CodeInvalidReq, Message: "method is required"})
	}

	if p.limiter != nil && target.Reviewable(req.Method) {
		if origin := OriginFrom(ctx); !p.limiter.allow(origin) {
			p.log.Warn("rate limited", "origin", origin, "method", req.Method)
			return errorResponse(req.ID, model.ErrRateLimited)
		}
	}

	result, err := target.Request(ctx, req.Method, req.Params)
	if err != nil {
		return errorResponse(req.ID, model.AsProviderError(err))
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return rpcResponse{JSONRPC: "2.0", ID: idOrNull(req.ID), Result: result}
}

func (p *Proxy) writeError(w http.ResponseWriter, id json.RawMessage, pe *model.ProviderError) {
	writeJSON(w, errorResponse(id, pe))
}

func errorResponse(id json.RawMessage, pe *model.ProviderError) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: idOrNull(id), Error: pe}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// requestOrigin prefers the browser's Origin header, then the explicit
// override header, then the caller's address.
func requestOrigin(r *http.Request) string {
	if o := strings.TrimSpace(r.Header.Get("Origin")); o != "" && o != "null" {
		return o
	}
	if o := strings.TrimSpace(r.Header.Get(OriginHeader)); o != "" {
		return o
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
