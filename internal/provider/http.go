package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ppiankov/txwatch/internal/model"
)

const maxResponseBytes = 10 << 20

// HTTP is a JSON-RPC 2.0 upstream reached over HTTP (a node or a remote signer).
type HTTP struct {
	url     string
	client  *http.Client
	headers map[string]string
	nextID  atomic.Uint64
}

// NewHTTP creates an upstream for url. A zero timeout means 30s.
func NewHTTP(url string, timeout time.Duration, headers map[string]string) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

// URL returns the upstream address.
func (h *HTTP) URL() string { return h.url }

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage      `json:"result"`
	Error  *model.ProviderError `json:"error"`
}

// Request sends one call upstream. JSON-RPC error objects come back unchanged as *model.ProviderError.
func (h *HTTP) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      h.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &model.ProviderError{Code: model.CodeDisconnected, Message: fmt.Sprintf("upstream unreachable: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("upstream HTTP %d: invalid JSON-RPC response", resp.StatusCode)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.ProviderError{Code: model.CodeInternal, Message: fmt.Sprintf("upstream HTTP %d", resp.StatusCode)}
	}
	if out.Result == nil {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}
