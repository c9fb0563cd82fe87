package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/neurorouter"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAI talks to any chat completions endpoint (OpenAI, Groq, Ollama, vLLM).
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates a chat completion analyzer.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	// Streaming responses outlive a whole-request timeout; deadlines come from ctx.
	return &OpenAI{cfg: cfg, client: &http.Client{}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Delta   chatMessage `json:"delta"`
	} `json:"choices"`
}

// Analyze asks the model for a structured verdict.
func (o *OpenAI) Analyze(ctx context.Context, req Request) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.post(ctx, verdictPrompt, req, false)
	if err != nil {
		return Verdict{}, unavailable(err)
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Verdict{}, unavailable(fmt.Errorf("decode response: %w", err))
	}
	if len(cr.Choices) == 0 {
		return Verdict{}, unavailable(fmt.Errorf("empty response from LLM"))
	}
	v, err := ParseVerdict(cr.Choices[0].Message.Content)
	if err != nil {
		return Verdict{}, unavailable(err)
	}
	v.Source = o.cfg.Model
	return v, nil
}

// Stream asks the model for a narrative and relays server-sent deltas.
func (o *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := o.post(ctx, narrativePrompt, req, true)
	if err != nil {
		return nil, unavailable(err)
	}
	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		emit := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				emit(Chunk{Done: true})
				return
			}
			var cr chatResponse
			if err := json.Unmarshal([]byte(data), &cr); err != nil || len(cr.Choices) == 0 {
				continue
			}
			if text := cr.Choices[0].Delta.Content; text != "" {
				if !emit(Chunk{Text: text}) {
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			emit(Chunk{Err: unavailable(err), Done: true})
			return
		}
		emit(Chunk{Done: true})
	}()
	return ch, nil
}

func (o *OpenAI) post(ctx context.Context, system string, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: render(req)},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: 0,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("LLM request: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", neurorouter.ErrRateLimited, truncate(string(msg), 200))
	}
	return nil, fmt.Errorf("LLM returned %d: %s", resp.StatusCode, truncate(string(msg), 200))
}
