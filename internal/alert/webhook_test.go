package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	retryBackoff = 10 * time.Millisecond
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func pendingEvent() Event {
	return Event{
		Timestamp: "2026-01-15T14:00:00.000Z",
		Event:     "pending",
		CallID:    "c-1",
		Method:    "eth_sendTransaction",
		Origin:    "https://dapp.example",
		TabID:     "tab-1",
		Pending:   2,
	}
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Config{{URL: srv.URL, Format: "generic", Events: []string{"pending"}}}, nil)

	d.Dispatch(pendingEvent())
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Config{{URL: srv.URL, Format: "generic", Events: []string{"expired"}}}, nil)

	d.Dispatch(pendingEvent())
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Config{
		{URL: srv1.URL, Events: []string{"pending"}},
		{URL: srv2.URL, Events: []string{"approved", "pending"}},
	}, nil)

	d.Dispatch(pendingEvent())
	d.Wait()

	if called1.Load()+called2.Load() != 2 {
		t.Errorf("expected both webhooks to fire, got %d and %d", called1.Load(), called2.Load())
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(pendingEvent())
	d.Wait()

	if NewDispatcher(nil, nil) != nil || NewDispatcher([]Config{}, nil) != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
}

func TestSendHeaders(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	err := Send(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}}, pendingEvent())
	if err != nil {
		t.Fatal(err)
	}
	if got.Get("Authorization") != "Bearer x" || got.Get("Content-Type") != "application/json" {
		t.Errorf("headers = %v", got)
	}
	var parsed Event
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.CallID != "c-1" {
		t.Errorf("body = %s (%v)", body, err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := Send(Config{URL: srv.URL}, pendingEvent()); err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, called := countingServer(t, http.StatusBadRequest)
	if err := Send(Config{URL: srv.URL}, pendingEvent()); err == nil {
		t.Error("expected error on 400, got nil")
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", called.Load())
	}
}

func TestGiveUpAfterMaxRetries(t *testing.T) {
	srv, called := countingServer(t, http.StatusBadGateway)
	if err := Send(Config{URL: srv.URL}, pendingEvent()); err == nil {
		t.Error("expected error after persistent 5xx")
	}
	if called.Load() != maxRetries {
		t.Errorf("expected %d attempts, got %d", maxRetries, called.Load())
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	ev := pendingEvent()
	ev.Reason = "expired after 5m30s"
	data, err := FormatPayload("slack", ev)
	if err != nil {
		t.Fatal(err)
	}
	var parsed struct {
		Blocks []struct {
			Type   string           `json:"type"`
			Text   map[string]any   `json:"text"`
			Fields []map[string]any `json:"fields"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}
	if len(parsed.Blocks) != 2 || parsed.Blocks[0].Type != "header" || parsed.Blocks[1].Type != "section" {
		t.Fatalf("blocks = %+v", parsed.Blocks)
	}
	if parsed.Blocks[0].Text["text"] != "txwatch: pending" {
		t.Errorf("header = %v", parsed.Blocks[0].Text)
	}
	if len(parsed.Blocks[1].Fields) != 5 {
		t.Errorf("expected 5 fields with reason, got %d", len(parsed.Blocks[1].Fields))
	}
}

func TestFormatPagerDuty(t *testing.T) {
	tests := []struct {
		event    string
		severity string
	}{
		{"pending", "warning"},
		{"expired", "error"},
		{"approved", "info"},
		{"rejected", "info"},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			ev := pendingEvent()
			ev.Event = tt.event
			data, err := FormatPayload("pagerduty", ev)
			if err != nil {
				t.Fatal(err)
			}
			var parsed struct {
				Action   string `json:"event_action"`
				DedupKey string `json:"dedup_key"`
				Payload  struct {
					Severity string `json:"severity"`
					Source   string `json:"source"`
				} `json:"payload"`
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				t.Fatal(err)
			}
			if parsed.Action != "trigger" || parsed.DedupKey != "c-1" || parsed.Payload.Source != "txwatch" {
				t.Errorf("payload = %+v", parsed)
			}
			if parsed.Payload.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", parsed.Payload.Severity, tt.severity)
			}
		})
	}
}
