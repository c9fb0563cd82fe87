package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/txwatch/internal/model"
)

type submitted struct {
	call  model.InterceptedCall
	tabID string
}

// fakeCoordinator records what the hub submits.
type fakeCoordinator struct {
	mu        sync.Mutex
	calls     []submitted
	retired   []string
	retiredBy []string
	submitErr error
	got       chan submitted
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{got: make(chan submitted, 16)}
}

func (f *fakeCoordinator) Submit(_ context.Context, call model.InterceptedCall, tabID string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	f.calls = append(f.calls, submitted{call, tabID})
	f.mu.Unlock()
	f.got <- submitted{call, tabID}
	return nil
}

func (f *fakeCoordinator) Retire(_ context.Context, tabID, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retired = append(f.retired, id)
	f.retiredBy = append(f.retiredBy, tabID)
	return nil
}

func (f *fakeCoordinator) retiredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.retired...)
}

// decisionSink collects decisions delivered into the page context.
type decisionSink struct {
	ch chan model.Decision
}

func newDecisionSink() *decisionSink {
	return &decisionSink{ch: make(chan model.Decision, 16)}
}

func (s *decisionSink) deliver(d model.Decision) bool {
	s.ch <- d
	return true
}

func (s *decisionSink) next(t *testing.T) model.Decision {
	t.Helper()
	select {
	case d := <-s.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no decision delivered")
		return model.Decision{}
	}
}

func testCall(id string) model.InterceptedCall {
	return model.InterceptedCall{
		ID:        id,
		Method:    model.MethodSendTransaction,
		Origin:    "https://dapp.example",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:    model.StatusPending,
	}
}

func TestDecodeIgnoresForeignMessages(t *testing.T) {
	tests := []struct {
		name string
		data string
		ok   bool
	}{
		{"not json", `hello`, false},
		{"other source", `{"source":"metamask","type":"decision","decision":{"id":"a","approved":true}}`, false},
		{"no source", `{"type":"decision","decision":{"id":"a","approved":true}}`, false},
		{"unknown type", `{"source":"txwatch","type":"ping"}`, false},
		{"decision without payload", `{"source":"txwatch","type":"decision"}`, false},
		{"decision without id", `{"source":"txwatch","type":"decision","decision":{"approved":true}}`, false},
		{"call without id", `{"source":"txwatch","type":"call_intercepted","call":{"method":"eth_sign"}}`, false},
		{"retire without id", `{"source":"txwatch","type":"retire"}`, false},
		{"decision", `{"source":"txwatch","type":"decision","decision":{"id":"a","approved":true}}`, true},
		{"call", `{"source":"txwatch","type":"call_intercepted","call":{"id":"a","method":"eth_sign"}}`, true},
		{"retire", `{"source":"txwatch","type":"retire","id":"a"}`, true},
		{"hello", `{"source":"txwatch","type":"hello","contextId":"c"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Decode([]byte(tt.data)); ok != tt.ok {
				t.Errorf("Decode(%s) ok = %v, want %v", tt.data, ok, tt.ok)
			}
		})
	}
}

type failingLink struct{}

func (failingLink) Send(context.Context, Envelope) error { return ErrNotConnected }
func (failingLink) OnMessage(func([]byte))               {}

func TestForwardFailureSynthesizesRejection(t *testing.T) {
	sink := newDecisionSink()
	r := New(failingLink{}, sink.deliver, nil)

	err := r.Forward(context.Background(), testCall("c1"))
	if !errors.Is(err, model.ErrRelayUnavailable) {
		t.Fatalf("err = %v", err)
	}
	d := sink.next(t)
	if d.ID != "c1" || d.Approved {
		t.Errorf("decision = %+v", d)
	}
}

func TestForwardWithoutLink(t *testing.T) {
	sink := newDecisionSink()
	r := New(nil, sink.deliver, nil)
	if err := r.Forward(context.Background(), testCall("c2")); !errors.Is(err, model.ErrUserRejected) {
		t.Fatalf("err = %v", err)
	}
	if d := sink.next(t); d.Approved {
		t.Error("missing link must reject")
	}
	if err := r.Retire(context.Background(), "c2"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("retire err = %v", err)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	coord := newFakeCoordinator()
	hub := NewHub(coord, HubConfig{})
	link := hub.Local("tab-1")
	defer link.Close()
	sink := newDecisionSink()
	r := New(link, sink.deliver, nil)

	if err := r.Forward(context.Background(), testCall("c3")); err != nil {
		t.Fatal(err)
	}
	got := <-coord.got
	if got.call.ID != "c3" || got.tabID != "tab-1" {
		t.Errorf("submitted = %+v", got)
	}

	if err := hub.Notify(context.Background(), "tab-1", model.Decision{ID: "c3", Approved: true}); err != nil {
		t.Fatal(err)
	}
	if d := sink.next(t); d.ID != "c3" || !d.Approved {
		t.Errorf("decision = %+v", d)
	}

	if err := r.Retire(context.Background(), "c4"); err != nil {
		t.Fatal(err)
	}
	if ids := coord.retiredIDs(); len(ids) != 1 || ids[0] != "c4" {
		t.Errorf("retired = %v", ids)
	}
	coord.mu.Lock()
	by := append([]string(nil), coord.retiredBy...)
	coord.mu.Unlock()
	if len(by) != 1 || by[0] != "tab-1" {
		t.Errorf("retire attributed to %v, want the sending context tab-1", by)
	}
}

func TestLocalSubmitErrorFailsClosed(t *testing.T) {
	coord := newFakeCoordinator()
	coord.submitErr = model.ErrDuplicateID
	hub := NewHub(coord, HubConfig{})
	sink := newDecisionSink()
	r := New(hub.Local("tab-1"), sink.deliver, nil)

	if err := r.Forward(context.Background(), testCall("dup")); !errors.Is(err, model.ErrRelayUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if d := sink.next(t); d.ID != "dup" || d.Approved {
		t.Errorf("decision = %+v", d)
	}
}

func TestNotifyUnknownContext(t *testing.T) {
	hub := NewHub(newFakeCoordinator(), HubConfig{})
	err := hub.Notify(context.Background(), "nobody", model.Decision{ID: "x"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v", err)
	}
}

func startHub(t *testing.T, coord Submitter, cfg HubConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(coord, cfg)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	coord := newFakeCoordinator()
	hub, url := startHub(t, coord, HubConfig{Token: "secret"})

	client := NewClient(ClientConfig{URL: url, ContextID: "tab-9", Token: "secret"})
	sink := newDecisionSink()
	r := New(client, sink.deliver, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	waitFor(t, func() bool { return len(hub.Contexts()) == 1 })

	if err := r.Forward(context.Background(), testCall("w1")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-coord.got:
		if got.call.ID != "w1" || got.tabID != "tab-9" || got.call.Origin != "https://dapp.example" {
			t.Errorf("submitted = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call not submitted")
	}

	if err := hub.Notify(context.Background(), "tab-9", model.Decision{ID: "w1", Approved: false}); err != nil {
		t.Fatal(err)
	}
	if d := sink.next(t); d.ID != "w1" || d.Approved {
		t.Errorf("decision = %+v", d)
	}
}

func TestWebsocketSubmitErrorRejects(t *testing.T) {
	coord := newFakeCoordinator()
	coord.submitErr = errors.New("store down")
	_, url := startHub(t, coord, HubConfig{})

	client := NewClient(ClientConfig{URL: url, ContextID: "tab-2"})
	sink := newDecisionSink()
	r := New(client, sink.deliver, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := r.Forward(context.Background(), testCall("w2")); err != nil {
		t.Fatal(err)
	}
	if d := sink.next(t); d.ID != "w2" || d.Approved {
		t.Errorf("decision = %+v", d)
	}
}

func TestHubRejectsBadToken(t *testing.T) {
	_, url := startHub(t, newFakeCoordinator(), HubConfig{Token: "expected"})
	client := NewClient(ClientConfig{URL: url, ContextID: "tab", Token: "wrong"})
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected handshake failure")
	}
	if client.Connected() {
		t.Error("client must not be connected")
	}
}

func TestHubRejectsBrowserOrigin(t *testing.T) {
	_, url := startHub(t, newFakeCoordinator(), HubConfig{})
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v", resp)
	}
}

func TestNewerConnectionReplacesOlder(t *testing.T) {
	coord := newFakeCoordinator()
	hub, url := startHub(t, coord, HubConfig{})

	first := NewClient(ClientConfig{URL: url, ContextID: "tab-r"})
	if err := first.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second := NewClient(ClientConfig{URL: url, ContextID: "tab-r"})
	sink := newDecisionSink()
	New(second, sink.deliver, nil)
	if err := second.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	waitFor(t, func() bool { return !first.Connected() })
	if got := hub.Contexts(); len(got) != 1 || got[0] != "tab-r" {
		t.Errorf("contexts = %v", got)
	}
	if err := hub.Notify(context.Background(), "tab-r", model.Decision{ID: "r1", Approved: true}); err != nil {
		t.Fatal(err)
	}
	if d := sink.next(t); d.ID != "r1" {
		t.Errorf("decision = %+v", d)
	}
}

func TestClientSendWhileDisconnected(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/relay", ContextID: "tab"})
	if err := client.Send(context.Background(), RetireEnvelope("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v", err)
	}
}

func TestClientRunReconnects(t *testing.T) {
	coord := newFakeCoordinator()
	hub, url := startHub(t, coord, HubConfig{})
	client := NewClient(ClientConfig{URL: url, ContextID: "tab-run", MinBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitFor(t, client.Connected)
	hub.closeAll()
	waitFor(t, func() bool { return len(hub.Contexts()) == 1 && client.Connected() })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestCheckLoopback(t *testing.T) {
	for addr, ok := range map[string]bool{
		"127.0.0.1:9745": true,
		"localhost:9745": true,
		"[::1]:9745":     true,
		"0.0.0.0:9745":   false,
		":9745":          false,
		"10.1.2.3:9745":  false,
		"nonsense":       false,
	} {
		if err := CheckLoopback(addr); (err == nil) != ok {
			t.Errorf("CheckLoopback(%q) = %v", addr, err)
		}
	}
}
