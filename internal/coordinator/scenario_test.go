package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/txwatch/internal/coordinator"
	"github.com/ppiankov/txwatch/internal/intercept"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/relay"
	"github.com/ppiankov/txwatch/internal/store"
)

type wallet struct {
	mu     sync.Mutex
	params []string
}

func (w *wallet) Request(_ context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.params = append(w.params, string(params))
	return json.RawMessage(`"0xhash"`), nil
}

func (w *wallet) calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.params...)
}

type harness struct {
	coord  *coordinator.Coordinator
	ic     *intercept.Interceptor
	wallet *wallet
	wrap   *intercept.Wrapped
}

// newHarness wires a page context to a coordinator through an in-process relay.
func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	coord, err := coordinator.New(coordinator.Options{Store: store.NewMemory()})
	if err != nil {
		t.Fatal(err)
	}
	hub := relay.NewHub(coord, relay.HubConfig{})
	coord.SetNotifier(hub)

	ic := intercept.New(intercept.Config{ContextID: "tab-1", Timeout: timeout})
	link := hub.Local("tab-1")
	t.Cleanup(link.Close)
	ic.SetPublisher(relay.New(link, ic.Deliver, nil))

	w := &wallet{}
	wrap, err := ic.Install(w)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{coord: coord, ic: ic, wallet: w, wrap: wrap}
}

const sendParams = `[{"from":"0xA","to":"0xB","value":"0xde0b6b3a7640000"}]`

func (h *harness) send(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := h.wrap.Request(ctx, model.MethodSendTransaction, json.RawMessage(sendParams))
		done <- err
	}()
	return done
}

func (h *harness) awaitPending(t *testing.T) model.InterceptedCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := h.coord.ListPending(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) == 1 {
			return pending[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("call never became pending")
	return model.InterceptedCall{}
}

func awaitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("page call did not resolve")
		return nil
	}
}

func TestScenarioApprove(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	done := h.send(ctx)

	call := h.awaitPending(t)
	if call.Status != model.StatusPending || call.TabID != "tab-1" {
		t.Errorf("pending call = %+v", call)
	}
	if len(h.wallet.calls()) != 0 {
		t.Fatal("wallet invoked before approval")
	}
	if b, _ := h.coord.Badge(ctx); b.Text != "1" {
		t.Errorf("badge = %+v", b)
	}

	if _, err := h.coord.Decide(ctx, call.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := awaitResult(t, done); err != nil {
		t.Fatalf("page call failed: %v", err)
	}
	if got := h.wallet.calls(); len(got) != 1 || got[0] != sendParams {
		t.Errorf("wallet calls = %v", got)
	}
	history, _ := h.coord.ListHistory(ctx)
	if len(history) != 1 || history[0].Status != model.StatusApproved {
		t.Errorf("history = %+v", history)
	}
	if _, err := h.coord.Decide(ctx, call.ID, false); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("late decide err = %v", err)
	}
}

func TestScenarioReject(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	done := h.send(ctx)
	call := h.awaitPending(t)

	if _, err := h.coord.Decide(ctx, call.ID, false); err != nil {
		t.Fatal(err)
	}
	err := awaitResult(t, done)
	if !errors.Is(err, model.ErrUserRejected) || model.AsProviderError(err).Code != model.CodeUserRejected {
		t.Fatalf("err = %v", err)
	}
	if len(h.wallet.calls()) != 0 {
		t.Error("rejected call reached the wallet")
	}
	pending, _ := h.coord.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestScenarioTimeoutDoesNotBlockLaterCalls(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	ctx := context.Background()

	err := awaitResult(t, h.send(ctx))
	if !errors.Is(err, model.ErrApprovalTimeout) {
		t.Fatalf("err = %v", err)
	}

	// The timed-out call is retired best-effort; a new call still goes through.
	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, _ := h.coord.ListPending(ctx)
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out call was not retired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	history, _ := h.coord.ListHistory(ctx)
	if len(history) != 1 || history[0].Status != model.StatusRejected {
		t.Fatalf("history = %+v", history)
	}

	done := h.send(ctx)
	next := h.awaitPending(t)
	if next.ID == history[0].ID {
		t.Error("id reused")
	}
	if err := awaitResult(t, done); !errors.Is(err, model.ErrApprovalTimeout) {
		t.Fatalf("follow-up err = %v", err)
	}
}

func TestScenarioClearPending(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	done := h.send(ctx)
	h.awaitPending(t)

	if n, err := h.coord.ClearPending(ctx); err != nil || n != 1 {
		t.Fatalf("clear = %d, %v", n, err)
	}
	if err := awaitResult(t, done); !errors.Is(err, model.ErrUserRejected) {
		t.Fatalf("err = %v", err)
	}
	if b, _ := h.coord.Badge(ctx); b.Color != coordinator.ColorHistory {
		t.Errorf("badge = %+v", b)
	}
}
