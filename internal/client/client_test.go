package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ppiankov/txwatch/internal/coordinator"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/review"
	"github.com/ppiankov/txwatch/internal/server"
	"github.com/ppiankov/txwatch/internal/store"
)

// startTestServer serves a fresh coordinator and returns its address.
func startTestServer(t *testing.T) (*coordinator.Coordinator, string) {
	t.Helper()
	coord, err := coordinator.New(coordinator.Options{Store: store.NewMemory()})
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	srv := server.New(coord, nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)
	t.Cleanup(srv.GracefulStop)
	return coord, lis.Addr().String()
}

func newClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func submit(t *testing.T, coord *coordinator.Coordinator, id string) {
	t.Helper()
	call := model.InterceptedCall{
		ID:     id,
		Method: model.MethodSendTransaction,
		Params: []json.RawMessage{json.RawMessage(`{"from":"0xa","to":"0xb","value":"0xde0b6b3a7640000"}`)},
		Origin: "https://dapp.example",
	}
	if err := coord.Submit(context.Background(), call, "ctx-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestClientListAndDecide(t *testing.T) {
	coord, addr := startTestServer(t)
	submit(t, coord, "c1")
	c := newClient(t, addr)
	ctx := context.Background()

	pending, err := c.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "c1" || pending[0].TabID != "ctx-1" {
		t.Fatalf("pending: %+v", pending)
	}
	if string(pending[0].Params[0]) != `{"from":"0xa","to":"0xb","value":"0xde0b6b3a7640000"}` {
		t.Errorf("params changed in transit: %s", pending[0].Params[0])
	}

	badge, err := c.Badge(ctx)
	if err != nil || badge.Text != "1" || badge.Color != coordinator.ColorPending {
		t.Errorf("badge: %+v err=%v", badge, err)
	}

	call, err := c.Decide(ctx, "c1", true)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if call.Status != model.StatusApproved {
		t.Errorf("status: got %s, want approved", call.Status)
	}

	history, err := c.ListHistory(ctx)
	if err != nil || len(history) != 1 {
		t.Fatalf("history: %+v err=%v", history, err)
	}
	badge, _ = c.Badge(ctx)
	if badge.Color != coordinator.ColorHistory {
		t.Errorf("badge after decision: %+v", badge)
	}
}

func TestClientDecideUnknownIsNotFound(t *testing.T) {
	_, addr := startTestServer(t)
	c := newClient(t, addr)
	_, err := c.Decide(context.Background(), "ghost", false)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientDecideEmptyID(t *testing.T) {
	_, addr := startTestServer(t)
	c := newClient(t, addr)
	if _, err := c.Decide(context.Background(), "", true); err == nil {
		t.Fatal("expected invalid argument error")
	}
}

func TestClientClearPending(t *testing.T) {
	coord, addr := startTestServer(t)
	submit(t, coord, "c1")
	submit(t, coord, "c2")
	c := newClient(t, addr)
	n, err := c.ClearPending(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("ClearPending: n=%d err=%v", n, err)
	}
	pending, _ := coord.ListPending(context.Background())
	if len(pending) != 0 {
		t.Errorf("pending after clear: %d", len(pending))
	}
}

func TestClientUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c := newClient(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := c.ListPending(ctx); err == nil {
		t.Fatal("expected error from unreachable coordinator")
	}
}

func TestClientDrivesReviewSurface(t *testing.T) {
	coord, addr := startTestServer(t)
	submit(t, coord, "c1")
	s := review.NewSurface(newClient(t, addr), nil, nil)

	if _, err := s.Decide(context.Background(), "c1", false); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if _, err := s.Decide(context.Background(), "c1", false); !errors.Is(err, review.ErrAlreadyDecided) {
		t.Errorf("expected ErrAlreadyDecided, got %v", err)
	}
	other := review.NewSurface(newClient(t, addr), nil, nil)
	if _, err := other.Decide(context.Background(), "c1", true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound across surfaces, got %v", err)
	}
}
