package server

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	txwatchv1 "github.com/ppiankov/txwatch/api/txwatch/v1"
	"github.com/ppiankov/txwatch/internal/coordinator"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/store"
)

// testServer spins up an in-process gRPC server on a random port and returns a stub.
func testServer(t *testing.T, backend Backend) *txwatchv1.CoordinatorClient {
	t.Helper()
	srv := New(backend, nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return txwatchv1.NewCoordinatorClient(conn)
}

func newCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(coordinator.Options{Store: store.NewMemory()})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestListPendingEmpty(t *testing.T) {
	stub := testServer(t, newCoordinator(t))
	resp, err := stub.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	calls, err := txwatchv1.CallsFromStruct(resp)
	if err != nil || len(calls) != 0 {
		t.Errorf("calls: %+v err=%v", calls, err)
	}
}

func TestDecideNotFoundCode(t *testing.T) {
	stub := testServer(t, newCoordinator(t))
	_, err := stub.Decide(context.Background(), txwatchv1.DecideRequest("nope", true))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code: got %v, want NotFound (%v)", status.Code(err), err)
	}
}

func TestDecideInvalidArgument(t *testing.T) {
	stub := testServer(t, newCoordinator(t))
	_, err := stub.Decide(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code: got %v, want InvalidArgument", status.Code(err))
	}
}

func TestDecideAndBadge(t *testing.T) {
	coord := newCoordinator(t)
	err := coord.Submit(context.Background(), model.InterceptedCall{ID: "c1", Method: model.MethodPersonalSign, Origin: "https://a.example"}, "ctx-1")
	if err != nil {
		t.Fatal(err)
	}
	stub := testServer(t, coord)

	badge, err := stub.Badge(context.Background())
	if err != nil {
		t.Fatalf("Badge: %v", err)
	}
	if badge.Fields["text"].GetStringValue() != "1" || badge.Fields["color"].GetStringValue() != coordinator.ColorPending {
		t.Errorf("badge: %v", badge)
	}

	resp, err := stub.Decide(context.Background(), txwatchv1.DecideRequest("c1", false))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	call, err := txwatchv1.CallFromStruct(resp)
	if err != nil || call.Status != model.StatusRejected {
		t.Errorf("decided call: %+v err=%v", call, err)
	}

	_, err = stub.Decide(context.Background(), txwatchv1.DecideRequest("c1", true))
	if status.Code(err) != codes.NotFound {
		t.Errorf("second decision: got %v, want NotFound", status.Code(err))
	}
}

// failingBackend answers every request with a storage error.
type failingBackend struct{ Backend }

func (failingBackend) ListPending(context.Context) ([]model.InterceptedCall, error) {
	return nil, errors.New("disk on fire")
}

func (failingBackend) ClearPending(context.Context) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestStoreErrorsAreAnswered(t *testing.T) {
	stub := testServer(t, failingBackend{})
	if _, err := stub.ListPending(context.Background()); status.Code(err) != codes.Internal {
		t.Errorf("ListPending: got %v, want Internal", status.Code(err))
	}
	if _, err := stub.ClearPending(context.Background()); status.Code(err) != codes.Internal {
		t.Errorf("ClearPending: got %v, want Internal", status.Code(err))
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{model.ErrNotFound, codes.NotFound},
		{model.ErrDuplicateID, codes.AlreadyExists},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("other"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStartRejectsPublicAddress(t *testing.T) {
	srv := New(newCoordinator(t), nil)
	if err := srv.Start(context.Background(), "0.0.0.0:0"); err == nil {
		t.Fatal("expected loopback error")
	}
}
