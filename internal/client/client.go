// Package client talks to a running txwatch coordinator over gRPC.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	txwatchv1 "github.com/ppiankov/txwatch/api/txwatch/v1"
	"github.com/ppiankov/txwatch/internal/coordinator"
	"github.com/ppiankov/txwatch/internal/model"
)

// CallTimeout bounds every RPC that arrives without its own deadline.
const CallTimeout = 5 * time.Second

// Client connects to a txwatch coordinator API.
type Client struct {
	conn   *grpc.ClientConn
	client *txwatchv1.CoordinatorClient
}

// New creates a gRPC client for addr. The connection is established lazily.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	return &Client{
		conn:   conn,
		client: txwatchv1.NewCoordinatorClient(conn),
	}, nil
}

// ListPending returns the coordinator's pending calls.
func (c *Client) ListPending(ctx context.Context) ([]model.InterceptedCall, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.client.ListPending(ctx)
	if err != nil {
		return nil, fromStatus(err)
	}
	return txwatchv1.CallsFromStruct(resp)
}

// ListHistory returns the coordinator's decided calls.
func (c *Client) ListHistory(ctx context.Context) ([]model.InterceptedCall, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.client.ListHistory(ctx)
	if err != nil {
		return nil, fromStatus(err)
	}
	return txwatchv1.CallsFromStruct(resp)
}

// Decide approves or rejects a pending call.
func (c *Client) Decide(ctx context.Context, id string, approved bool) (model.InterceptedCall, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.client.Decide(ctx, txwatchv1.DecideRequest(id, approved))
	if err != nil {
		return model.InterceptedCall{}, fromStatus(err)
	}
	return txwatchv1.CallFromStruct(resp)
}

// ClearPending rejects every pending call.
func (c *Client) ClearPending(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.client.ClearPending(ctx)
	if err != nil {
		return 0, fromStatus(err)
	}
	return int(resp.GetFields()["cleared"].GetNumberValue()), nil
}

// Badge returns the pending-work indicator.
func (c *Client) Badge(ctx context.Context) (coordinator.Badge, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	resp, err := c.client.Badge(ctx)
	if err != nil {
		return coordinator.Badge{}, fromStatus(err)
	}
	f := resp.GetFields()
	return coordinator.Badge{Text: f["text"].GetStringValue(), Color: f["color"].GetStringValue()}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, CallTimeout)
}

// fromStatus restores sentinel errors from gRPC codes.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", model.ErrNotFound, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", model.ErrDuplicateID, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("coordinator unreachable: %s", st.Message())
	}
	return fmt.Errorf("coordinator: %s", st.Message())
}
