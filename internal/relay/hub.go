package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
)

// Submitter is the coordinator surface the hub feeds.
type Submitter interface {
	Submit(ctx context.Context, call model.InterceptedCall, tabID string) error
	Retire(ctx context.Context, tabID, id, reason string) error
}

// HubConfig configures the coordinator-side relay endpoint.
type HubConfig struct {
	Token  string // shared secret expected in hello; empty disables the check
	Logger *slog.Logger
}

// Hub accepts page contexts, submits their calls and routes decisions back
// to the context that issued them. One live connection per context id.
type Hub struct {
	sub Submitter
	cfg HubConfig
	log *slog.Logger

	mu    sync.Mutex
	peers map[string]*peer

	upgrader websocket.Upgrader
}

type peer struct {
	deliver func(Envelope) error
	close   func()
}

// NewHub creates a hub submitting to sub.
func NewHub(sub Submitter, cfg HubConfig) *Hub {
	h := &Hub{
		sub:   sub,
		cfg:   cfg,
		log:   logging.OrDiscard(cfg.Logger),
		peers: make(map[string]*peer),
	}
	// Browser pages always send Origin; page contexts are local processes and never do.
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "" },
	}
	return h
}

// Notify delivers a decision to the context that owns the call.
func (h *Hub) Notify(_ context.Context, tabID string, d model.Decision) error {
	h.mu.Lock()
	p := h.peers[tabID]
	h.mu.Unlock()
	if p == nil {
		return fmt.Errorf("context %q: %w", tabID, ErrNotConnected)
	}
	return p.deliver(DecisionEnvelope(d))
}

// Contexts lists the connected context ids.
func (h *Hub) Contexts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) register(contextID string, p *peer) {
	h.mu.Lock()
	old := h.peers[contextID]
	h.peers[contextID] = p
	h.mu.Unlock()
	if old != nil {
		h.log.Info("context reconnected, dropping older link", "context", contextID)
		old.close()
	}
}

func (h *Hub) unregister(contextID string, p *peer) {
	h.mu.Lock()
	if h.peers[contextID] == p {
		delete(h.peers, contextID)
	}
	h.mu.Unlock()
}

// handle applies one inbound envelope from contextID.
func (h *Hub) handle(ctx context.Context, contextID string, env Envelope) error {
	switch env.Type {
	case TypeCallIntercepted:
		if err := h.sub.Submit(ctx, *env.Call, contextID); err != nil {
			return fmt.Errorf("submit %s: %w", env.Call.ID, err)
		}
		return nil
	case TypeRetire:
		err := h.sub.Retire(ctx, contextID, env.ID, "abandoned by page")
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Start listens on a loopback addr and serves /relay until ctx is cancelled.
func (h *Hub) Start(ctx context.Context, addr string) error {
	if err := CheckLoopback(addr); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/relay", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		h.closeAll()
	}()

	h.log.Info("relay hub listening", "addr", ln.Addr().String())
	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*peer)
	h.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// CheckLoopback rejects listen addresses reachable from other hosts.
func CheckLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("address must bind to loopback, got %q", addr)
	}
	return nil
}

// ServeHTTP upgrades a page context connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "error", err)
		return
	}
	contextID, err := h.accept(conn)
	if err != nil {
		h.log.Warn("relay handshake failed", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}

	var writeMu sync.Mutex
	p := &peer{
		deliver: func(env Envelope) error {
			data, err := Encode(env)
			if err != nil {
				return err
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteMessage(websocket.TextMessage, data)
		},
		close: func() { conn.Close() },
	}
	h.register(contextID, p)
	h.log.Info("context connected", "context", contextID)

	h.readLoop(r.Context(), contextID, conn, p)

	h.unregister(contextID, p)
	conn.Close()
	h.log.Info("context disconnected", "context", contextID)
}

func (h *Hub) accept(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	hello, ok := Decode(data)
	if !ok || hello.Type != TypeHello {
		return "", errors.New("expected hello")
	}
	contextID := strings.TrimSpace(hello.ContextID)
	if contextID == "" {
		return "", errors.New("hello without context id")
	}
	if h.cfg.Token != "" && hello.Token != h.cfg.Token {
		return "", errors.New("unauthorized")
	}
	conn.SetReadDeadline(time.Time{})

	data, err = Encode(Envelope{Type: TypeWelcome, ContextID: contextID, Version: ProtocolVersion})
	if err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return "", err
	}
	return contextID, nil
}

func (h *Hub) readLoop(ctx context.Context, contextID string, conn *websocket.Conn, p *peer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, ok := Decode(data)
		if !ok {
			continue
		}
		if err := h.handle(context.WithoutCancel(ctx), contextID, env); err != nil {
			h.log.Warn("relay message failed", "context", contextID, "type", env.Type, "error", err)
			if env.Type == TypeCallIntercepted {
				// The page must not wait out its timeout for a call nobody holds.
				p.deliver(DecisionEnvelope(model.Decision{ID: env.Call.ID, Approved: false}))
			}
		}
	}
}
