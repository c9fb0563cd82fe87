// Package panel serves the browser review panel API: snapshots, decisions,
// advisory analysis, a live websocket feed and metrics.
package panel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/txwatch/internal/coordinator"
	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/relay"
	"github.com/ppiankov/txwatch/internal/review"
)

// BadgeSource reports the pending-work indicator.
type BadgeSource interface {
	Badge(ctx context.Context) (coordinator.Badge, error)
}

// Config configures the panel.
type Config struct {
	Gatherer prometheus.Gatherer // serves /metrics when set
	Logger   *slog.Logger
}

// Message is one websocket feed frame.
type Message struct {
	Type  string                 `json:"type"` // snapshot, change, present
	Kind  string                 `json:"kind,omitempty"`
	Call  *model.InterceptedCall `json:"call,omitempty"`
	Badge *coordinator.Badge     `json:"badge,omitempty"`
	State *review.Snapshot       `json:"state,omitempty"`
}

// Panel is the HTTP side of the review surface.
type Panel struct {
	surface  *review.Surface
	badges   BadgeSource
	engine   *gin.Engine
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

// New builds the panel routes.
func New(surface *review.Surface, badges BadgeSource, cfg Config) *Panel {
	gin.SetMode(gin.ReleaseMode)
	p := &Panel{
		surface: surface,
		badges:  badges,
		engine:  gin.New(),
		// Nil CheckOrigin enforces same-origin upgrades.
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		log:      logging.OrDiscard(cfg.Logger),
		clients:  make(map[*feedClient]struct{}),
	}
	p.engine.Use(gin.Recovery(), p.requestLogger(), p.guard())

	api := p.engine.Group("/api")
	api.GET("/pending", p.handlePending)
	api.GET("/history", p.handleHistory)
	api.GET("/snapshot", p.handleSnapshot)
	api.GET("/badge", p.handleBadge)
	api.POST("/decide", p.handleDecide)
	api.POST("/clear", p.handleClear)
	api.GET("/analysis/:id", p.handleAnalysis)

	p.engine.GET("/ws", p.handleFeed)
	p.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.Gatherer != nil {
		p.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return p
}

// Handler returns the HTTP handler.
func (p *Panel) Handler() http.Handler { return p.engine }

// Start serves on a loopback addr until ctx is cancelled.
func (p *Panel) Start(ctx context.Context, addr string) error {
	if err := relay.CheckLoopback(addr); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: p.engine, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.closeFeed()
		_ = srv.Shutdown(shutdownCtx)
	}()
	p.log.Info("panel listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Present asks connected panels to bring call to the foreground.
func (p *Panel) Present(_ context.Context, call model.InterceptedCall) {
	p.broadcast(Message{Type: "present", Call: &call})
}

// Publish forwards a coordinator change to the feed. Pass it to
// Coordinator.Subscribe.
func (p *Panel) Publish(ch coordinator.Change) {
	call, badge := ch.Call, ch.Badge
	p.broadcast(Message{Type: "change", Kind: ch.Kind, Call: &call, Badge: &badge})
}

func (p *Panel) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		p.log.Debug("http", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "duration", time.Since(start))
	}
}
