package panel

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/review"
)

type decideRequest struct {
	ID       string `json:"id"`
	Approved *bool  `json:"approved"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (p *Panel) handlePending(c *gin.Context) {
	entries, err := p.surface.Pending(c.Request.Context())
	if err != nil {
		p.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": entries})
}

func (p *Panel) handleHistory(c *gin.Context) {
	calls, err := p.surface.History(c.Request.Context())
	if err != nil {
		p.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": calls})
}

func (p *Panel) handleSnapshot(c *gin.Context) {
	snap, err := p.surface.Snapshot(c.Request.Context())
	if err != nil {
		p.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (p *Panel) handleBadge(c *gin.Context) {
	b, err := p.badges.Badge(c.Request.Context())
	if err != nil {
		p.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (p *Panel) handleDecide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if req.ID == "" || req.Approved == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "id and approved are required"})
		return
	}
	call, err := p.surface.Decide(c.Request.Context(), req.ID, *req.Approved)
	if err != nil {
		p.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (p *Panel) handleClear(c *gin.Context) {
	n, err := p.surface.Clear(c.Request.Context())
	if err != nil {
		p.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

// handleAnalysis streams a narrative as server-sent events, or returns a
// structured advisory with ?mode=verdict. Analysis failures never turn into
// HTTP errors; they are part of the advisory.
func (p *Panel) handleAnalysis(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if c.Query("mode") == "verdict" {
		v, err := p.surface.Analyze(ctx, id)
		switch {
		case errors.Is(err, model.ErrNotFound):
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		case err != nil:
			c.JSON(http.StatusOK, review.Advisory{ID: id, Err: err.Error()})
		default:
			c.JSON(http.StatusOK, review.Advisory{ID: id, Verdict: &v})
		}
		return
	}

	ch, err := p.surface.Stream(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.Header("Cache-Control", "no-cache")
	if err != nil {
		c.SSEvent("error", gin.H{"error": err.Error()})
		return
	}
	c.Stream(func(io.Writer) bool {
		select {
		case chunk, ok := <-ch:
			if !ok {
				c.SSEvent("done", gin.H{})
				return false
			}
			if chunk.Err != nil {
				c.SSEvent("error", gin.H{"error": chunk.Err.Error()})
				return false
			}
			if chunk.Text != "" {
				c.SSEvent("chunk", gin.H{"text": chunk.Text})
			}
			if chunk.Done {
				c.SSEvent("done", gin.H{})
				return false
			}
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (p *Panel) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrAlreadyDecided):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		p.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}
