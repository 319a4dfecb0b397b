package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/syedmozamilshah/healthverse/internal/triage"
)

// TriageHandler exposes the questioning engine over HTTP.
type TriageHandler struct {
	Engine *triage.Engine
}

// Register mounts the session routes on the given group.
func (h *TriageHandler) Register(g *echo.Group) {
	g.POST("/session/start", h.start)
	g.POST("/session/answer", h.answer)
	g.GET("/session/:id", h.status)
	g.DELETE("/session/:id", h.expire)
}

type startRequest struct {
	Condition string `json:"condition"`
}

type answerRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

func (h *TriageHandler) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.Engine.Start(c.Request().Context(), req.Condition)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *TriageHandler) answer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	res, err := h.Engine.SubmitAnswer(c.Request().Context(), req.SessionID, req.Answer)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *TriageHandler) status(c echo.Context) error {
	sess, err := h.Engine.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *TriageHandler) expire(c echo.Context) error {
	if err := h.Engine.Expire(c.Request().Context(), c.Param("id")); err != nil {
		return mapEngineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapEngineError translates engine sentinels into HTTP status codes. Anything
// outside the taxonomy surfaces as a 500.
func mapEngineError(err error) error {
	switch {
	case errors.Is(err, triage.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, triage.ErrSessionComplete):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, triage.ErrSessionBusy):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	default:
		return err
	}
}

// Reaper periodically removes sessions whose TTL has elapsed.
type Reaper struct {
	Engine   *triage.Engine
	Interval time.Duration
	Stop     chan struct{}
}

// Start launches the sweep loop in its own goroutine.
func (r *Reaper) Start() {
	logger := log.New(log.Writer(), "[REAPER] ", log.LstdFlags)
	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				n, err := r.Engine.SweepExpired(ctx)
				cancel()
				if err != nil {
					logger.Printf("sweep failed: %v", err)
				} else if n > 0 {
					logger.Printf("expired %d stale sessions", n)
				}
			case <-r.Stop:
				return
			}
		}
	}()
}

// Close stops the sweep loop.
func (r *Reaper) Close() {
	close(r.Stop)
}
