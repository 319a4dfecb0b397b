package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syedmozamilshah/healthverse/config"
	"github.com/syedmozamilshah/healthverse/internal/retrieval"
	"github.com/syedmozamilshah/healthverse/internal/store"
	"github.com/syedmozamilshah/healthverse/internal/telemetry"
	"github.com/syedmozamilshah/healthverse/internal/triage"
	"github.com/syedmozamilshah/healthverse/provider"
)

// reapInterval is how often the TTL sweep runs over the session store.
const reapInterval = 10 * time.Minute

// Run wires the engine with its collaborators from config and serves the
// HTTP API until the listener fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New(prometheus.DefaultRegisterer)
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	retriever, err := buildRetriever(cfg, llm)
	if err != nil {
		return err
	}

	sessions, err := buildStore(cfg)
	if err != nil {
		return err
	}

	engine := triage.NewEngine(cfg.Triage, sessions, llm, retriever, metrics, nil)

	h := &TriageHandler{Engine: engine}
	h.Register(e.Group("/api"))

	reaper := &Reaper{Engine: engine, Interval: reapInterval, Stop: make(chan struct{})}
	reaper.Start()
	defer reaper.Close()

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":8000"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// buildRetriever picks Qdrant when configured, the bundled in-memory corpus
// otherwise.
func buildRetriever(cfg *config.Config, llm provider.Provider) (triage.Retriever, error) {
	if cfg.Retrieval.QdrantEndpoint != "" {
		return retrieval.NewQdrant(cfg.Retrieval, llm), nil
	}
	log.Printf("qdrant not configured, using in-memory case corpus")
	return retrieval.NewMemory(retrieval.Corpus())
}

// buildStore picks the session store backend from config.
func buildStore(cfg *config.Config) (triage.Store, error) {
	switch cfg.Storage.Type {
	case "redis":
		client, err := store.Conn(context.Background(), cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		return store.NewRedis(client, cfg.Triage.SessionTTL), nil
	case "inmemory", "":
		return store.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}
