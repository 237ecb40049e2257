package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// ServerConfig configures the Echo scaffold an HTTPListener serves on:
// request logging, panic recovery, an optional body limit, request IDs and
// an optional rate limit.
type ServerConfig struct {
	BodyLimit       string // e.g., "10M"
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64 // requests per second; 0 disables rate limiting
}

// DefaultServerConfig returns sane listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BodyLimit:       "10M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func newEchoServer(cfg ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(middleware.RequestID())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	return e
}

// HTTPListener accepts inbound messages as HTTP POST bodies, served by its
// own Echo instance built by newEchoServer (logging, recover, body limit,
// request ID and optional rate limiting; no CORS middleware).
type HTTPListener struct {
	Addr   string
	Path   string
	Config ServerConfig

	server *http.Server
	echo   *echo.Echo
}

// NewHTTPListener builds a listener bound to addr, accepting POSTs at path.
func NewHTTPListener(addr, path string) *HTTPListener {
	return &HTTPListener{Addr: addr, Path: path, Config: DefaultServerConfig()}
}

func (h *HTTPListener) Name() string { return "http:" + h.Addr + h.Path }

// Start mounts the inbound route and begins serving.
func (h *HTTPListener) Start(ctx context.Context, onMessage OnMessage) error {
	e := newEchoServer(h.Config)
	e.POST(h.Path, func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "failed to read body")
		}
		resp, err := onMessage(c.Request().Context(), body)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.String(http.StatusOK, resp)
	})
	h.echo = e

	h.server = &http.Server{
		Addr:         h.Addr,
		Handler:      e,
		ReadTimeout:  h.Config.ReadTimeout,
		WriteTimeout: h.Config.WriteTimeout,
	}
	go func() {
		_ = h.server.ListenAndServe()
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server within ShutdownTimeout.
func (h *HTTPListener) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, h.Config.ShutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http listener: shutdown: %w", err)
	}
	return nil
}
