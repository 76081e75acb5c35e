// Package gateway exposes the dispatcher's HTTP surface: delta notification
// intake, service and health endpoints, and a WebSocket stream of dispatch
// lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/delta"
	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/pkg/worker"
)

const defaultMaxRequestSize = 10 << 20 // 10 MiB

// Dispatcher is the intake surface the gateway feeds
type Dispatcher interface {
	Dispatch(subjects []string) (int, error)
	Ready() bool
	InFlight() int
	Stats() worker.PoolStats
}

// Config holds the gateway's HTTP settings
type Config struct {
	Port           int      `yaml:"port"`
	MaxRequestSize int64    `yaml:"max_request_size"`
	EnableCORS     bool     `yaml:"enable_cors"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// Validate checks the gateway configuration
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port %d out of range", c.Port))
	}
	return nil
}

// Gateway is the dispatcher's HTTP front door
type Gateway struct {
	config     Config
	dispatcher Dispatcher
	hub        *Hub
	logger     *slog.Logger
	metrics    *metric.Metrics

	httpServer *http.Server
	running    atomic.Bool
	startTime  time.Time

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewGateway creates a gateway in front of a dispatcher
func NewGateway(config Config, dispatcher Dispatcher, hub *Hub, logger *slog.Logger, metrics *metric.Metrics) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if dispatcher == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = defaultMaxRequestSize
	}

	return &Gateway{
		config:     config,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Handler builds the gateway's HTTP routes
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleRoot)
	mux.HandleFunc("/delta", g.handleDelta)
	mux.HandleFunc("/health", g.handleHealth)
	if g.hub != nil {
		mux.HandleFunc("/ws/events", g.hub.handleConnection)
	}
	return mux
}

// Start begins serving HTTP requests; it blocks until the listener fails or
// the gateway is stopped
func (g *Gateway) Start(_ context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start",
			"gateway already running")
	}
	g.startTime = time.Now()

	g.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.config.Port),
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway listening", "port", g.config.Port)
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		g.running.Store(false)
		return errors.WrapFatal(err, "Gateway", "Start", "HTTP server failed")
	}
	return nil
}

// Stop shuts the HTTP server down, waiting up to timeout for in-flight
// requests
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}

	if g.hub != nil {
		g.hub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "Gateway", "Stop", "HTTP server shutdown")
	}
	return nil
}

// handleDelta accepts a delta notification, enqueues its subjects and
// acknowledges immediately. Processing happens asynchronously; the sender
// never waits for dispatching.
func (g *Gateway) handleDelta(w http.ResponseWriter, r *http.Request) {
	g.requestsTotal.Add(1)

	if g.config.EnableCORS {
		g.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if r.Method != http.MethodPost {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", g.config.MaxRequestSize))
		return
	}

	message, err := delta.Decode(body)
	if err != nil {
		g.logger.Warn("rejecting malformed delta payload", "error", err)
		g.writeError(w, http.StatusBadRequest, "malformed delta payload")
		return
	}

	if g.metrics != nil {
		g.metrics.DeltasReceived.WithLabelValues("http").Inc()
	}

	subjects := message.Subjects()
	accepted, err := g.dispatcher.Dispatch(subjects)
	if err != nil {
		// queue saturation; the sender retries the delta later
		g.logger.Warn("delta intake rejected", "error", err, "subjects", len(subjects))
		g.writeError(w, http.StatusServiceUnavailable, "dispatch queue full")
		return
	}

	g.logger.Debug("delta accepted",
		"subjects", len(subjects),
		"accepted", accepted)
	g.writeJSON(w, http.StatusOK, map[string]any{
		"subjects": len(subjects),
		"accepted": accepted,
	})
}

// handleRoot identifies the service
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		g.writeError(w, http.StatusNotFound, "not found")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"service": "contact-data-dispatcher-service",
		"status":  "up",
	})
}

// handleHealth reports queue and prerequisite state
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := g.dispatcher.Stats()
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "up",
		"ready":     g.dispatcher.Ready(),
		"in_flight": g.dispatcher.InFlight(),
		"queue":     stats,
		"uptime":    time.Since(g.startTime).String(),
	})
}

func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	allowed := false
	for _, o := range g.config.CORSOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.requestsFailed.Add(1)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	g.requestsFailed.Add(1)
	g.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}
