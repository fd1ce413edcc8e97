// Package status exposes run progress over HTTP: a JSON snapshot of the
// current aggregates, Prometheus text metrics, and a liveness endpoint.
package status

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/routeharness/routeharness/internal/driver"
	"github.com/routeharness/routeharness/internal/metrics"
	"github.com/routeharness/routeharness/pkg/types"
)

// Config controls HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dependencies holds the collaborators the server reads from.
type Dependencies struct {
	Logger    *log.Logger
	Collector *metrics.Collector
	Driver    *driver.Driver
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs the status server. The driver is optional; without one the
// snapshot reports state "idle".
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9200"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Collector == nil {
		deps.Collector = metrics.NewCollector()
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/snapshot", snapshotHandler(deps)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.NewHTTPHandler(deps.Collector)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

func snapshotHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := driver.StateIdle
		if deps.Driver != nil {
			state = deps.Driver.State()
		}
		body := struct {
			State        string                `json:"state"`
			Snapshot     types.MetricsSnapshot `json:"snapshot"`
			StreamingP95 time.Duration         `json:"streaming_p95_ns"`
		}{
			State:        state.String(),
			Snapshot:     deps.Collector.Snapshot(),
			StreamingP95: deps.Collector.StreamingQuantile(95),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			deps.Logger.Printf("encode snapshot failed: %v", err)
		}
	}
}
