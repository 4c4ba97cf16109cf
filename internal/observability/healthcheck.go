package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
	Duration    string       `json:"duration"`
}

type HealthResponse struct {
	Status  HealthStatus  `json:"status"`
	Checks  []HealthCheck `json:"checks"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
}

// HealthServer serves liveness, readiness, Prometheus metrics and the
// manager's export, trace and dashboard lookups over HTTP.
type HealthServer struct {
	addr      string
	version   string
	startTime time.Time
	manager   *Manager
	gatherer  prometheus.Gatherer

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	server   *http.Server
}

// NewHealthServer creates a server for manager. extra gatherers, such as the
// OpenTelemetry exporter registry, are merged into /metrics.
func NewHealthServer(addr, version string, manager *Manager, extra ...prometheus.Gatherer) *HealthServer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(manager.Collector())

	gatherers := prometheus.Gatherers{reg}
	gatherers = append(gatherers, extra...)

	return &HealthServer{
		addr:      addr,
		version:   version,
		startTime: time.Now(),
		manager:   manager,
		gatherer:  gatherers,
		checkers:  make(map[string]HealthChecker),
	}
}

func (hs *HealthServer) AddChecker(name string, checker HealthChecker) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.checkers[name] = checker
}

// Handler returns the HTTP routes.
func (hs *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(hs.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /export", hs.exportHandler)
	mux.HandleFunc("GET /traces/{id}", hs.traceHandler)
	mux.HandleFunc("GET /dashboards/{name}", hs.dashboardHandler)
	return mux
}

// Start serves until Shutdown is called.
func (hs *HealthServer) Start(ctx context.Context) error {
	hs.mu.Lock()
	hs.server = &http.Server{
		Addr:              hs.addr,
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := hs.server
	hs.mu.Unlock()

	hs.manager.Logger().InfoContext(ctx, "Health server listening", "addr", hs.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.mu.RLock()
	server := hs.server
	hs.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hs.mu.RLock()
	checkers := make([]HealthChecker, 0, len(hs.checkers))
	for _, c := range hs.checkers {
		checkers = append(checkers, c)
	}
	hs.mu.RUnlock()

	response := HealthResponse{
		Status:  HealthStatusHealthy,
		Version: hs.version,
		Uptime:  time.Since(hs.startTime).String(),
		Checks:  make([]HealthCheck, 0, len(checkers)),
	}

	for _, checker := range checkers {
		check := checker.Check(ctx)
		response.Checks = append(response.Checks, check)
		if check.Status != HealthStatusHealthy {
			response.Status = HealthStatusUnhealthy
		}
	}

	statusCode := http.StatusOK
	if response.Status != HealthStatusHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	hs.healthHandler(w, r)
}

func (hs *HealthServer) exportHandler(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatPrometheus
	}

	out, err := hs.manager.Export(format)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}
	_, _ = w.Write([]byte(out))
}

func (hs *HealthServer) traceHandler(w http.ResponseWriter, r *http.Request) {
	analysis, ok := hs.manager.TraceAnalysis(r.PathValue("id"))
	if !ok {
		http.Error(w, "trace not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (hs *HealthServer) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := hs.manager.DashboardData(r.PathValue("name"))
	if !ok {
		http.Error(w, "dashboard not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// BasicHealthChecker adapts a function to HealthChecker.
type BasicHealthChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

func NewBasicHealthChecker(name string, checkFn func(ctx context.Context) error) *BasicHealthChecker {
	return &BasicHealthChecker{
		name:    name,
		checkFn: checkFn,
	}
}

func (bhc *BasicHealthChecker) Check(ctx context.Context) HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        bhc.name,
		LastChecked: start,
	}

	if err := bhc.checkFn(ctx); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = HealthStatusHealthy
	}

	check.Duration = time.Since(start).String()
	return check
}
