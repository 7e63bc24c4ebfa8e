package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/williamhogman/sparkmesh/internal/config"
	"github.com/williamhogman/sparkmesh/internal/metrics"
)

// Handler serves self-check reports over HTTP
type Handler struct {
	aggregator *Aggregator
	recorder   *metrics.Recorder
	logger     *zap.Logger
}

// NewHandler creates the health HTTP handler
func NewHandler(aggregator *Aggregator, recorder *metrics.Recorder, logger *zap.Logger) *Handler {
	return &Handler{aggregator: aggregator, recorder: recorder, logger: logger.Named("health-http")}
}

// ServeHTTP runs a fresh self-check and answers 200 for healthy or
// degraded hosts and 503 otherwise
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.aggregator.SelfCheck(r.Context())
	h.recorder.ObserveHealth(report)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(report.Status))
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("failed to write health report", zap.Error(err))
	}
}

// NewRouter routes /health, /ready and /metrics
func NewRouter(handler *Handler, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/health", handler).Methods(http.MethodGet)
	router.HandleFunc("/ready", readyHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

// readyHandler answers as soon as the server accepts connections
func readyHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ServerParams contains the dependencies for the health server
type ServerParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Handler    *Handler
	Registry   *prometheus.Registry
	Logger     *zap.Logger
}

// RegisterServer starts the health server with the fx lifecycle
func RegisterServer(p ServerParams) {
	logger := p.Logger.Named("health-server")
	server := &http.Server{
		Addr: p.Config.Health.Addr,
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(NewRouter(p.Handler, p.Registry), &http2.Server{}),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			logger.Info("Starting health server", zap.String("address", ln.Addr().String()))
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Health server stopped", zap.Error(err))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping health server")
			return server.Shutdown(ctx)
		},
	})
}
