// Package server exposes the refresh pipeline and stored summaries over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	edgar "github.com/RxDataLab/edgar-insider"
)

// Refresher runs one refresh-and-summarize pass for a ticker.
type Refresher interface {
	Refresh(ctx context.Context, ticker string) (*edgar.RefreshResult, error)
}

// SummaryReader returns the stored summary, or an error wrapping edgar.ErrNotFound.
type SummaryReader interface {
	GetSummary(ctx context.Context, ticker string) (edgar.Summary, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const serviceName = "edgar-insider"

type Server struct {
	refresher Refresher
	summaries SummaryReader
	pinger    Pinger
	gatherer  prometheus.Gatherer
	tracing   trace.TracerProvider
	logger    *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer serves gatherer on /metrics. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithTracerProvider sets the provider for server spans. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracing = tp
		}
	}
}

// WithPinger makes /api/health report store reachability.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

func New(refresher Refresher, summaries SummaryReader, opts ...Option) *Server {
	s := &Server{
		refresher: refresher,
		summaries: summaries,
		tracing:   otel.GetTracerProvider(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(r), otelchi.WithTracerProvider(s.tracing)))
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.health)
	r.Route("/api/insider", func(r chi.Router) {
		// query-string form: /api/insider/refresh?ticker=AAPL
		r.Get("/refresh", s.refresh)
		r.Get("/{ticker}/refresh", s.refresh)
		r.Post("/{ticker}/refresh", s.refresh)
		r.Get("/{ticker}/summary", s.summary)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if ticker == "" {
		ticker = r.URL.Query().Get("ticker")
	}
	res, err := s.refresher.Refresh(r.Context(), ticker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	ticker := edgar.NormalizeTicker(chi.URLParam(r, "ticker"))
	sum, err := s.summaries.GetSummary(r.Context(), ticker)
	if errors.Is(err, edgar.ErrNotFound) {
		s.writeError(w, r, &edgar.Error{Kind: edgar.KindNotFound, Op: "summary", Err: err})
		return
	}
	if err != nil {
		s.writeError(w, r, &edgar.Error{Kind: edgar.KindUpstreamUnavailable, Op: "summary", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type errorBody struct {
	Error string     `json:"error"`
	Kind  edgar.Kind `json:"kind,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := edgar.KindOf(err)
	status := edgar.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		s.logger.Info("http request", fields...)
	})
}
