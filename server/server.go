// Package server exposes the HTTP API: health, status, metrics, trigger management and the
// page bridge. Writes require admin credentials and are rate limited per client IP; every
// request carries a correlation id and a tracing span.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/kick-chat-monitor/config"
	"github.com/onnwee/kick-chat-monitor/db"
	"github.com/onnwee/kick-chat-monitor/monitor"
	"github.com/onnwee/kick-chat-monitor/telemetry"
)

// StatusProvider reports the monitoring core's state.
type StatusProvider interface {
	Status() monitor.Status
}

// Bridge is the page bridge endpoint.
type Bridge interface {
	http.Handler
	Clients() int
}

// Deps are the collaborators the API serves.
type Deps struct {
	Config  *config.Config
	Store   db.ConfigStore
	Monitor StatusProvider
	Bridge  Bridge
}

// isWrite reports whether a request mutates configuration.
func isWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return r.URL.Path == "/triggers" || strings.HasPrefix(r.URL.Path, "/triggers/") || r.URL.Path == "/enabled"
}

// NewMux returns the HTTP handler with all routes.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := newAuthConfig(deps.Config)
	rateLimiter := newIPRateLimiter(deps.Config)
	corsCfg := newCORSConfig(deps.Config)

	handlers := NewHandlers(ctx, deps)

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)

	mux.HandleFunc("/triggers", handlers.HandleTriggers)
	mux.HandleFunc("/triggers/", handlers.HandleTriggersDispatcher)
	mux.HandleFunc("/enabled", handlers.HandleEnabled)

	if deps.Bridge != nil {
		mux.Handle("/bridge", deps.Bridge)
	}

	// Auth first, then rate limiting, for configuration writes only
	guarded := adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg)
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWrite(r) {
			guarded.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the bridge upgrade the connection through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// WriteTimeout is left unset: it would also bound long-lived bridge connections.
func Start(ctx context.Context, handler http.Handler, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
