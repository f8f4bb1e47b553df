// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// maxBodyBytes bounds request bodies, imports included.
const maxBodyBytes = 1 << 20

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx  context.Context
	deps Deps
	// writeMu serializes read-modify-write updates of the trigger list.
	writeMu sync.Mutex
	log     *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{
		ctx:  ctx,
		deps: deps,
		log:  slog.Default().With(slog.String("component", "http")),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readBody reads a bounded request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "failed to read body", http.StatusBadRequest)
		}
		return nil, err
	}
	return body, nil
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
