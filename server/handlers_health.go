package server

import (
	"errors"
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking the config store.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz is ready once the store answers and a page is attached to the bridge.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"store", func() error { return h.deps.Store.Ping(r.Context()) }},
		{"bridge", func() error {
			if h.deps.Bridge == nil || h.deps.Bridge.Clients() == 0 {
				return errors.New("no page connected")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports the monitoring core's state and connected pages.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	resp := struct {
		Monitor       any `json:"monitor,omitempty"`
		BridgeClients int `json:"bridge_clients"`
	}{}
	if h.deps.Monitor != nil {
		resp.Monitor = h.deps.Monitor.Status()
	}
	if h.deps.Bridge != nil {
		resp.BridgeClients = h.deps.Bridge.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}
