package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/kick-chat-monitor/triggers"
)

// Messages shown by the settings UI when an import is rejected.
const (
	msgImportInvalidJSON     = "Error parsing JSON file"
	msgImportMissingTriggers = "Invalid configuration format: missing triggers array"
)

// HandleTriggers serves the trigger list: GET lists, PUT replaces, POST appends one rule.
func (h *Handlers) HandleTriggers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.deps.Store.Load(r.Context())
		if err != nil {
			h.storeError(w, r, "load triggers", err)
			return
		}
		writeJSON(w, http.StatusOK, cfg.Rules)
	case http.MethodPut:
		body, err := readBody(w, r)
		if err != nil {
			return
		}
		var rules []triggers.Rule
		if err := json.Unmarshal(body, &rules); err != nil {
			http.Error(w, "invalid JSON: expected an array of triggers", http.StatusBadRequest)
			return
		}
		h.writeMu.Lock()
		defer h.writeMu.Unlock()
		saved, ok := h.save(w, r, rules)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, saved)
	case http.MethodPost:
		body, err := readBody(w, r)
		if err != nil {
			return
		}
		var rule triggers.Rule
		if err := json.Unmarshal(body, &rule); err != nil {
			http.Error(w, "invalid JSON: expected a trigger object", http.StatusBadRequest)
			return
		}
		h.writeMu.Lock()
		defer h.writeMu.Unlock()
		cfg, err := h.deps.Store.Load(r.Context())
		if err != nil {
			h.storeError(w, r, "load triggers", err)
			return
		}
		saved, ok := h.save(w, r, append(cfg.Rules, rule))
		if !ok {
			return
		}
		writeJSON(w, http.StatusCreated, saved[len(saved)-1])
	default:
		methodNotAllowed(w, "GET, PUT, POST")
	}
}

// HandleTriggersDispatcher routes /triggers/export, /triggers/import and /triggers/{id}.
func (h *Handlers) HandleTriggersDispatcher(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/triggers/"), "/")
	switch {
	case id == "" || strings.Contains(id, "/"):
		http.NotFound(w, r)
	case id == "export":
		h.handleExport(w, r)
	case id == "import":
		h.handleImport(w, r)
	default:
		h.handleTrigger(w, r, id)
	}
}

func (h *Handlers) handleTrigger(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut && r.Method != http.MethodDelete {
		methodNotAllowed(w, "PUT, DELETE")
		return
	}
	var replacement triggers.Rule
	if r.Method == http.MethodPut {
		body, err := readBody(w, r)
		if err != nil {
			return
		}
		if err := json.Unmarshal(body, &replacement); err != nil {
			http.Error(w, "invalid JSON: expected a trigger object", http.StatusBadRequest)
			return
		}
		replacement.ID = id
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	cfg, err := h.deps.Store.Load(r.Context())
	if err != nil {
		h.storeError(w, r, "load triggers", err)
		return
	}
	idx := -1
	for i, rule := range cfg.Rules {
		if rule.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}

	rules := make([]triggers.Rule, 0, len(cfg.Rules))
	rules = append(rules, cfg.Rules[:idx]...)
	if r.Method == http.MethodPut {
		rules = append(rules, replacement)
	}
	rules = append(rules, cfg.Rules[idx+1:]...)

	saved, ok := h.save(w, r, rules)
	if !ok {
		return
	}
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, saved[idx])
}

func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	cfg, err := h.deps.Store.Load(r.Context())
	if err != nil {
		h.storeError(w, r, "load triggers", err)
		return
	}
	data, err := triggers.Export(cfg.Rules)
	if err != nil {
		h.storeError(w, r, "export triggers", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+triggers.ExportFileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImport replaces the trigger list with the rules of a portable document.
func (h *Handlers) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	rules, err := triggers.Import(body)
	switch {
	case errors.Is(err, triggers.ErrInvalidJSON):
		http.Error(w, msgImportInvalidJSON, http.StatusBadRequest)
		return
	case errors.Is(err, triggers.ErrMissingTriggers):
		http.Error(w, msgImportMissingTriggers, http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	saved, ok := h.save(w, r, rules)
	if !ok {
		return
	}
	h.log.Info("triggers imported", slog.Int("count", len(saved)))
	writeJSON(w, http.StatusOK, saved)
}

// HandleEnabled reads or sets the global monitoring switch.
func (h *Handlers) HandleEnabled(w http.ResponseWriter, r *http.Request) {
	type payload struct {
		Enabled *bool `json:"enabled"`
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.deps.Store.Load(r.Context())
		if err != nil {
			h.storeError(w, r, "load config", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": cfg.Enabled})
	case http.MethodPut:
		body, err := readBody(w, r)
		if err != nil {
			return
		}
		var p payload
		if err := json.Unmarshal(body, &p); err != nil || p.Enabled == nil {
			http.Error(w, `invalid JSON: expected {"enabled": bool}`, http.StatusBadRequest)
			return
		}
		if err := h.deps.Store.SetEnabled(r.Context(), *p.Enabled); err != nil {
			h.storeError(w, r, "set enabled", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": *p.Enabled})
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

// save validates and stores rules; callers hold writeMu. Validation failures are 400s
// carrying the violated fields.
func (h *Handlers) save(w http.ResponseWriter, r *http.Request, rules []triggers.Rule) ([]triggers.Rule, bool) {
	prepared, err := triggers.PrepareRules(rules)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if err := h.deps.Store.SaveTriggers(r.Context(), prepared); err != nil {
		h.storeError(w, r, "save triggers", err)
		return nil, false
	}
	return prepared, true
}

func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.Error("config store error", slog.String("op", op), slog.Any("err", err), slog.String("path", r.URL.Path))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
