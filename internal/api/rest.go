package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/observer"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/storage"
)

// Observer is the part of the observer the HTTP shim exposes.
type Observer interface {
	Machines() []observer.MachineInfo
	IsOnline(ctx context.Context, machine infomodel.NodeID) bool
	PublishAll(ctx context.Context)
}

type Handler struct {
	obs    Observer
	store  storage.Store
	logger *zap.Logger
}

// NewHTTPHandler returns the HTTP shim. store may be nil, in which case
// /machines/history answers 503.
func NewHTTPHandler(obs Observer, store storage.Store, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{obs: obs, store: store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.handlePing)
	mux.HandleFunc("GET /machines", h.handleMachines)
	mux.HandleFunc("GET /machines/online", h.handleOnline)
	mux.HandleFunc("GET /machines/history", h.handleHistory)
	mux.HandleFunc("POST /publish", h.handlePublish)
	return mux
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from machine-bridge"})
}

func (h *Handler) handleMachines(w http.ResponseWriter, _ *http.Request) {
	machines := h.obs.Machines()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(machines),
		"machines": machines,
	})
}

func (h *Handler) handleOnline(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "id required")
		return
	}
	id, err := infomodel.ParseNodeID(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id.String(),
		"online": h.obs.IsOnline(r.Context(), id),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		rec, err := h.store.GetMachine(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "machine not found")
			return
		}
		if err != nil {
			h.logger.Error("load machine record", zap.String("id", id), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}
	recs, err := h.store.ListMachines(r.Context())
	if err != nil {
		h.logger.Error("list machine records", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(recs),
		"machines": recs,
	})
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	h.obs.PublishAll(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	h.logger.Debug("http error", zap.Int("status", status), zap.String("msg", msg))
}
