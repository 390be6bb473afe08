package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/udhaarlabs/udhaar-core/internal/capture"
	"github.com/udhaarlabs/udhaar-core/internal/ledger"
	"github.com/udhaarlabs/udhaar-core/internal/session"
)

// api is the thin HTTP surface the dashboard frontend drives the voice
// workflow through.
type api struct {
	manager *session.Manager
	ledger  *ledger.Client
	logger  *slog.Logger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /voice/sessions", a.handleStart)
	mux.HandleFunc("POST /voice/sessions/{id}/stop", a.handleStop)
	mux.HandleFunc("POST /voice/sessions/{id}/phone", a.handlePhone)
	mux.HandleFunc("DELETE /voice/sessions/{id}", a.handleCancel)
	mux.HandleFunc("GET /voice/sessions/{id}", a.handleSnapshot)
	mux.HandleFunc("GET /voice/lendings", a.handleLendings)
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Start(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, snap)
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *api) handlePhone(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	snap, err := a.manager.ProvidePhone(r.Context(), r.PathValue("id"), body.Phone)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Cancel(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Snapshot(r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *api) handleLendings(w http.ResponseWriter, r *http.Request) {
	lendings, err := a.ledger.Lendings(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"lendings": lendings})
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoPendingPrompt):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrDeviceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrServiceUnavailable):
		status = http.StatusBadGateway
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *api) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
