package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"study-flow-service/internal/app"
	"study-flow-service/internal/domain"
)

// Handler exposes the flow and telemetry use cases over HTTP.
type Handler struct {
	flows     *app.FlowService
	telemetry *app.TelemetryService
}

func NewHandler(flows *app.FlowService, telemetry *app.TelemetryService) *Handler {
	return &Handler{flows: flows, telemetry: telemetry}
}

// Register wires the handler's routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/flow", h.handleFlow)
	mux.HandleFunc("/api/flow/advance", h.handleAdvance)
	mux.HandleFunc("/api/flow/reset", h.handleReset)
	mux.HandleFunc("/api/flow/override", h.handleOverride)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/sessions/finalize", h.handleFinalize)
	mux.HandleFunc("/api/tests", h.handleTests)
}

type advanceRequest struct {
	UserID    string       `json:"userId"`
	FromStage domain.Stage `json:"fromStage"`
}

type resetRequest struct {
	UserID string `json:"userId"`
}

type overrideRequest struct {
	UserID    string           `json:"userId"`
	Condition domain.Condition `json:"condition"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleFlow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	state, err := h.flows.Current(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.UserID == "" || !req.FromStage.IsValid() {
		writeError(w, http.StatusBadRequest, "missing userId or invalid fromStage")
		return
	}
	state, err := h.flows.Advance(r.Context(), req.UserID, req.FromStage)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	state, err := h.flows.Reset(r.Context(), req.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	state, err := h.flows.OverrideCondition(r.Context(), req.UserID, req.Condition)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "missing userId")
			return
		}
		records, err := h.telemetry.Sessions(r.Context(), userID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	case http.MethodPost:
		var record domain.TranscriptRecord
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			writeError(w, http.StatusBadRequest, "invalid session payload")
			return
		}
		if record.UserID == "" || record.StageKey == "" {
			writeError(w, http.StatusBadRequest, "missing userId or questionId")
			return
		}
		saved, err := h.telemetry.RecordSession(r.Context(), record)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	if err := h.telemetry.Finalize(r.Context(), req.UserID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleTests(w http.ResponseWriter, r *http.Request) {
	var record domain.TestAttemptRecord
	if !decodePost(w, r, &record) {
		return
	}
	if record.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	saved, err := h.telemetry.RecordTestAttempt(r.Context(), record)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrStaleTransition), errors.Is(err, domain.ErrTerminalStage):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotPermitted):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidCondition), errors.Is(err, domain.ErrInvalidTestType),
		errors.Is(err, domain.ErrFinalTestTooEarly):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrLessonNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
