package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourt/opencourt/domains/assignments/be/coordinator"
	platformlogging "github.com/opencourt/opencourt/platform/go/logging"
	"github.com/opencourt/opencourt/platform/go/persistence"
	"github.com/opencourt/opencourt/platform/go/problemdetails"
)

const (
	problemTypeValidation = "https://opencourt.dev/problems/validation-error"
	problemTypeNotFound   = "https://opencourt.dev/problems/not-found"
	problemTypeInternal   = "https://opencourt.dev/problems/internal-error"
)

// Handler exposes the instructor binding state of a tournament.
type Handler struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(coord *coordinator.Coordinator, logger *zap.Logger) *Handler {
	if coord == nil {
		panic("assignment coordinator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{coord: coord, logger: logger}
}

// Routes returns the router mounted under
// /api/v1/tournaments/{tournamentId}/instructor.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.get)
	r.Put("/", h.bind)
	return r
}

type bindRequest struct {
	InstructorID uuid.UUID `json:"instructorId"`
}

type bindingResponse struct {
	Bound        bool       `json:"bound"`
	InstructorID *uuid.UUID `json:"instructorId,omitempty"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	bound, instructorID, err := h.coord.IsInstructorBound(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bindingResponse{Bound: bound, InstructorID: instructorID})
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error(), "VALIDATION_ERROR")
		return
	}
	if req.InstructorID == uuid.Nil {
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Validation failed", "instructorId is required", "VALIDATION_ERROR")
		return
	}

	if err := h.coord.BindInstructor(r.Context(), id, req.InstructorID); err != nil {
		h.problemForError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bindingResponse{Bound: true, InstructorID: &req.InstructorID})
}

func (h *Handler) tournamentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tournamentId"))
	if err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Invalid tournament id", err.Error(), "VALIDATION_ERROR")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) problemForError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, persistence.ErrTournamentNotFound):
		h.writeProblem(w, r, http.StatusNotFound, problemTypeNotFound, "Tournament not found", "", "NOT_FOUND")
	default:
		logger := platformlogging.FromRequest(r, h.logger)
		logger.Error("instructor binding request failed", zap.Error(err))
		h.writeProblem(w, r, http.StatusInternalServerError, problemTypeInternal, "Internal error", "", "INTERNAL")
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail, code string) {
	problemdetails.Write(w, problemdetails.ProblemDetails{
		Type:    problemType,
		Title:   title,
		Status:  status,
		Detail:  detail,
		Code:    code,
		TraceID: chimw.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
