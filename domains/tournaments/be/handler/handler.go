package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourt/opencourt/domains/scheduling/be/generator"
	"github.com/opencourt/opencourt/domains/tournaments/be/service"
	platformlogging "github.com/opencourt/opencourt/platform/go/logging"
	"github.com/opencourt/opencourt/platform/go/problemdetails"
)

const (
	problemTypeValidation = "https://opencourt.dev/problems/validation-error"
	problemTypeNotFound   = "https://opencourt.dev/problems/not-found"
	problemTypeConflict   = "https://opencourt.dev/problems/conflict"
	problemTypeGuard      = "https://opencourt.dev/problems/guard-violation"
	problemTypeGeneration = "https://opencourt.dev/problems/generation-failed"
	problemTypeBusy       = "https://opencourt.dev/problems/busy"
	problemTypeInternal   = "https://opencourt.dev/problems/internal-error"
)

// Handler exposes the tournament lifecycle over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tournament service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the router mounted at /api/v1/tournaments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/{tournamentId}", h.get)
	r.Post("/{tournamentId}/transition", h.transition)
	r.Post("/{tournamentId}/sessions/regenerate", h.regenerate)
	return r
}

type templatePayload struct {
	Format                      string `json:"format"`
	MinPlayers                  int    `json:"minPlayers"`
	MaxPlayers                  int    `json:"maxPlayers"`
	RequiresPowerOfTwo          bool   `json:"requiresPowerOfTwo"`
	RoundCount                  int    `json:"roundCount,omitempty"`
	SessionDurationMinutes      int    `json:"sessionDurationMinutes"`
	BreakBetweenSessionsMinutes int    `json:"breakBetweenSessionsMinutes"`
	ParallelFields              int    `json:"parallelFields"`
}

type createRequest struct {
	Name               string          `json:"name"`
	AssignmentType     string          `json:"assignmentType"`
	MaxPlayers         *int            `json:"maxPlayers,omitempty"`
	EnrollmentCost     int64           `json:"enrollmentCost"`
	Template           templatePayload `json:"template"`
	OpensAt            time.Time       `json:"opensAt"`
	EnrollmentDeadline *time.Time      `json:"enrollmentDeadline,omitempty"`
}

type transitionRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

type tournamentResponse struct {
	ID                  uuid.UUID       `json:"id"`
	Name                string          `json:"name"`
	Status              string          `json:"status"`
	AssignmentType      string          `json:"assignmentType"`
	InstructorID        *uuid.UUID      `json:"instructorId,omitempty"`
	MaxPlayers          *int            `json:"maxPlayers,omitempty"`
	EnrollmentCost      int64           `json:"enrollmentCost"`
	Template            templatePayload `json:"template"`
	OpensAt             time.Time       `json:"opensAt"`
	EnrollmentDeadline  *time.Time      `json:"enrollmentDeadline,omitempty"`
	SessionsGenerated   bool            `json:"sessionsGenerated"`
	SessionsGeneratedAt *time.Time      `json:"sessionsGeneratedAt,omitempty"`
	StatusReason        *string         `json:"statusReason,omitempty"`
	ActiveEnrollments   *int            `json:"activeEnrollments,omitempty"`
	SessionCount        *int            `json:"sessionCount,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error(), "VALIDATION_ERROR")
		return
	}

	tournament, err := h.svc.Create(r.Context(), service.CreateInput{
		Name:               req.Name,
		AssignmentType:     service.AssignmentType(req.AssignmentType),
		MaxPlayers:         req.MaxPlayers,
		EnrollmentCost:     req.EnrollmentCost,
		Template:           toTemplate(req.Template),
		OpensAt:            req.OpensAt,
		EnrollmentDeadline: req.EnrollmentDeadline,
	})
	if err != nil {
		h.problemForError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/tournaments/"+tournament.ID.String())
	writeJSON(w, http.StatusCreated, toResponse(tournament, nil, nil))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(detail.Tournament, &detail.ActiveEnrollments, &detail.SessionCount))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error(), "VALIDATION_ERROR")
		return
	}

	tournament, err := h.svc.RequestTransition(r.Context(), id, service.Status(req.Target), req.Reason)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(tournament, nil, nil))
}

func (h *Handler) regenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tournamentID(w, r)
	if !ok {
		return
	}

	if err := h.svc.RegenerateSessions(r.Context(), id); err != nil {
		h.problemForError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
	var validationErr *service.ValidationError
	var genErr *generator.GenerationError

	switch {
	case errors.As(err, &validationErr):
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Validation failed", validationErr.Reason, "VALIDATION_ERROR")
	case errors.Is(err, service.ErrTournamentNotFound):
		h.writeProblem(w, r, http.StatusNotFound, problemTypeNotFound, "Tournament not found", "", "NOT_FOUND")
	case errors.Is(err, service.ErrInvalidTransition):
		h.writeProblem(w, r, http.StatusConflict, problemTypeConflict, "Invalid transition", err.Error(), "INVALID_TRANSITION")
	case errors.Is(err, service.ErrGuardViolation):
		h.writeProblem(w, r, http.StatusUnprocessableEntity, problemTypeGuard, "Transition guard violation", err.Error(), "GUARD_VIOLATION")
	case errors.Is(err, service.ErrGenerationFailed):
		detail := err.Error()
		if errors.As(err, &genErr) {
			detail = genErr.Error()
		}
		h.writeProblem(w, r, http.StatusUnprocessableEntity, problemTypeGeneration, "Session generation failed", detail, "GENERATION_FAILED")
	case errors.Is(err, service.ErrContention):
		// Internal locking detail stays internal.
		h.writeProblem(w, r, http.StatusServiceUnavailable, problemTypeBusy, "Tournament is busy", "please try again", "CONTENTION")
	default:
		logger := platformlogging.FromRequest(r, h.logger)
		logger.Error("tournament request failed", zap.Error(err))
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

func toTemplate(p templatePayload) generator.Template {
	return generator.Template{
		Format:              generator.Format(p.Format),
		MinPlayers:          p.MinPlayers,
		MaxPlayers:          p.MaxPlayers,
		RequiresPowerOfTwo:  p.RequiresPowerOfTwo,
		RoundCount:          p.RoundCount,
		SessionDurationMins: p.SessionDurationMinutes,
		BreakBetweenMins:    p.BreakBetweenSessionsMinutes,
		ParallelFields:      p.ParallelFields,
	}
}

func toResponse(t service.Tournament, enrolled, sessions *int) tournamentResponse {
	return tournamentResponse{
		ID:                  t.ID,
		Name:                t.Name,
		Status:              string(t.Status),
		AssignmentType:      string(t.AssignmentType),
		InstructorID:        t.InstructorID,
		MaxPlayers:          t.MaxPlayers,
		EnrollmentCost:      t.EnrollmentCost,
		Template:            fromTemplate(t.Template),
		OpensAt:             t.OpensAt,
		EnrollmentDeadline:  t.EnrollmentDeadline,
		SessionsGenerated:   t.SessionsGenerated,
		SessionsGeneratedAt: t.SessionsGeneratedAt,
		StatusReason:        t.StatusReason,
		ActiveEnrollments:   enrolled,
		SessionCount:        sessions,
	}
}

func fromTemplate(t generator.Template) templatePayload {
	return templatePayload{
		Format:                      string(t.Format),
		MinPlayers:                  t.MinPlayers,
		MaxPlayers:                  t.MaxPlayers,
		RequiresPowerOfTwo:          t.RequiresPowerOfTwo,
		RoundCount:                  t.RoundCount,
		SessionDurationMinutes:      t.SessionDurationMins,
		BreakBetweenSessionsMinutes: t.BreakBetweenMins,
		ParallelFields:              t.ParallelFields,
	}
}
