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

	"github.com/opencourt/opencourt/domains/enrollments/be/service"
	platformlogging "github.com/opencourt/opencourt/platform/go/logging"
	"github.com/opencourt/opencourt/platform/go/problemdetails"
	"github.com/opencourt/opencourt/platform/go/requesttrace"
)

const (
	problemTypeValidation   = "https://opencourt.dev/problems/validation-error"
	problemTypeUnauthorized = "https://opencourt.dev/problems/unauthorized"
	problemTypeNotFound     = "https://opencourt.dev/problems/not-found"
	problemTypeConflict     = "https://opencourt.dev/problems/conflict"
	problemTypePayment      = "https://opencourt.dev/problems/insufficient-credit"
	problemTypeBusy         = "https://opencourt.dev/problems/busy"
	problemTypeInternal     = "https://opencourt.dev/problems/internal-error"

	// IdempotencyKeyHeader lets clients retry an enrollment request safely.
	IdempotencyKeyHeader = "Idempotency-Key"
)

// Handler exposes enrollment admission and cancellation over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("enrollment service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// TournamentRoutes returns the router mounted under
// /api/v1/tournaments/{tournamentId}/enrollments.
func (h *Handler) TournamentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.enroll)
	return r
}

// Routes returns the router mounted at /api/v1/enrollments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{enrollmentId}", h.get)
	r.Delete("/{enrollmentId}", h.cancel)
	return r
}

type enrollmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	TournamentID   uuid.UUID  `json:"tournamentId"`
	UserID         uuid.UUID  `json:"userId"`
	IsActive       bool       `json:"isActive"`
	EnrolledAt     time.Time  `json:"enrolledAt"`
	DeactivatedAt  *time.Time `json:"deactivatedAt,omitempty"`
	AlreadyApplied bool       `json:"alreadyApplied,omitempty"`
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := uuid.Parse(chi.URLParam(r, "tournamentId"))
	if err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Invalid tournament id", err.Error(), "VALIDATION_ERROR")
		return
	}

	audit := requesttrace.FromContextOrAnonymous(r.Context())
	if audit.UserID == nil {
		h.writeProblem(w, r, http.StatusUnauthorized, problemTypeUnauthorized, "Unknown caller", "an identified user is required to enroll", "UNAUTHENTICATED")
		return
	}

	input := service.EnrollInput{UserID: *audit.UserID, TournamentID: tournamentID}
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		input.IdempotencyKey = &key
	}

	result, err := h.svc.Enroll(r.Context(), input)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyApplied {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/enrollments/"+result.Enrollment.ID.String())
	writeJSON(w, status, toResponse(result.Enrollment, result.AlreadyApplied))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.enrollmentID(w, r)
	if !ok {
		return
	}

	enrollment, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(enrollment, false))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.enrollmentID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enrollmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "enrollmentId"))
	if err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Invalid enrollment id", err.Error(), "VALIDATION_ERROR")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) problemForError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError

	switch {
	case errors.As(err, &validationErr):
		h.writeProblem(w, r, http.StatusBadRequest, problemTypeValidation, "Validation failed", validationErr.Reason, "VALIDATION_ERROR")
	case errors.Is(err, service.ErrEnrollmentNotFound):
		h.writeProblem(w, r, http.StatusNotFound, problemTypeNotFound, "Enrollment not found", "", "NOT_FOUND")
	case errors.Is(err, service.ErrTournamentNotFound):
		h.writeProblem(w, r, http.StatusNotFound, problemTypeNotFound, "Tournament not found", "", "NOT_FOUND")
	case errors.Is(err, service.ErrTournamentNotOpen):
		h.writeProblem(w, r, http.StatusConflict, problemTypeConflict, "Enrollment is not open", err.Error(), "TOURNAMENT_NOT_OPEN")
	case errors.Is(err, service.ErrDuplicateActiveEnrollment):
		h.writeProblem(w, r, http.StatusConflict, problemTypeConflict, "Already enrolled", err.Error(), "DUPLICATE_ENROLLMENT")
	case errors.Is(err, service.ErrCapacityExceeded):
		h.writeProblem(w, r, http.StatusConflict, problemTypeConflict, "Tournament is full", err.Error(), "CAPACITY_EXCEEDED")
	case errors.Is(err, service.ErrIdempotencyKeyConflict):
		h.writeProblem(w, r, http.StatusConflict, problemTypeConflict, "Idempotency key already used", err.Error(), "IDEMPOTENCY_KEY_CONFLICT")
	case errors.Is(err, service.ErrInsufficientCredit):
		h.writeProblem(w, r, http.StatusPaymentRequired, problemTypePayment, "Insufficient credit", err.Error(), "INSUFFICIENT_CREDIT")
	case errors.Is(err, service.ErrAlreadyCancelled):
		h.writeProblem(w, r, http.StatusConflict, problemTypeConflict, "Enrollment already cancelled", err.Error(), "ALREADY_CANCELLED")
	case errors.Is(err, service.ErrContention):
		h.writeProblem(w, r, http.StatusServiceUnavailable, problemTypeBusy, "Enrollment is busy", "please try again", "CONTENTION")
	default:
		logger := platformlogging.FromRequest(r, h.logger)
		logger.Error("enrollment request failed", zap.Error(err))
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

func toResponse(e service.Enrollment, alreadyApplied bool) enrollmentResponse {
	return enrollmentResponse{
		ID:             e.ID,
		TournamentID:   e.TournamentID,
		UserID:         e.UserID,
		IsActive:       e.IsActive,
		EnrolledAt:     e.EnrolledAt,
		DeactivatedAt:  e.DeactivatedAt,
		AlreadyApplied: alreadyApplied,
	}
}
