package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opencourt/opencourt/platform/go/retry"
)

// ValidationError captures bad input shape, rejected before touching state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// Domain-level errors surfaced by the service. The concurrency-sourced ones
// (duplicate, contention) are retry-safe for callers; the guard ones are not.
var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrTournamentNotOpen means the lifecycle is not in an enrollment-open
	// state right now.
	ErrTournamentNotOpen = errors.New("tournament is not open for enrollment")
	// ErrDuplicateActiveEnrollment means the user already holds an active
	// enrollment for the tournament, whether found up front or reported by
	// the storage constraint after a race.
	ErrDuplicateActiveEnrollment = errors.New("user already enrolled")
	// ErrCapacityExceeded means the tournament is full.
	ErrCapacityExceeded = errors.New("tournament capacity exceeded")
	// ErrInsufficientCredit means the balance cannot cover the enrollment
	// cost, whether checked or reported by the balance floor constraint.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrIdempotencyKeyConflict means the key was already committed for a
	// different user or tournament; replays only match the original pair.
	ErrIdempotencyKeyConflict = errors.New("idempotency key already used")
	// ErrAlreadyCancelled means the enrollment was deactivated earlier.
	ErrAlreadyCancelled = errors.New("enrollment already cancelled")
	// ErrContention means the admission critical section stayed busy past
	// the bounded wait. Retry-safe.
	ErrContention = errors.New("enrollment is busy")
)

// Enrollment is a participant's binding to a tournament. Rows are never
// deleted; cancellation deactivates them so history and re-enrollment both
// work.
type Enrollment struct {
	ID             uuid.UUID
	TournamentID   uuid.UUID
	UserID         uuid.UUID
	IsActive       bool
	IdempotencyKey *string
	EnrolledAt     time.Time
	DeactivatedAt  *time.Time
}

// EnrollResult reports the committed enrollment. AlreadyApplied is set when
// an idempotency-key replay matched a previous commit.
type EnrollResult struct {
	Enrollment     Enrollment
	AlreadyApplied bool
}

// EnrollInput carries one admission request.
type EnrollInput struct {
	UserID       uuid.UUID
	TournamentID uuid.UUID
	// IdempotencyKey makes client retries of the same logical request safe.
	IdempotencyKey *string
}

// Repository is the persistence boundary. Admit commits the admission as one
// atomic unit: status check, duplicate check, capacity check, balance debit
// and row insert all happen in a single transaction under the tournament's
// admission lock.
type Repository interface {
	Admit(ctx context.Context, input EnrollInput) (EnrollResult, error)
	Cancel(ctx context.Context, enrollmentID uuid.UUID) (Enrollment, error)
	Get(ctx context.Context, enrollmentID uuid.UUID) (Enrollment, error)
}

// Service exposes enrollment admission and cancellation.
type Service interface {
	Enroll(ctx context.Context, input EnrollInput) (EnrollResult, error)
	Cancel(ctx context.Context, enrollmentID uuid.UUID) error
	Get(ctx context.Context, enrollmentID uuid.UUID) (Enrollment, error)
}

type service struct {
	repo        Repository
	retryPolicy retry.Policy
}

// New constructs a Service instance.
func New(repo Repository) Service {
	if repo == nil {
		panic("enrollment repository is required")
	}
	return &service{repo: repo, retryPolicy: retry.DefaultPolicy()}
}

func (s *service) Enroll(ctx context.Context, input EnrollInput) (EnrollResult, error) {
	if input.UserID == uuid.Nil {
		return EnrollResult{}, &ValidationError{Reason: "userId is required"}
	}
	if input.TournamentID == uuid.Nil {
		return EnrollResult{}, &ValidationError{Reason: "tournamentId is required"}
	}
	if input.IdempotencyKey != nil && *input.IdempotencyKey == "" {
		return EnrollResult{}, &ValidationError{Reason: "idempotency key must not be empty when provided"}
	}

	var result EnrollResult
	err := retry.Do(ctx, s.retryPolicy, isContention, func() error {
		var admitErr error
		result, admitErr = s.repo.Admit(ctx, input)
		return admitErr
	})
	if err != nil {
		return EnrollResult{}, err
	}
	return result, nil
}

func (s *service) Cancel(ctx context.Context, enrollmentID uuid.UUID) error {
	if enrollmentID == uuid.Nil {
		return &ValidationError{Reason: "enrollmentId is required"}
	}
	_, err := s.repo.Cancel(ctx, enrollmentID)
	return err
}

func (s *service) Get(ctx context.Context, enrollmentID uuid.UUID) (Enrollment, error) {
	if enrollmentID == uuid.Nil {
		return Enrollment{}, &ValidationError{Reason: "enrollmentId is required"}
	}
	return s.repo.Get(ctx, enrollmentID)
}

func isContention(err error) bool {
	return errors.Is(err, ErrContention)
}
