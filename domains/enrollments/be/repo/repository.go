package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opencourt/opencourt/domains/enrollments/be/service"
	"github.com/opencourt/opencourt/platform/go/persistence"
)

// PostgresRepository implements the enrollment repository over the shared
// persistence layer. The admission invariants live in the store and the
// schema; this layer translates their failures into domain errors.
type PostgresRepository struct {
	enrollments *persistence.EnrollmentStore
	lockWait    time.Duration
}

// NewPostgresRepository constructs a repository backed by EnrollmentStore.
func NewPostgresRepository(enrollments *persistence.EnrollmentStore, lockWait time.Duration) *PostgresRepository {
	if enrollments == nil {
		panic("enrollment store is required")
	}
	return &PostgresRepository{enrollments: enrollments, lockWait: lockWait}
}

func (r *PostgresRepository) Admit(ctx context.Context, input service.EnrollInput) (service.EnrollResult, error) {
	result, err := r.enrollments.AdmitEnrollment(ctx, persistence.AdmitParams{
		EnrollmentID:   uuid.New(),
		TournamentID:   input.TournamentID,
		UserID:         input.UserID,
		IdempotencyKey: input.IdempotencyKey,
		LockWait:       r.lockWait,
	})
	if err != nil {
		return service.EnrollResult{}, mapStoreError(err)
	}
	return service.EnrollResult{
		Enrollment:     toEnrollment(result.Enrollment),
		AlreadyApplied: result.AlreadyApplied,
	}, nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, enrollmentID uuid.UUID) (service.Enrollment, error) {
	rec, err := r.enrollments.CancelEnrollment(ctx, enrollmentID)
	if err != nil {
		return service.Enrollment{}, mapStoreError(err)
	}
	return toEnrollment(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, enrollmentID uuid.UUID) (service.Enrollment, error) {
	rec, err := r.enrollments.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return service.Enrollment{}, mapStoreError(err)
	}
	return toEnrollment(rec), nil
}

func toEnrollment(rec persistence.EnrollmentRecord) service.Enrollment {
	return service.Enrollment{
		ID:             rec.EnrollmentID,
		TournamentID:   rec.TournamentID,
		UserID:         rec.UserID,
		IsActive:       rec.IsActive,
		IdempotencyKey: rec.IdempotencyKey,
		EnrolledAt:     rec.EnrolledAt,
		DeactivatedAt:  rec.DeactivatedAt,
	}
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrEnrollmentNotFound):
		return service.ErrEnrollmentNotFound
	case errors.Is(err, persistence.ErrTournamentNotFound):
		return service.ErrTournamentNotFound
	case errors.Is(err, persistence.ErrEnrollmentNotOpen):
		return service.ErrTournamentNotOpen
	case errors.Is(err, persistence.ErrDuplicateActiveEnrollment):
		return service.ErrDuplicateActiveEnrollment
	case errors.Is(err, persistence.ErrCapacityFull):
		return service.ErrCapacityExceeded
	case errors.Is(err, persistence.ErrIdempotencyKeyConflict):
		return service.ErrIdempotencyKeyConflict
	case errors.Is(err, persistence.ErrInsufficientBalance), errors.Is(err, persistence.ErrCreditAccountNotFound):
		return service.ErrInsufficientCredit
	case errors.Is(err, persistence.ErrEnrollmentInactive):
		return service.ErrAlreadyCancelled
	case errors.Is(err, persistence.ErrLockNotAcquired):
		return service.ErrContention
	default:
		return err
	}
}
