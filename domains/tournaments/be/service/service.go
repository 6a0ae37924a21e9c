package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencourt/opencourt/domains/scheduling/be/generator"
	"github.com/opencourt/opencourt/platform/go/retry"
)

// ValidationError captures bad input shape, rejected before touching state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// Domain-level errors surfaced by the service.
var (
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrInvalidTransition means the target status is not reachable from the
	// current one.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrGuardViolation means the transition is reachable but a business
	// precondition is not met.
	ErrGuardViolation = errors.New("transition guard violation")
	// ErrGenerationFailed wraps a schedule generation failure; the transition
	// it belonged to did not happen.
	ErrGenerationFailed = errors.New("session generation failed")
	// ErrContention means the per-tournament critical section could not be
	// entered within the bounded wait. Retry-safe.
	ErrContention = errors.New("tournament is busy")
)

// AssignmentType describes how an instructor gets attached to a tournament.
type AssignmentType string

const (
	AssignmentOpen        AssignmentType = "OPEN_ASSIGNMENT"
	AssignmentApplication AssignmentType = "APPLICATION_BASED"
)

// Tournament is the aggregate root as the domain sees it.
type Tournament struct {
	ID                  uuid.UUID
	Name                string
	Status              Status
	AssignmentType      AssignmentType
	InstructorID        *uuid.UUID
	MaxPlayers          *int
	EnrollmentCost      int64
	Template            generator.Template
	OpensAt             time.Time
	EnrollmentDeadline  *time.Time
	SessionsGenerated   bool
	SessionsGeneratedAt *time.Time
	RewardDispatched    bool
	StatusReason        *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EffectiveCapacity is the admission ceiling: the explicit max_players
// override when present, otherwise the template maximum.
func (t Tournament) EffectiveCapacity() int {
	if t.MaxPlayers != nil {
		return *t.MaxPlayers
	}
	return t.Template.MaxPlayers
}

// Detail is a tournament enriched with live counts for API rendering.
type Detail struct {
	Tournament
	ActiveEnrollments int
	SessionCount      int
}

// Tx exposes the per-tournament critical section: every read inside it
// observes committed state under the tournament's advisory lock.
type Tx interface {
	Tournament(ctx context.Context) (Tournament, error)
	UpdateStatus(ctx context.Context, from, to Status, reason string) (Tournament, error)
	ActiveParticipantIDs(ctx context.Context) ([]uuid.UUID, error)
	ReplaceSessions(ctx context.Context, sessions []generator.Session) (int, error)
	PurgeSessions(ctx context.Context) error
	SetSessionsGenerated(ctx context.Context, generated bool) error
}

// Repository is the persistence boundary for tournaments.
type Repository interface {
	Create(ctx context.Context, t Tournament) (Tournament, error)
	Get(ctx context.Context, id uuid.UUID) (Tournament, error)
	ActiveEnrollmentCount(ctx context.Context, id uuid.UUID) (int, error)
	SessionCount(ctx context.Context, id uuid.UUID) (int, error)
	// InTournamentTx runs fn inside the tournament's critical section.
	// Implementations return ErrContention when the section cannot be
	// entered within the bounded wait.
	InTournamentTx(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// RewardTrigger hands a completed tournament to the progression collaborator.
// Implementations must be idempotent per tournament ID.
type RewardTrigger interface {
	OnCompleted(ctx context.Context, tournamentID uuid.UUID) error
}

// InstructorResolver reports bindings the assignment collaborator settled
// out-of-band. Implementations persist a binding as they report it.
type InstructorResolver interface {
	IsInstructorBound(ctx context.Context, tournamentID uuid.UUID) (bool, *uuid.UUID, error)
}

// CreateInput carries the fields accepted on tournament creation.
type CreateInput struct {
	Name               string
	AssignmentType     AssignmentType
	MaxPlayers         *int
	EnrollmentCost     int64
	Template           generator.Template
	OpensAt            time.Time
	EnrollmentDeadline *time.Time
}

// Service exposes the tournament lifecycle operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (Tournament, error)
	Get(ctx context.Context, id uuid.UUID) (Detail, error)
	RequestTransition(ctx context.Context, id uuid.UUID, target Status, reason string) (Tournament, error)
	RegenerateSessions(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo        Repository
	rewards     RewardTrigger
	instructors InstructorResolver
	retryPolicy retry.Policy
}

// Option tunes optional service collaborators.
type Option func(*service)

// WithInstructorResolver lets the instructor guard pick up bindings the
// assignment collaborator settled without an explicit bind call.
func WithInstructorResolver(resolver InstructorResolver) Option {
	return func(s *service) {
		s.instructors = resolver
	}
}

// New constructs a Service instance.
func New(repo Repository, rewards RewardTrigger, opts ...Option) Service {
	if repo == nil {
		panic("tournament repository is required")
	}
	if rewards == nil {
		panic("reward trigger is required")
	}
	s := &service{repo: repo, rewards: rewards, retryPolicy: retry.DefaultPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Create(ctx context.Context, input CreateInput) (Tournament, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Tournament{}, &ValidationError{Reason: "name is required"}
	}
	switch input.AssignmentType {
	case AssignmentOpen, AssignmentApplication:
	default:
		return Tournament{}, &ValidationError{Reason: fmt.Sprintf("unknown assignment type %q", input.AssignmentType)}
	}
	if err := input.Template.Validate(); err != nil {
		return Tournament{}, &ValidationError{Reason: err.Error()}
	}
	if input.MaxPlayers != nil && *input.MaxPlayers < input.Template.MinPlayers {
		return Tournament{}, &ValidationError{Reason: "maxPlayers is below the template minimum"}
	}
	if input.EnrollmentCost < 0 {
		return Tournament{}, &ValidationError{Reason: "enrollmentCost must not be negative"}
	}
	if input.OpensAt.IsZero() {
		return Tournament{}, &ValidationError{Reason: "opensAt is required"}
	}

	return s.repo.Create(ctx, Tournament{
		ID:                 uuid.New(),
		Name:               strings.TrimSpace(input.Name),
		Status:             StatusDraft,
		AssignmentType:     input.AssignmentType,
		MaxPlayers:         input.MaxPlayers,
		EnrollmentCost:     input.EnrollmentCost,
		Template:           input.Template,
		OpensAt:            input.OpensAt,
		EnrollmentDeadline: input.EnrollmentDeadline,
	})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Detail, error) {
	if id == uuid.Nil {
		return Detail{}, &ValidationError{Reason: "tournamentId is required"}
	}

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	enrolled, err := s.repo.ActiveEnrollmentCount(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	sessionCount, err := s.repo.SessionCount(ctx, id)
	if err != nil {
		return Detail{}, err
	}

	return Detail{Tournament: t, ActiveEnrollments: enrolled, SessionCount: sessionCount}, nil
}

func (s *service) RequestTransition(ctx context.Context, id uuid.UUID, target Status, reason string) (Tournament, error) {
	if id == uuid.Nil {
		return Tournament{}, &ValidationError{Reason: "tournamentId is required"}
	}
	if _, err := ParseStatus(string(target)); err != nil {
		return Tournament{}, &ValidationError{Reason: err.Error()}
	}

	var result Tournament
	err := retry.Do(ctx, s.retryPolicy, isContention, func() error {
		return s.repo.InTournamentTx(ctx, id, func(ctx context.Context, tx Tx) error {
			t, err := tx.Tournament(ctx)
			if err != nil {
				return err
			}

			// An already-completed tournament asked to complete again is a
			// no-op success, keeping retried completion calls harmless.
			if t.Status == StatusCompleted && target == StatusCompleted {
				result = t
				return nil
			}

			// A binding the assignment collaborator already settled counts
			// for the guard even if nothing polled for it yet; the resolver
			// persists it as it reports it. Resolver failure falls back to
			// the persisted row.
			if t.InstructorID == nil && s.instructors != nil && instructorRequired(t, target) {
				if bound, instructorID, resolveErr := s.instructors.IsInstructorBound(ctx, t.ID); resolveErr == nil && bound {
					t.InstructorID = instructorID
				}
			}

			if err := guardTransition(t, target); err != nil {
				return err
			}

			switch {
			case target == StatusInProgress:
				if err := s.generateInto(ctx, tx, t); err != nil {
					return err
				}
			case rewindsSessions(t.Status, target):
				if err := tx.PurgeSessions(ctx); err != nil {
					return err
				}
				if err := tx.SetSessionsGenerated(ctx, false); err != nil {
					return err
				}
			case target == StatusCompleted:
				// Side effect before the flip: if the dispatch fails the
				// status stays put, and the trigger's own idempotency record
				// keeps a retried transition from dispatching twice.
				if err := s.rewards.OnCompleted(ctx, t.ID); err != nil {
					return fmt.Errorf("reward dispatch: %w", err)
				}
			}

			updated, err := tx.UpdateStatus(ctx, t.Status, target, reason)
			if err != nil {
				return err
			}
			result = updated
			return nil
		})
	})
	if err != nil {
		return Tournament{}, err
	}
	return result, nil
}

func (s *service) RegenerateSessions(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return &ValidationError{Reason: "tournamentId is required"}
	}

	return retry.Do(ctx, s.retryPolicy, isContention, func() error {
		return s.repo.InTournamentTx(ctx, id, func(ctx context.Context, tx Tx) error {
			t, err := tx.Tournament(ctx)
			if err != nil {
				return err
			}
			if t.Status != StatusInProgress {
				return fmt.Errorf("%w: sessions can only be regenerated while in progress, status is %s", ErrGuardViolation, t.Status)
			}
			return s.generateInto(ctx, tx, t)
		})
	})
}

// generateInto rebuilds the auto-generated session set from current
// configuration inside the caller's critical section. The previous set is
// always dropped first so configuration edits propagate cleanly.
func (s *service) generateInto(ctx context.Context, tx Tx, t Tournament) error {
	participants, err := tx.ActiveParticipantIDs(ctx)
	if err != nil {
		return err
	}

	sessions, err := generator.Generate(generator.Plan{
		Template:       t.Template,
		Participants:   participants,
		FirstSessionAt: t.OpensAt,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	if _, err := tx.ReplaceSessions(ctx, sessions); err != nil {
		return err
	}
	return tx.SetSessionsGenerated(ctx, true)
}

func guardTransition(t Tournament, target Status) error {
	if !CanTransition(t.Status, target) {
		return fmt.Errorf("%w: %s cannot move to %s", ErrInvalidTransition, t.Status, target)
	}

	if t.InstructorID == nil && instructorRequired(t, target) {
		return fmt.Errorf("%w: %s tournaments need a bound instructor before %s", ErrGuardViolation, t.AssignmentType, target)
	}

	if target == StatusEnrollmentOpen && t.EffectiveCapacity() < t.Template.MinPlayers {
		return fmt.Errorf("%w: capacity %d cannot seat the template minimum of %d", ErrGuardViolation, t.EffectiveCapacity(), t.Template.MinPlayers)
	}

	return nil
}

func instructorRequired(t Tournament, target Status) bool {
	rank, ranked := statusRank[target]
	return ranked && rank >= requiresInstructorAtOrAfter(t.AssignmentType)
}

func isContention(err error) bool {
	return errors.Is(err, ErrContention)
}
