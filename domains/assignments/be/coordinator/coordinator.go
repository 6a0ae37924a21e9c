// Package coordinator is the thin boundary between the tournament lifecycle
// and the external instructor-assignment collaborator. Matching, offers and
// eligibility all live on the other side; this side only reads the current
// bound state and persists it onto the tournament row.
package coordinator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourt/opencourt/platform/go/persistence"
)

// ErrNoInstructor means no instructor is bound and none could be found.
var ErrNoInstructor = errors.New("no instructor bound")

// InstructorDirectory is the external assignment collaborator. Accept and
// decline notifications land out-of-band; FindBoundInstructor reflects the
// latest state the collaborator knows.
type InstructorDirectory interface {
	FindBoundInstructor(ctx context.Context, tournamentID uuid.UUID) (*uuid.UUID, error)
	RequestAssignment(ctx context.Context, tournamentID, instructorID uuid.UUID) (uuid.UUID, error)
}

// TournamentBinder is the slice of the tournament store the coordinator
// needs: reading a row and persisting an instructor onto it.
type TournamentBinder interface {
	GetTournament(ctx context.Context, id uuid.UUID) (persistence.TournamentRecord, error)
	SetInstructor(ctx context.Context, id, instructorID uuid.UUID) (persistence.TournamentRecord, error)
}

// Coordinator answers "is this tournament allowed to advance" for the
// instructor guards and persists bindings as they become known.
type Coordinator struct {
	tournaments TournamentBinder
	directory   InstructorDirectory
	logger      *zap.Logger
}

// New constructs a Coordinator instance.
func New(tournaments TournamentBinder, directory InstructorDirectory, logger *zap.Logger) *Coordinator {
	if tournaments == nil {
		panic("tournament store is required")
	}
	if directory == nil {
		panic("instructor directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{tournaments: tournaments, directory: directory, logger: logger}
}

// IsInstructorBound reports whether the tournament has an instructor. When
// the row is unbound it polls the directory once and persists a binding the
// collaborator already settled.
func (c *Coordinator) IsInstructorBound(ctx context.Context, tournamentID uuid.UUID) (bool, *uuid.UUID, error) {
	rec, err := c.tournaments.GetTournament(ctx, tournamentID)
	if err != nil {
		return false, nil, err
	}
	if rec.InstructorID != nil {
		return true, rec.InstructorID, nil
	}

	found, err := c.directory.FindBoundInstructor(ctx, tournamentID)
	if err != nil {
		return false, nil, err
	}
	if found == nil {
		return false, nil, nil
	}

	if _, err := c.tournaments.SetInstructor(ctx, tournamentID, *found); err != nil {
		return false, nil, err
	}
	c.logger.Info("persisted instructor binding from directory",
		zap.String("tournament_id", tournamentID.String()),
		zap.String("instructor_id", found.String()))
	return true, found, nil
}

// BindInstructor persists an explicit binding and notifies the collaborator
// so its offer workflow stays in sync.
func (c *Coordinator) BindInstructor(ctx context.Context, tournamentID, instructorID uuid.UUID) error {
	if instructorID == uuid.Nil {
		return errors.New("instructorId is required")
	}

	if _, err := c.tournaments.SetInstructor(ctx, tournamentID, instructorID); err != nil {
		return err
	}

	if _, err := c.directory.RequestAssignment(ctx, tournamentID, instructorID); err != nil {
		// The binding is already durable; the collaborator catches up on its
		// own schedule.
		c.logger.Warn("assignment request to directory failed",
			zap.String("tournament_id", tournamentID.String()), zap.Error(err))
	}
	return nil
}

// NoopDirectory is the stand-in used when no assignment collaborator is
// configured: nothing is ever bound out-of-band.
type NoopDirectory struct{}

func (NoopDirectory) FindBoundInstructor(ctx context.Context, tournamentID uuid.UUID) (*uuid.UUID, error) {
	return nil, nil
}

func (NoopDirectory) RequestAssignment(ctx context.Context, tournamentID, instructorID uuid.UUID) (uuid.UUID, error) {
	return uuid.New(), nil
}
