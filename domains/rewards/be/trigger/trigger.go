// Package trigger dispatches reward progression exactly once per completed
// tournament. The dispatch ledger row and the progression side effect commit
// in the same transaction, so a retried completion attempt finds the row and
// does nothing.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/opencourt/opencourt/platform/go/persistence"
)

// CompletionSnapshot carries everything the progression engine needs about a
// finished tournament.
type CompletionSnapshot struct {
	TournamentID   uuid.UUID
	Name           string
	Format         string
	ParticipantIDs []uuid.UUID
	SessionCount   int
	FinishedAt     time.Time
}

// ProgressionService records ladder and rating effects of a completed
// tournament. Implementations must be safe to call at most once per
// tournament; the trigger guarantees that.
type ProgressionService interface {
	RecordCompletion(ctx context.Context, snapshot CompletionSnapshot) error
}

// DispatchLedger is the slice of the reward dispatch store the trigger needs.
type DispatchLedger interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	MarkDispatched(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) (bool, error)
}

// TournamentReader loads the row and flips its dispatched flag inside the
// dispatch transaction.
type TournamentReader interface {
	GetTournamentTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (persistence.TournamentRecord, error)
	SetRewardDispatchedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// ParticipantLister reads the active roster inside the dispatch transaction.
type ParticipantLister interface {
	ListActiveParticipantIDsTx(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) ([]uuid.UUID, error)
}

// SessionCounter reports how many sessions the tournament ran.
type SessionCounter interface {
	CountGenerated(ctx context.Context, tournamentID uuid.UUID) (int, error)
}

// Trigger wires tournament completion into the progression engine.
type Trigger struct {
	ledger      DispatchLedger
	tournaments TournamentReader
	enrollments ParticipantLister
	sessions    SessionCounter
	progression ProgressionService
	logger      *zap.Logger
}

// New constructs a Trigger instance.
func New(ledger DispatchLedger, tournaments TournamentReader, enrollments ParticipantLister, sessions SessionCounter, progression ProgressionService, logger *zap.Logger) *Trigger {
	if ledger == nil {
		panic("dispatch ledger is required")
	}
	if tournaments == nil {
		panic("tournament store is required")
	}
	if enrollments == nil {
		panic("enrollment store is required")
	}
	if sessions == nil {
		panic("session store is required")
	}
	if progression == nil {
		panic("progression service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		ledger:      ledger,
		tournaments: tournaments,
		enrollments: enrollments,
		sessions:    sessions,
		progression: progression,
		logger:      logger,
	}
}

// OnCompleted dispatches progression for the tournament. Safe to call
// repeatedly: the first call that commits wins, every later call is a no-op.
// A progression failure rolls the ledger row back so the completion attempt
// can be retried.
func (t *Trigger) OnCompleted(ctx context.Context, tournamentID uuid.UUID) error {
	tx, err := t.ledger.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin reward dispatch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := t.ledger.MarkDispatched(ctx, tx, tournamentID)
	if err != nil {
		return fmt.Errorf("mark reward dispatched: %w", err)
	}
	if !fresh {
		t.logger.Debug("reward already dispatched",
			zap.String("tournament_id", tournamentID.String()))
		return nil
	}

	snapshot, err := t.buildSnapshot(ctx, tx, tournamentID)
	if err != nil {
		return err
	}

	if err := t.progression.RecordCompletion(ctx, snapshot); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	if err := t.tournaments.SetRewardDispatchedTx(ctx, tx, tournamentID); err != nil {
		return fmt.Errorf("flag reward dispatched: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reward dispatch: %w", err)
	}

	t.logger.Info("reward progression dispatched",
		zap.String("tournament_id", tournamentID.String()),
		zap.Int("participants", len(snapshot.ParticipantIDs)),
		zap.Int("sessions", snapshot.SessionCount))
	return nil
}

func (t *Trigger) buildSnapshot(ctx context.Context, tx pgx.Tx, tournamentID uuid.UUID) (CompletionSnapshot, error) {
	rec, err := t.tournaments.GetTournamentTx(ctx, tx, tournamentID)
	if err != nil {
		return CompletionSnapshot{}, fmt.Errorf("load tournament: %w", err)
	}

	participants, err := t.enrollments.ListActiveParticipantIDsTx(ctx, tx, tournamentID)
	if err != nil {
		return CompletionSnapshot{}, fmt.Errorf("list participants: %w", err)
	}

	sessionCount, err := t.sessions.CountGenerated(ctx, tournamentID)
	if err != nil {
		return CompletionSnapshot{}, fmt.Errorf("count sessions: %w", err)
	}

	return CompletionSnapshot{
		TournamentID:   tournamentID,
		Name:           rec.Name,
		Format:         rec.Format,
		ParticipantIDs: participants,
		SessionCount:   sessionCount,
		FinishedAt:     time.Now().UTC(),
	}, nil
}

// LoggingProgression is the default progression sink when no engine is
// configured. It records the completion to the log and nothing else.
type LoggingProgression struct {
	Logger *zap.Logger
}

func (p LoggingProgression) RecordCompletion(_ context.Context, snapshot CompletionSnapshot) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("tournament completion recorded",
		zap.String("tournament_id", snapshot.TournamentID.String()),
		zap.String("format", snapshot.Format),
		zap.Int("participants", len(snapshot.ParticipantIDs)))
	return nil
}
