package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opencourt/opencourt/domains/scheduling/be/generator"
	"github.com/opencourt/opencourt/domains/tournaments/be/service"
	"github.com/opencourt/opencourt/platform/go/persistence"
)

// PostgresRepository implements the tournament repository over the shared
// persistence stores.
type PostgresRepository struct {
	tournaments *persistence.TournamentStore
	sessions    *persistence.SessionStore
	enrollments *persistence.EnrollmentStore
	lockWait    time.Duration
}

// NewPostgresRepository constructs a repository backed by the given stores.
// lockWait bounds how long a critical section waits on the tournament lock.
func NewPostgresRepository(
	tournaments *persistence.TournamentStore,
	sessions *persistence.SessionStore,
	enrollments *persistence.EnrollmentStore,
	lockWait time.Duration,
) *PostgresRepository {
	if tournaments == nil || sessions == nil || enrollments == nil {
		panic("tournament, session and enrollment stores are required")
	}
	return &PostgresRepository{
		tournaments: tournaments,
		sessions:    sessions,
		enrollments: enrollments,
		lockWait:    lockWait,
	}
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tournament) (service.Tournament, error) {
	rec, err := r.tournaments.CreateTournament(ctx, toRecord(t))
	if err != nil {
		return service.Tournament{}, err
	}
	return toTournament(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tournament, error) {
	rec, err := r.tournaments.GetTournament(ctx, id)
	if err != nil {
		return service.Tournament{}, mapStoreError(err)
	}
	return toTournament(rec), nil
}

func (r *PostgresRepository) ActiveEnrollmentCount(ctx context.Context, id uuid.UUID) (int, error) {
	return r.enrollments.CountActive(ctx, id)
}

func (r *PostgresRepository) SessionCount(ctx context.Context, id uuid.UUID) (int, error) {
	return r.sessions.CountGenerated(ctx, id)
}

func (r *PostgresRepository) InTournamentTx(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx service.Tx) error) error {
	err := r.tournaments.WithTournamentTx(ctx, id, r.lockWait, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txOps{repo: r, tx: tx, tournamentID: id})
	})
	return mapStoreError(err)
}

// ListDueEnrollmentClose returns ids whose enrollment deadline has passed.
func (r *PostgresRepository) ListDueEnrollmentClose(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	recs, err := r.tournaments.ListDueEnrollmentClose(ctx, now)
	if err != nil {
		return nil, err
	}
	return recordIDs(recs), nil
}

// ListDueStart returns ids whose opening time has been reached.
func (r *PostgresRepository) ListDueStart(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	recs, err := r.tournaments.ListDueStart(ctx, now)
	if err != nil {
		return nil, err
	}
	return recordIDs(recs), nil
}

// txOps adapts a pgx transaction to the service's critical-section interface.
type txOps struct {
	repo         *PostgresRepository
	tx           pgx.Tx
	tournamentID uuid.UUID
}

func (o *txOps) Tournament(ctx context.Context) (service.Tournament, error) {
	rec, err := o.repo.tournaments.GetTournamentTx(ctx, o.tx, o.tournamentID)
	if err != nil {
		return service.Tournament{}, mapStoreError(err)
	}
	return toTournament(rec), nil
}

func (o *txOps) UpdateStatus(ctx context.Context, from, to service.Status, reason string) (service.Tournament, error) {
	rec, err := o.repo.tournaments.UpdateStatusTx(ctx, o.tx, o.tournamentID, string(from), string(to), reason)
	if err != nil {
		return service.Tournament{}, mapStoreError(err)
	}
	return toTournament(rec), nil
}

func (o *txOps) ActiveParticipantIDs(ctx context.Context) ([]uuid.UUID, error) {
	return o.repo.enrollments.ListActiveParticipantIDsTx(ctx, o.tx, o.tournamentID)
}

func (o *txOps) ReplaceSessions(ctx context.Context, sessions []generator.Session) (int, error) {
	records := make([]persistence.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		participants, err := json.Marshal(s.Slots)
		if err != nil {
			return 0, fmt.Errorf("encode session slots: %w", err)
		}
		records = append(records, persistence.SessionRecord{
			SessionID:    uuid.New(),
			RoundNumber:  s.RoundNumber,
			MatchNumber:  s.MatchNumber,
			Phase:        string(s.Phase),
			FieldNumber:  s.FieldNumber,
			Participants: participants,
			StartsAt:     s.StartsAt,
			EndsAt:       s.EndsAt,
		})
	}
	return o.repo.sessions.ReplaceGeneratedTx(ctx, o.tx, o.tournamentID, records)
}

func (o *txOps) PurgeSessions(ctx context.Context) error {
	return o.repo.sessions.DeleteGeneratedTx(ctx, o.tx, o.tournamentID)
}

func (o *txOps) SetSessionsGenerated(ctx context.Context, generated bool) error {
	return o.repo.tournaments.SetSessionsGeneratedTx(ctx, o.tx, o.tournamentID, generated)
}

func toRecord(t service.Tournament) persistence.TournamentRecord {
	return persistence.TournamentRecord{
		TournamentID:        t.ID,
		Name:                t.Name,
		Status:              string(t.Status),
		AssignmentType:      string(t.AssignmentType),
		InstructorID:        t.InstructorID,
		MaxPlayers:          t.MaxPlayers,
		EnrollmentCost:      t.EnrollmentCost,
		Format:              string(t.Template.Format),
		MinPlayers:          t.Template.MinPlayers,
		TemplateMaxPlayers:  t.Template.MaxPlayers,
		RequiresPowerOfTwo:  t.Template.RequiresPowerOfTwo,
		RoundCount:          t.Template.RoundCount,
		SessionDurationMins: t.Template.SessionDurationMins,
		BreakBetweenMins:    t.Template.BreakBetweenMins,
		ParallelFields:      t.Template.ParallelFields,
		OpensAt:             t.OpensAt,
		EnrollmentDeadline:  t.EnrollmentDeadline,
		SessionsGenerated:   t.SessionsGenerated,
		SessionsGeneratedAt: t.SessionsGeneratedAt,
		RewardDispatched:    t.RewardDispatched,
		StatusReason:        t.StatusReason,
	}
}

func toTournament(rec persistence.TournamentRecord) service.Tournament {
	return service.Tournament{
		ID:             rec.TournamentID,
		Name:           rec.Name,
		Status:         service.Status(rec.Status),
		AssignmentType: service.AssignmentType(rec.AssignmentType),
		InstructorID:   rec.InstructorID,
		MaxPlayers:     rec.MaxPlayers,
		EnrollmentCost: rec.EnrollmentCost,
		Template: generator.Template{
			Format:              generator.Format(rec.Format),
			MinPlayers:          rec.MinPlayers,
			MaxPlayers:          rec.TemplateMaxPlayers,
			RequiresPowerOfTwo:  rec.RequiresPowerOfTwo,
			RoundCount:          rec.RoundCount,
			SessionDurationMins: rec.SessionDurationMins,
			BreakBetweenMins:    rec.BreakBetweenMins,
			ParallelFields:      rec.ParallelFields,
		},
		OpensAt:             rec.OpensAt,
		EnrollmentDeadline:  rec.EnrollmentDeadline,
		SessionsGenerated:   rec.SessionsGenerated,
		SessionsGeneratedAt: rec.SessionsGeneratedAt,
		RewardDispatched:    rec.RewardDispatched,
		StatusReason:        rec.StatusReason,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}

func recordIDs(recs []persistence.TournamentRecord) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.TournamentID)
	}
	return ids
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrTournamentNotFound):
		return service.ErrTournamentNotFound
	case errors.Is(err, persistence.ErrLockNotAcquired):
		return service.ErrContention
	case errors.Is(err, persistence.ErrStatusConflict):
		return fmt.Errorf("%w: %w", service.ErrContention, err)
	default:
		return err
	}
}
