package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeDueLister struct {
	closeDue []uuid.UUID
	startDue []uuid.UUID
}

func (f *fakeDueLister) ListDueEnrollmentClose(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return f.closeDue, nil
}

func (f *fakeDueLister) ListDueStart(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return f.startDue, nil
}

func TestSweepClosesAndStartsDueTournaments(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})

	instructor := uuid.New()
	open := seedTournament(repo, AssignmentApplication, StatusEnrollmentOpen, func(t *Tournament) {
		t.InstructorID = &instructor
	})
	closed := seedTournament(repo, AssignmentApplication, StatusEnrollmentClosed, func(t *Tournament) {
		t.InstructorID = &instructor
	})
	enroll(repo, closed.ID, 4)

	sweeper, err := NewSweeper(svc, &fakeDueLister{
		closeDue: []uuid.UUID{open.ID},
		startDue: []uuid.UUID{closed.ID},
	}, zaptest.NewLogger(t), time.Minute)
	require.NoError(t, err)

	sweeper.Sweep(context.Background())

	require.Equal(t, StatusEnrollmentClosed, repo.tournaments[open.ID].Status)
	require.Equal(t, StatusInProgress, repo.tournaments[closed.ID].Status)
	require.Len(t, repo.sessions[closed.ID], 6)
}

func TestSweepSkipsTournamentsThatMovedOn(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})

	// Already cancelled by an admin between the listing and the sweep.
	gone := seedTournament(repo, AssignmentApplication, StatusCancelled, nil)

	sweeper, err := NewSweeper(svc, &fakeDueLister{closeDue: []uuid.UUID{gone.ID}}, zaptest.NewLogger(t), 0)
	require.NoError(t, err)

	sweeper.Sweep(context.Background())
	require.Equal(t, StatusCancelled, repo.tournaments[gone.ID].Status)
}
