package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opencourt/opencourt/domains/scheduling/be/generator"
)

// memoryRepo is a stateful in-memory repository; its mutex stands in for the
// per-tournament critical section.
type memoryRepo struct {
	mu           sync.Mutex
	tournaments  map[uuid.UUID]Tournament
	participants map[uuid.UUID][]uuid.UUID
	sessions     map[uuid.UUID][]generator.Session

	// contentionLeft makes the next N critical-section entries fail.
	contentionLeft int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		tournaments:  map[uuid.UUID]Tournament{},
		participants: map[uuid.UUID][]uuid.UUID{},
		sessions:     map[uuid.UUID][]generator.Session{},
	}
}

func (r *memoryRepo) Create(ctx context.Context, t Tournament) (Tournament, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	r.tournaments[t.ID] = t
	return t, nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Tournament, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tournaments[id]
	if !ok {
		return Tournament{}, ErrTournamentNotFound
	}
	return t, nil
}

func (r *memoryRepo) ActiveEnrollmentCount(ctx context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants[id]), nil
}

func (r *memoryRepo) SessionCount(ctx context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[id]), nil
}

func (r *memoryRepo) InTournamentTx(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contentionLeft > 0 {
		r.contentionLeft--
		return ErrContention
	}
	if _, ok := r.tournaments[id]; !ok {
		return ErrTournamentNotFound
	}
	return fn(ctx, &memoryTx{repo: r, id: id})
}

type memoryTx struct {
	repo *memoryRepo
	id   uuid.UUID
}

func (m *memoryTx) Tournament(ctx context.Context) (Tournament, error) {
	return m.repo.tournaments[m.id], nil
}

func (m *memoryTx) UpdateStatus(ctx context.Context, from, to Status, reason string) (Tournament, error) {
	t := m.repo.tournaments[m.id]
	if t.Status != from {
		return Tournament{}, ErrContention
	}
	t.Status = to
	if reason != "" {
		t.StatusReason = &reason
	}
	t.UpdatedAt = time.Now()
	m.repo.tournaments[m.id] = t
	return t, nil
}

func (m *memoryTx) ActiveParticipantIDs(ctx context.Context) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), m.repo.participants[m.id]...), nil
}

func (m *memoryTx) ReplaceSessions(ctx context.Context, sessions []generator.Session) (int, error) {
	m.repo.sessions[m.id] = append([]generator.Session(nil), sessions...)
	return len(sessions), nil
}

func (m *memoryTx) PurgeSessions(ctx context.Context) error {
	delete(m.repo.sessions, m.id)
	return nil
}

func (m *memoryTx) SetSessionsGenerated(ctx context.Context, generated bool) error {
	t := m.repo.tournaments[m.id]
	t.SessionsGenerated = generated
	if generated {
		now := time.Now()
		t.SessionsGeneratedAt = &now
	} else {
		t.SessionsGeneratedAt = nil
	}
	m.repo.tournaments[m.id] = t
	return nil
}

type fakeRewards struct {
	calls int
	err   error
}

func (f *fakeRewards) OnCompleted(ctx context.Context, tournamentID uuid.UUID) error {
	f.calls++
	return f.err
}

func defaultTemplate() generator.Template {
	return generator.Template{
		Format:              generator.FormatRoundRobin,
		MinPlayers:          2,
		MaxPlayers:          8,
		SessionDurationMins: 30,
		BreakBetweenMins:    5,
		ParallelFields:      1,
	}
}

func seedTournament(repo *memoryRepo, assignment AssignmentType, status Status, mutate func(*Tournament)) Tournament {
	t := Tournament{
		ID:             uuid.New(),
		Name:           "spring league",
		Status:         status,
		AssignmentType: assignment,
		EnrollmentCost: 100,
		Template:       defaultTemplate(),
		OpensAt:        time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(&t)
	}
	repo.tournaments[t.ID] = t
	return t
}

func enroll(repo *memoryRepo, tournamentID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		repo.participants[tournamentID] = append(repo.participants[tournamentID], uuid.New())
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc := New(newMemoryRepo(), &fakeRewards{})

	_, err := svc.Create(context.Background(), CreateInput{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = svc.Create(context.Background(), CreateInput{
		Name:           "x",
		AssignmentType: "SOMETHING_ELSE",
		Template:       defaultTemplate(),
		OpensAt:        time.Now(),
	})
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateStartsInDraft(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})

	created, err := svc.Create(context.Background(), CreateInput{
		Name:           "autumn knockout",
		AssignmentType: AssignmentApplication,
		EnrollmentCost: 50,
		Template:       defaultTemplate(),
		OpensAt:        time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, created.Status)
	require.NotEqual(t, uuid.Nil, created.ID)
}

func TestApplicationBasedInstructorTiming(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})
	ctx := context.Background()

	tour := seedTournament(repo, AssignmentApplication, StatusDraft, nil)

	// Seeking can start with no instructor bound.
	_, err := svc.RequestTransition(ctx, tour.ID, StatusSeekingInstructor, "")
	require.NoError(t, err)

	// Enrollment readiness cannot.
	_, err = svc.RequestTransition(ctx, tour.ID, StatusReadyForEnrollment, "")
	require.ErrorIs(t, err, ErrGuardViolation)

	instructor := uuid.New()
	cur := repo.tournaments[tour.ID]
	cur.InstructorID = &instructor
	repo.tournaments[tour.ID] = cur

	updated, err := svc.RequestTransition(ctx, tour.ID, StatusReadyForEnrollment, "")
	require.NoError(t, err)
	require.Equal(t, StatusReadyForEnrollment, updated.Status)
}

type fakeResolver struct {
	bound        bool
	instructorID *uuid.UUID
	calls        int
}

func (f *fakeResolver) IsInstructorBound(ctx context.Context, tournamentID uuid.UUID) (bool, *uuid.UUID, error) {
	f.calls++
	return f.bound, f.instructorID, nil
}

func TestDirectorySettledBindingUnblocksTransition(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	instructor := uuid.New()
	resolver := &fakeResolver{bound: true, instructorID: &instructor}
	svc := New(repo, &fakeRewards{}, WithInstructorResolver(resolver))
	ctx := context.Background()

	// No instructor on the row, but the collaborator has one settled.
	tour := seedTournament(repo, AssignmentApplication, StatusSeekingInstructor, nil)

	updated, err := svc.RequestTransition(ctx, tour.ID, StatusReadyForEnrollment, "")
	require.NoError(t, err)
	require.Equal(t, StatusReadyForEnrollment, updated.Status)
	require.Equal(t, 1, resolver.calls)
}

func TestResolverNotConsultedWhenRowIsBound(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	resolver := &fakeResolver{}
	svc := New(repo, &fakeRewards{}, WithInstructorResolver(resolver))
	ctx := context.Background()

	instructor := uuid.New()
	tour := seedTournament(repo, AssignmentApplication, StatusSeekingInstructor, func(t *Tournament) {
		t.InstructorID = &instructor
	})

	_, err := svc.RequestTransition(ctx, tour.ID, StatusReadyForEnrollment, "")
	require.NoError(t, err)
	require.Zero(t, resolver.calls)
}

func TestUnsettledResolverStillBlocksTransition(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	resolver := &fakeResolver{}
	svc := New(repo, &fakeRewards{}, WithInstructorResolver(resolver))

	tour := seedTournament(repo, AssignmentApplication, StatusSeekingInstructor, nil)

	_, err := svc.RequestTransition(context.Background(), tour.ID, StatusReadyForEnrollment, "")
	require.ErrorIs(t, err, ErrGuardViolation)
	require.Equal(t, 1, resolver.calls)
}

func TestOpenAssignmentNeedsInstructorAfterSeeking(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})
	ctx := context.Background()

	tour := seedTournament(repo, AssignmentOpen, StatusSeekingInstructor, nil)

	_, err := svc.RequestTransition(ctx, tour.ID, StatusPendingAcceptance, "")
	require.ErrorIs(t, err, ErrGuardViolation)

	instructor := uuid.New()
	cur := repo.tournaments[tour.ID]
	cur.InstructorID = &instructor
	repo.tournaments[tour.ID] = cur

	_, err = svc.RequestTransition(ctx, tour.ID, StatusPendingAcceptance, "")
	require.NoError(t, err)
}

func TestUnreachableTargetFails(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})

	tour := seedTournament(repo, AssignmentApplication, StatusDraft, nil)

	_, err := svc.RequestTransition(context.Background(), tour.ID, StatusInProgress, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStartGeneratesSessionsThenFlips(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})
	ctx := context.Background()

	instructor := uuid.New()
	tour := seedTournament(repo, AssignmentApplication, StatusEnrollmentClosed, func(t *Tournament) {
		t.InstructorID = &instructor
	})
	enroll(repo, tour.ID, 4)

	updated, err := svc.RequestTransition(ctx, tour.ID, StatusInProgress, "")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, updated.Status)
	require.True(t, repo.tournaments[tour.ID].SessionsGenerated)
	// Four players round robin: three rounds of two matches.
	require.Len(t, repo.sessions[tour.ID], 6)
}

func TestGenerationFailureLeavesStatusUnchanged(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})
	ctx := context.Background()

	instructor := uuid.New()
	tour := seedTournament(repo, AssignmentApplication, StatusEnrollmentClosed, func(t *Tournament) {
		t.InstructorID = &instructor
	})
	enroll(repo, tour.ID, 1) // below the template minimum of 2

	_, err := svc.RequestTransition(ctx, tour.ID, StatusInProgress, "")
	require.ErrorIs(t, err, ErrGenerationFailed)

	var genErr *generator.GenerationError
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, "participant_count", genErr.Constraint)

	require.Equal(t, StatusEnrollmentClosed, repo.tournaments[tour.ID].Status)
	require.False(t, repo.tournaments[tour.ID].SessionsGenerated)
	require.Empty(t, repo.sessions[tour.ID])
}

func TestRewindPurgesSessionsAndRegenerationHonorsNewConfig(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})
	ctx := context.Background()

	instructor := uuid.New()
	tour := seedTournament(repo, AssignmentApplication, StatusEnrollmentClosed, func(t *Tournament) {
		t.InstructorID = &instructor
		t.Template.Format = generator.FormatIndividualRanking
		t.Template.MinPlayers = 1
		t.Template.RoundCount = 3
	})
	enroll(repo, tour.ID, 4)

	_, err := svc.RequestTransition(ctx, tour.ID, StatusInProgress, "")
	require.NoError(t, err)
	require.Len(t, repo.sessions[tour.ID], 3)

	_, err = svc.RequestTransition(ctx, tour.ID, StatusEnrollmentClosed, "config change")
	require.NoError(t, err)
	require.Empty(t, repo.sessions[tour.ID])
	require.False(t, repo.tournaments[tour.ID].SessionsGenerated)

	cur := repo.tournaments[tour.ID]
	cur.Template.RoundCount = 5
	repo.tournaments[tour.ID] = cur

	_, err = svc.RequestTransition(ctx, tour.ID, StatusInProgress, "")
	require.NoError(t, err)
	require.Len(t, repo.sessions[tour.ID], 5)
}

func TestCompletionFiresRewardOnce(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	rewards := &fakeRewards{}
	svc := New(repo, rewards)
	ctx := context.Background()

	instructor := uuid.New()
	tour := seedTournament(repo, AssignmentApplication, StatusInProgress, func(t *Tournament) {
		t.InstructorID = &instructor
		t.SessionsGenerated = true
	})

	_, err := svc.RequestTransition(ctx, tour.ID, StatusCompleted, "")
	require.NoError(t, err)
	require.Equal(t, 1, rewards.calls)

	// Completing an already-completed tournament is a quiet success.
	updated, err := svc.RequestTransition(ctx, tour.ID, StatusCompleted, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Equal(t, 1, rewards.calls)
}

func TestRewardFailureAbortsCompletion(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	rewards := &fakeRewards{err: errors.New("progression service down")}
	svc := New(repo, rewards)

	instructor := uuid.New()
	tour := seedTournament(repo, AssignmentApplication, StatusInProgress, func(t *Tournament) {
		t.InstructorID = &instructor
	})

	_, err := svc.RequestTransition(context.Background(), tour.ID, StatusCompleted, "")
	require.Error(t, err)
	require.Equal(t, StatusInProgress, repo.tournaments[tour.ID].Status)
}

func TestCancellation(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})
	ctx := context.Background()

	tour := seedTournament(repo, AssignmentApplication, StatusSeekingInstructor, nil)
	updated, err := svc.RequestTransition(ctx, tour.ID, StatusCancelled, "no instructor found")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)
	require.NotNil(t, updated.StatusReason)

	done := seedTournament(repo, AssignmentApplication, StatusCompleted, nil)
	_, err = svc.RequestTransition(ctx, done.ID, StatusCancelled, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestContentionIsRetried(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{}).(*service)
	svc.retryPolicy.InitialInterval = time.Millisecond
	ctx := context.Background()

	tour := seedTournament(repo, AssignmentApplication, StatusDraft, nil)
	repo.contentionLeft = 2

	updated, err := svc.RequestTransition(ctx, tour.ID, StatusSeekingInstructor, "")
	require.NoError(t, err)
	require.Equal(t, StatusSeekingInstructor, updated.Status)
}

func TestContentionSurfacesAfterRetriesExhausted(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{}).(*service)
	svc.retryPolicy.InitialInterval = time.Millisecond
	svc.retryPolicy.MaxAttempts = 2

	tour := seedTournament(repo, AssignmentApplication, StatusDraft, nil)
	repo.contentionLeft = 10

	_, err := svc.RequestTransition(context.Background(), tour.ID, StatusSeekingInstructor, "")
	require.ErrorIs(t, err, ErrContention)
}

func TestRegenerateSessionsRequiresInProgress(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})
	ctx := context.Background()

	tour := seedTournament(repo, AssignmentApplication, StatusEnrollmentOpen, nil)
	err := svc.RegenerateSessions(ctx, tour.ID)
	require.ErrorIs(t, err, ErrGuardViolation)

	instructor := uuid.New()
	running := seedTournament(repo, AssignmentApplication, StatusInProgress, func(t *Tournament) {
		t.InstructorID = &instructor
	})
	enroll(repo, running.ID, 4)

	require.NoError(t, svc.RegenerateSessions(ctx, running.ID))
	require.Len(t, repo.sessions[running.ID], 6)
	require.True(t, repo.tournaments[running.ID].SessionsGenerated)
}

func TestTransitionUnknownStatusRejected(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo, &fakeRewards{})

	tour := seedTournament(repo, AssignmentApplication, StatusDraft, nil)
	_, err := svc.RequestTransition(context.Background(), tour.ID, Status("HALFTIME"), "")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}
