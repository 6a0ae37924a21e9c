package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeTournament struct {
	status      string
	maxOverride *int
	templateMax int
	cost        int64
}

func (t fakeTournament) capacity() int {
	if t.maxOverride != nil {
		return *t.maxOverride
	}
	return t.templateMax
}

// memoryRepo mirrors the storage-level admission semantics: every Admit is
// one atomic unit under the lock, exactly like the real transaction.
type memoryRepo struct {
	mu          sync.Mutex
	tournaments map[uuid.UUID]fakeTournament
	balances    map[uuid.UUID]int64
	enrollments map[uuid.UUID]Enrollment
	byKey       map[string]uuid.UUID

	contentionLeft int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		tournaments: map[uuid.UUID]fakeTournament{},
		balances:    map[uuid.UUID]int64{},
		enrollments: map[uuid.UUID]Enrollment{},
		byKey:       map[string]uuid.UUID{},
	}
}

func (r *memoryRepo) activeCount(tournamentID uuid.UUID) int {
	count := 0
	for _, e := range r.enrollments {
		if e.TournamentID == tournamentID && e.IsActive {
			count++
		}
	}
	return count
}

func (r *memoryRepo) hasActive(tournamentID, userID uuid.UUID) bool {
	for _, e := range r.enrollments {
		if e.TournamentID == tournamentID && e.UserID == userID && e.IsActive {
			return true
		}
	}
	return false
}

func (r *memoryRepo) Admit(ctx context.Context, input EnrollInput) (EnrollResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.contentionLeft > 0 {
		r.contentionLeft--
		return EnrollResult{}, ErrContention
	}

	if input.IdempotencyKey != nil {
		if id, ok := r.byKey[*input.IdempotencyKey]; ok {
			e := r.enrollments[id]
			if e.UserID != input.UserID || e.TournamentID != input.TournamentID {
				return EnrollResult{}, ErrIdempotencyKeyConflict
			}
			return EnrollResult{Enrollment: e, AlreadyApplied: true}, nil
		}
	}

	t, ok := r.tournaments[input.TournamentID]
	if !ok {
		return EnrollResult{}, ErrTournamentNotFound
	}
	if t.status != "ENROLLMENT_OPEN" {
		return EnrollResult{}, ErrTournamentNotOpen
	}
	if r.hasActive(input.TournamentID, input.UserID) {
		return EnrollResult{}, ErrDuplicateActiveEnrollment
	}
	if r.activeCount(input.TournamentID) >= t.capacity() {
		return EnrollResult{}, ErrCapacityExceeded
	}
	if r.balances[input.UserID] < t.cost {
		return EnrollResult{}, ErrInsufficientCredit
	}

	r.balances[input.UserID] -= t.cost
	e := Enrollment{
		ID:             uuid.New(),
		TournamentID:   input.TournamentID,
		UserID:         input.UserID,
		IsActive:       true,
		IdempotencyKey: input.IdempotencyKey,
		EnrolledAt:     time.Now(),
	}
	r.enrollments[e.ID] = e
	if input.IdempotencyKey != nil {
		r.byKey[*input.IdempotencyKey] = e.ID
	}
	return EnrollResult{Enrollment: e}, nil
}

func (r *memoryRepo) Cancel(ctx context.Context, enrollmentID uuid.UUID) (Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.enrollments[enrollmentID]
	if !ok {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	if !e.IsActive {
		return Enrollment{}, ErrAlreadyCancelled
	}
	e.IsActive = false
	now := time.Now()
	e.DeactivatedAt = &now
	r.enrollments[enrollmentID] = e
	r.balances[e.UserID] += r.tournaments[e.TournamentID].cost
	return e, nil
}

func (r *memoryRepo) Get(ctx context.Context, enrollmentID uuid.UUID) (Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[enrollmentID]
	if !ok {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	return e, nil
}

func (r *memoryRepo) addTournament(capacity int, cost int64) uuid.UUID {
	id := uuid.New()
	r.tournaments[id] = fakeTournament{status: "ENROLLMENT_OPEN", maxOverride: &capacity, templateMax: capacity * 2, cost: cost}
	return id
}

// addTemplateCappedTournament has no max_players override; the template
// maximum is the admission ceiling.
func (r *memoryRepo) addTemplateCappedTournament(templateMax int, cost int64) uuid.UUID {
	id := uuid.New()
	r.tournaments[id] = fakeTournament{status: "ENROLLMENT_OPEN", templateMax: templateMax, cost: cost}
	return id
}

func (r *memoryRepo) addUser(balance int64) uuid.UUID {
	id := uuid.New()
	r.balances[id] = balance
	return id
}

func TestEnrollValidation(t *testing.T) {
	t.Parallel()
	svc := New(newMemoryRepo())

	_, err := svc.Enroll(context.Background(), EnrollInput{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	empty := ""
	_, err = svc.Enroll(context.Background(), EnrollInput{
		UserID:         uuid.New(),
		TournamentID:   uuid.New(),
		IdempotencyKey: &empty,
	})
	require.ErrorAs(t, err, &validationErr)
}

func TestEnrollPreconditionOrder(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)
	ctx := context.Background()

	closed := uuid.New()
	repo.tournaments[closed] = fakeTournament{status: "DRAFT", templateMax: 4, cost: 100}
	user := repo.addUser(1000)

	_, err := svc.Enroll(ctx, EnrollInput{UserID: user, TournamentID: closed})
	require.ErrorIs(t, err, ErrTournamentNotOpen)

	open := repo.addTournament(4, 100)
	first, err := svc.Enroll(ctx, EnrollInput{UserID: user, TournamentID: open})
	require.NoError(t, err)
	require.True(t, first.Enrollment.IsActive)

	_, err = svc.Enroll(ctx, EnrollInput{UserID: user, TournamentID: open})
	require.ErrorIs(t, err, ErrDuplicateActiveEnrollment)

	broke := repo.addUser(10)
	_, err = svc.Enroll(ctx, EnrollInput{UserID: broke, TournamentID: open})
	require.ErrorIs(t, err, ErrInsufficientCredit)
}

func TestConcurrentEnrollSamePairSingleWinner(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)

	tournament := repo.addTournament(16, 100)
	user := repo.addUser(1000)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Enroll(context.Background(), EnrollInput{UserID: user, TournamentID: tournament})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrDuplicateActiveEnrollment)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, int64(900), repo.balances[user])
}

func TestConcurrentOverdrawSingleWinner(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)

	// Balance covers exactly one of the five enrollments.
	user := repo.addUser(100)
	tournaments := make([]uuid.UUID, 5)
	for i := range tournaments {
		tournaments[i] = repo.addTournament(16, 100)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(tournaments))
	for i, id := range tournaments {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.Enroll(context.Background(), EnrollInput{UserID: user, TournamentID: id})
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrInsufficientCredit)
		}
	}
	require.Equal(t, 1, wins)
	require.GreaterOrEqual(t, repo.balances[user], int64(0))
}

func TestCapacityScenario(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)

	tournament := repo.addTournament(4, 50)
	users := make([]uuid.UUID, 5)
	for i := range users {
		users[i] = repo.addUser(500)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, user := range users {
		wg.Add(1)
		go func(i int, user uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.Enroll(context.Background(), EnrollInput{UserID: user, TournamentID: tournament})
		}(i, user)
	}
	wg.Wait()

	wins, capacityFailures := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrCapacityExceeded):
			capacityFailures++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 4, wins)
	require.Equal(t, 1, capacityFailures)
}

func TestCapacityFallsBackToTemplateMaximum(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)
	ctx := context.Background()

	// No max_players override: the format template's maximum caps admission.
	tournament := repo.addTemplateCappedTournament(2, 50)
	for i := 0; i < 2; i++ {
		_, err := svc.Enroll(ctx, EnrollInput{UserID: repo.addUser(500), TournamentID: tournament})
		require.NoError(t, err)
	}

	_, err := svc.Enroll(ctx, EnrollInput{UserID: repo.addUser(500), TournamentID: tournament})
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestIdempotencyKeyBoundToOriginalPair(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)
	ctx := context.Background()

	tournament := repo.addTournament(4, 100)
	owner := repo.addUser(500)
	key := "req-" + uuid.NewString()

	first, err := svc.Enroll(ctx, EnrollInput{UserID: owner, TournamentID: tournament, IdempotencyKey: &key})
	require.NoError(t, err)

	// Another user presenting the key must not receive the owner's row.
	intruder := repo.addUser(500)
	_, err = svc.Enroll(ctx, EnrollInput{UserID: intruder, TournamentID: tournament, IdempotencyKey: &key})
	require.ErrorIs(t, err, ErrIdempotencyKeyConflict)

	// The owner reusing the key against a different tournament is a conflict
	// too, not a replay.
	other := repo.addTournament(4, 100)
	_, err = svc.Enroll(ctx, EnrollInput{UserID: owner, TournamentID: other, IdempotencyKey: &key})
	require.ErrorIs(t, err, ErrIdempotencyKeyConflict)

	// The original pair still replays cleanly.
	replay, err := svc.Enroll(ctx, EnrollInput{UserID: owner, TournamentID: tournament, IdempotencyKey: &key})
	require.NoError(t, err)
	require.True(t, replay.AlreadyApplied)
	require.Equal(t, first.Enrollment.ID, replay.Enrollment.ID)
}

func TestIdempotentReplayReturnsOriginal(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)
	ctx := context.Background()

	tournament := repo.addTournament(4, 100)
	user := repo.addUser(500)
	key := "req-" + uuid.NewString()

	first, err := svc.Enroll(ctx, EnrollInput{UserID: user, TournamentID: tournament, IdempotencyKey: &key})
	require.NoError(t, err)
	require.False(t, first.AlreadyApplied)

	replay, err := svc.Enroll(ctx, EnrollInput{UserID: user, TournamentID: tournament, IdempotencyKey: &key})
	require.NoError(t, err)
	require.True(t, replay.AlreadyApplied)
	require.Equal(t, first.Enrollment.ID, replay.Enrollment.ID)

	// Only one debit happened.
	require.Equal(t, int64(400), repo.balances[user])
}

func TestCancelRefundsAndAllowsReenrollment(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo)
	ctx := context.Background()

	tournament := repo.addTournament(4, 100)
	user := repo.addUser(100)

	first, err := svc.Enroll(ctx, EnrollInput{UserID: user, TournamentID: tournament})
	require.NoError(t, err)
	require.Equal(t, int64(0), repo.balances[user])

	require.NoError(t, svc.Cancel(ctx, first.Enrollment.ID))
	require.Equal(t, int64(100), repo.balances[user])

	require.ErrorIs(t, svc.Cancel(ctx, first.Enrollment.ID), ErrAlreadyCancelled)

	second, err := svc.Enroll(ctx, EnrollInput{UserID: user, TournamentID: tournament})
	require.NoError(t, err)
	require.NotEqual(t, first.Enrollment.ID, second.Enrollment.ID)

	cancelled, err := svc.Get(ctx, first.Enrollment.ID)
	require.NoError(t, err)
	require.False(t, cancelled.IsActive)
	require.NotNil(t, cancelled.DeactivatedAt)
}

func TestEnrollRetriesContention(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	svc := New(repo).(*service)
	svc.retryPolicy.InitialInterval = time.Millisecond

	tournament := repo.addTournament(4, 100)
	user := repo.addUser(500)
	repo.contentionLeft = 2

	result, err := svc.Enroll(context.Background(), EnrollInput{UserID: user, TournamentID: tournament})
	require.NoError(t, err)
	require.True(t, result.Enrollment.IsActive)
}
