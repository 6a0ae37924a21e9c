package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/opencourt/opencourt/domains/assignments/be/coordinator"
	"github.com/opencourt/opencourt/platform/go/persistence"
)

type fakeBinder struct {
	records map[uuid.UUID]persistence.TournamentRecord
	setErr  error
}

func (f *fakeBinder) GetTournament(_ context.Context, id uuid.UUID) (persistence.TournamentRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return persistence.TournamentRecord{}, persistence.ErrTournamentNotFound
	}
	return rec, nil
}

func (f *fakeBinder) SetInstructor(_ context.Context, id, instructorID uuid.UUID) (persistence.TournamentRecord, error) {
	if f.setErr != nil {
		return persistence.TournamentRecord{}, f.setErr
	}
	rec, ok := f.records[id]
	if !ok {
		return persistence.TournamentRecord{}, persistence.ErrTournamentNotFound
	}
	rec.InstructorID = &instructorID
	f.records[id] = rec
	return rec, nil
}

type fakeDirectory struct {
	found    *uuid.UUID
	requests int
}

func (f *fakeDirectory) FindBoundInstructor(context.Context, uuid.UUID) (*uuid.UUID, error) {
	return f.found, nil
}

func (f *fakeDirectory) RequestAssignment(_ context.Context, _, instructorID uuid.UUID) (uuid.UUID, error) {
	f.requests++
	return uuid.New(), nil
}

func newTestRouter(t *testing.T, binder *fakeBinder, directory *fakeDirectory) chi.Router {
	t.Helper()
	coord := coordinator.New(binder, directory, zaptest.NewLogger(t))
	r := chi.NewRouter()
	r.Mount("/api/v1/tournaments/{tournamentId}/instructor", New(coord, zaptest.NewLogger(t)).Routes())
	return r
}

func TestGetBindingReportsBoundInstructor(t *testing.T) {
	tournamentID := uuid.New()
	instructorID := uuid.New()
	binder := &fakeBinder{records: map[uuid.UUID]persistence.TournamentRecord{
		tournamentID: {TournamentID: tournamentID, InstructorID: &instructorID},
	}}
	router := newTestRouter(t, binder, &fakeDirectory{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/tournaments/%s/instructor", tournamentID), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body bindingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Bound)
	require.NotNil(t, body.InstructorID)
	require.Equal(t, instructorID, *body.InstructorID)
}

func TestGetBindingUnboundTournament(t *testing.T) {
	tournamentID := uuid.New()
	binder := &fakeBinder{records: map[uuid.UUID]persistence.TournamentRecord{
		tournamentID: {TournamentID: tournamentID},
	}}
	router := newTestRouter(t, binder, &fakeDirectory{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/tournaments/%s/instructor", tournamentID), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body bindingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Bound)
	require.Nil(t, body.InstructorID)
}

func TestGetBindingUnknownTournament(t *testing.T) {
	router := newTestRouter(t, &fakeBinder{records: map[uuid.UUID]persistence.TournamentRecord{}}, &fakeDirectory{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/tournaments/%s/instructor", uuid.New()), nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestBindInstructorPersistsAndNotifies(t *testing.T) {
	tournamentID := uuid.New()
	instructorID := uuid.New()
	binder := &fakeBinder{records: map[uuid.UUID]persistence.TournamentRecord{
		tournamentID: {TournamentID: tournamentID},
	}}
	directory := &fakeDirectory{}
	router := newTestRouter(t, binder, directory)

	payload, err := json.Marshal(bindRequest{InstructorID: instructorID})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut,
		fmt.Sprintf("/api/v1/tournaments/%s/instructor", tournamentID), bytes.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	stored := binder.records[tournamentID]
	require.NotNil(t, stored.InstructorID)
	require.Equal(t, instructorID, *stored.InstructorID)
	require.Equal(t, 1, directory.requests)
}

func TestBindInstructorRejectsMissingID(t *testing.T) {
	tournamentID := uuid.New()
	binder := &fakeBinder{records: map[uuid.UUID]persistence.TournamentRecord{
		tournamentID: {TournamentID: tournamentID},
	}}
	router := newTestRouter(t, binder, &fakeDirectory{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut,
		fmt.Sprintf("/api/v1/tournaments/%s/instructor", tournamentID),
		bytes.NewReader([]byte(`{}`))))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
