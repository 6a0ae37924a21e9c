package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencourt/opencourt/platform/go/requesttrace"
)

// DueLister finds tournaments whose clock-driven transitions are due.
type DueLister interface {
	ListDueEnrollmentClose(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListDueStart(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// Sweeper drives time-based lifecycle transitions: it closes enrollment once
// the deadline passes and starts tournaments at their opening slot. It goes
// through RequestTransition like any other caller, so every guard applies.
type Sweeper struct {
	service  Service
	due      DueLister
	logger   *zap.Logger
	interval time.Duration

	scheduler gocron.Scheduler
}

// NewSweeper constructs a Sweeper; interval <= 0 defaults to one minute.
func NewSweeper(svc Service, due DueLister, logger *zap.Logger, interval time.Duration) (*Sweeper, error) {
	if svc == nil {
		return nil, errors.New("tournament service is required")
	}
	if due == nil {
		return nil, errors.New("due lister is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: svc, due: due, logger: logger, interval: interval}, nil
}

// Start schedules the periodic sweep and returns immediately.
func (s *Sweeper) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			defer cancel()
			s.Sweep(requesttrace.IntoContext(ctx, requesttrace.System("lifecycle-sweep")))
		}),
	)
	if err != nil {
		return err
	}

	s.scheduler = scheduler
	scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *Sweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}

// Sweep runs one pass. Failures on individual tournaments are logged and
// skipped; a guard violation here just means an admin got there first or the
// tournament is not actually ready, and the next pass will try again.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	closeDue, err := s.due.ListDueEnrollmentClose(ctx, now)
	if err != nil {
		s.logger.Error("list tournaments due for enrollment close", zap.Error(err))
	}
	for _, id := range closeDue {
		s.transition(ctx, id, StatusEnrollmentClosed, "enrollment deadline passed")
	}

	startDue, err := s.due.ListDueStart(ctx, now)
	if err != nil {
		s.logger.Error("list tournaments due to start", zap.Error(err))
	}
	for _, id := range startDue {
		s.transition(ctx, id, StatusInProgress, "opening time reached")
	}
}

func (s *Sweeper) transition(ctx context.Context, id uuid.UUID, target Status, reason string) {
	_, err := s.service.RequestTransition(ctx, id, target, reason)
	switch {
	case err == nil:
		s.logger.Info("swept tournament forward",
			zap.String("tournament_id", id.String()), zap.String("target", string(target)))
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrGuardViolation):
		s.logger.Debug("sweep skipped tournament",
			zap.String("tournament_id", id.String()), zap.String("target", string(target)), zap.Error(err))
	default:
		s.logger.Warn("sweep transition failed",
			zap.String("tournament_id", id.String()), zap.String("target", string(target)), zap.Error(err))
	}
}
