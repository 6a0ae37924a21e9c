package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	assignmentscoordinator "github.com/opencourt/opencourt/domains/assignments/be/coordinator"
	assignmentshandler "github.com/opencourt/opencourt/domains/assignments/be/handler"
	enrollmentshandler "github.com/opencourt/opencourt/domains/enrollments/be/handler"
	enrollmentsrepo "github.com/opencourt/opencourt/domains/enrollments/be/repo"
	enrollmentsservice "github.com/opencourt/opencourt/domains/enrollments/be/service"
	rewardstrigger "github.com/opencourt/opencourt/domains/rewards/be/trigger"
	tournamentshandler "github.com/opencourt/opencourt/domains/tournaments/be/handler"
	tournamentsrepo "github.com/opencourt/opencourt/domains/tournaments/be/repo"
	tournamentsservice "github.com/opencourt/opencourt/domains/tournaments/be/service"
	platformlogging "github.com/opencourt/opencourt/platform/go/logging"
	platformmiddleware "github.com/opencourt/opencourt/platform/go/middleware"
	"github.com/opencourt/opencourt/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	LockWait        time.Duration `env:"TOURNAMENT_LOCK_WAIT" envDefault:"3s"`
	SweepInterval   time.Duration `env:"LIFECYCLE_SWEEP_INTERVAL" envDefault:"1m"`
	SweepDisabled   bool          `env:"LIFECYCLE_SWEEP_DISABLED" envDefault:"false"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Service: "opencourt-api",
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.BootstrapCoreSchema(ctx, pool); err != nil {
		logger.Fatal("bootstrap core schema", zap.Error(err))
	}

	tournamentStore, err := persistence.NewTournamentStore(ctx, pool)
	if err != nil {
		logger.Fatal("init tournament store", zap.Error(err))
	}
	sessionStore, err := persistence.NewSessionStore(ctx, pool)
	if err != nil {
		logger.Fatal("init session store", zap.Error(err))
	}
	enrollmentStore, err := persistence.NewEnrollmentStore(ctx, pool)
	if err != nil {
		logger.Fatal("init enrollment store", zap.Error(err))
	}
	rewardStore, err := persistence.NewRewardDispatchStore(ctx, pool)
	if err != nil {
		logger.Fatal("init reward dispatch store", zap.Error(err))
	}

	rewardTrigger := rewardstrigger.New(
		rewardStore,
		tournamentStore,
		enrollmentStore,
		sessionStore,
		rewardstrigger.LoggingProgression{Logger: logger},
		logger,
	)

	coordinator := assignmentscoordinator.New(tournamentStore, assignmentscoordinator.NoopDirectory{}, logger)
	assignmentHTTPHandler := assignmentshandler.New(coordinator, logger)

	tournamentRepo := tournamentsrepo.NewPostgresRepository(tournamentStore, sessionStore, enrollmentStore, cfg.LockWait)
	tournamentService := tournamentsservice.New(tournamentRepo, rewardTrigger,
		tournamentsservice.WithInstructorResolver(coordinator))
	tournamentHTTPHandler := tournamentshandler.New(tournamentService, logger)

	enrollmentRepo := enrollmentsrepo.NewPostgresRepository(enrollmentStore, cfg.LockWait)
	enrollmentService := enrollmentsservice.New(enrollmentRepo)
	enrollmentHTTPHandler := enrollmentshandler.New(enrollmentService, logger)

	var sweeper *tournamentsservice.Sweeper
	if !cfg.SweepDisabled {
		sweeper, err = tournamentsservice.NewSweeper(tournamentService, tournamentRepo, logger, cfg.SweepInterval)
		if err != nil {
			logger.Fatal("init lifecycle sweeper", zap.Error(err))
		}
		if err := sweeper.Start(); err != nil {
			logger.Fatal("start lifecycle sweeper", zap.Error(err))
		}
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformmiddleware.RequestTrace)

	apiRouter.Mount("/tournaments", tournamentHTTPHandler.Routes())
	apiRouter.Mount("/tournaments/{tournamentId}/enrollments", enrollmentHTTPHandler.TournamentRoutes())
	apiRouter.Mount("/tournaments/{tournamentId}/instructor", assignmentHTTPHandler.Routes())
	apiRouter.Mount("/enrollments", enrollmentHTTPHandler.Routes())

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if sweeper != nil {
		if err := sweeper.Stop(); err != nil {
			logger.Error("stop lifecycle sweeper", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
