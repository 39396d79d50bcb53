package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"quiz-rooms/internal/app"
	"quiz-rooms/internal/auth"
	"quiz-rooms/internal/config"
	"quiz-rooms/internal/domain"
	"quiz-rooms/internal/infra/memory"
	pgstore "quiz-rooms/internal/infra/postgres"
	redisstore "quiz-rooms/internal/infra/redis"
	transport "quiz-rooms/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	var accounts auth.AccountStore = memory.NewStaticAccountStore(domain.Account{ID: "dev-host", DisplayName: "Dev Host"})
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
		accounts = pgstore.NewAccountStore(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var rooms app.RoomRegistry
	if redisClient != nil {
		registry := redisstore.NewRoomRegistry(redisClient, redisTTL, logger)
		go registry.KeepAlive(runCtx)
		rooms = registry
	} else {
		rooms = memory.NewRoomRegistry()
	}

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithSettings(roomSettings(cfg)),
	}
	if cfg.Auth.JWTSecret != "" {
		tokens := auth.NewTokenService(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
		opts = append(opts, app.WithHostIdentifier(auth.NewHostIdentifier(tokens, accounts)))
	}
	service := app.NewQuizService(rooms, quizRepo, opts...)

	wsHandler := transport.NewWSHandler(service, logger, wsOptions(cfg))
	lookup := transport.NewLookupHandler(service, logger)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(wsHandler, lookup, logger, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz room server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			cancelRun()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-runCtx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rooms did not close in time", zap.Error(err))
	}
	return server.Shutdown(shutdownCtx)
}

func roomSettings(cfg config.Config) app.Settings {
	d := app.DefaultSettings()
	return app.Settings{
		QuestionTime: config.TTLDuration(cfg.Room.QuestionTime, d.QuestionTime),
		PlayerGrace:  config.TTLDuration(cfg.Room.PlayerGrace, d.PlayerGrace),
		HostGrace:    config.TTLDuration(cfg.Room.HostGrace, d.HostGrace),
		MaxPlayers:   cfg.Room.MaxPlayers,
		CodeAttempts: cfg.Room.CodeAttempts,
	}
}

func wsOptions(cfg config.Config) transport.WSOptions {
	opts := transport.DefaultWSOptions()
	if cfg.WS.RateLimit > 0 {
		opts.RateLimit = rate.Limit(cfg.WS.RateLimit)
	}
	if cfg.WS.RateBurst > 0 {
		opts.RateBurst = cfg.WS.RateBurst
	}
	opts.PingInterval = config.TTLDuration(cfg.WS.PingInterval, opts.PingInterval)
	opts.PongWait = config.TTLDuration(cfg.WS.PongWait, opts.PongWait)
	opts.AllowedOrigins = cfg.Server.AllowedOrigins
	return opts
}

// sampleQuizzes is served when no postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOptionIndex: 1, Points: 1},
				{ID: "q2", Text: "Which planet is known as the red planet?", Options: []string{"Venus", "Mars", "Jupiter", "Saturn"}, CorrectOptionIndex: 1, Points: 2},
				{ID: "q3", Text: "How many sides does a hexagon have?", Options: []string{"5", "6", "8"}, CorrectOptionIndex: 1, TimeLimitSeconds: 10},
			},
		},
	}
}
