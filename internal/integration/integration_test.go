package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"quiz-rooms/internal/app"
	"quiz-rooms/internal/domain"
	pgstore "quiz-rooms/internal/infra/postgres"
	pgmigrations "quiz-rooms/internal/infra/postgres/migrations"
	infraredis "quiz-rooms/internal/infra/redis"
)

func TestRoomGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	rooms := infraredis.NewRoomRegistry(redisClient, time.Minute, nil)
	service := app.NewQuizService(rooms, quizRepo)
	defer func() { _ = service.Shutdown(context.Background()) }()

	host := newListener()
	created, err := service.CreateRoom(ctx, "quiz-1", domain.HostInfo{DisplayName: "Host"}, app.Caller{Listener: host})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if n, err := redisClient.Exists(ctx, "quiz:room:"+created.RoomCode).Result(); err != nil || n != 1 {
		t.Fatalf("expected room code reserved in redis, got n=%d err=%v", n, err)
	}

	alice, err := service.JoinRoom(ctx, created.RoomCode, domain.PlayerInfo{DisplayName: "Alice"}, app.Caller{Listener: newListener()})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	bob, err := service.JoinRoom(ctx, created.RoomCode, domain.PlayerInfo{DisplayName: "Bob"}, app.Caller{Listener: newListener()})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := service.StartGame(ctx, created.RoomCode, created.ParticipantID); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := service.SubmitAnswer(ctx, created.RoomCode, bob.PlayerID, 0, 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.IsCorrect || res.Awarded != 1 {
		t.Fatalf("expected correct answer with 1 point, got %+v", res)
	}
	if _, err := service.SubmitAnswer(ctx, created.RoomCode, alice.PlayerID, 0, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	lb, err := service.Leaderboard(ctx, created.RoomCode)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb) != 2 || lb[0].PlayerID != bob.PlayerID {
		t.Fatalf("expected bob leading, got %+v", lb)
	}

	if err := service.NextQuestion(ctx, created.RoomCode, created.ParticipantID); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := service.LeaveRoom(ctx, created.RoomCode, created.ParticipantID); err != nil {
		t.Fatalf("host leave: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := redisClient.Exists(ctx, "quiz:room:"+created.RoomCode).Result()
		if err == nil && n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room code still reserved after close")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if host.count(domain.EventRoomClosed) != 1 {
		t.Fatalf("expected host to see room_closed")
	}
}

type listener struct {
	id     string
	mu     sync.Mutex
	events []domain.Event
}

func newListener() *listener { return &listener{id: uuid.NewString()} }

func (l *listener) ID() string { return l.id }

func (l *listener) Send(evt domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *listener) Release(string) {}

func (l *listener) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, evt := range l.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOptionIndex: 1, Points: 1},
			{ID: "q2", Text: "What is 3 * 3?", Options: []string{"6", "9"}, CorrectOptionIndex: 1, Points: 2},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
