package integration

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"bird-quiz-kiosk/internal/app"
	"bird-quiz-kiosk/internal/domain"
	pgstore "bird-quiz-kiosk/internal/infra/postgres"
	pgmigrations "bird-quiz-kiosk/internal/infra/postgres/migrations"
	infraredis "bird-quiz-kiosk/internal/infra/redis"
)

func TestQuizRoundTripEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedBirds(t, ctx, pgURL, sampleBirds())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	birds := pgstore.NewBirdSource(pool)
	recorder := pgstore.NewResultRecorder(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()
	cached := infraredis.NewBestCache(redisClient, recorder, 5*time.Minute)

	// Batch building against the real bird table.
	list, err := birds.ListBirds(ctx, "songbirds")
	if err != nil {
		t.Fatalf("list birds: %v", err)
	}
	batch, err := app.BuildBatch(list, 5, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(batch))
	}

	player := domain.Player{FirstName: "Alice", Email: "alice@example.com"}

	best, err := cached.FetchBest(ctx, "songbirds")
	if err != nil {
		t.Fatalf("fetch best: %v", err)
	}
	if best != nil {
		t.Fatalf("expected no best on a fresh table, got %+v", best)
	}

	first := domain.FinalSnapshot{
		Category: "songbirds", Score: 3, Answered: 5, Total: 5,
		DurationSeconds: 40, Reason: domain.FinishCompleted,
	}
	if err := cached.RecordAttempt(ctx, player, first); err != nil {
		t.Fatalf("record first attempt: %v", err)
	}

	best, err = cached.FetchBest(ctx, "songbirds")
	if err != nil {
		t.Fatalf("fetch best: %v", err)
	}
	if best == nil || best.Score != 3 || best.DurationSeconds != 40 {
		t.Fatalf("unexpected best %+v", best)
	}

	// A better run invalidates the cached entry and becomes the new best.
	second := domain.FinalSnapshot{
		Category: "songbirds", Score: 4, Answered: 5, Total: 5,
		DurationSeconds: 35, Reason: domain.FinishCompleted,
	}
	if err := cached.RecordAttempt(ctx, player, second); err != nil {
		t.Fatalf("record second attempt: %v", err)
	}
	best, err = cached.FetchBest(ctx, "songbirds")
	if err != nil {
		t.Fatalf("fetch best: %v", err)
	}
	if best == nil || best.Score != 4 || best.DurationSeconds != 35 {
		t.Fatalf("expected the better run as best, got %+v", best)
	}
	if !best.BeatenBy(domain.FinalSnapshot{Score: 4, DurationSeconds: 30}) {
		t.Fatalf("faster equal-score run should beat %+v", best)
	}

	// A worse run is stored but never surfaces as the best.
	worse := domain.FinalSnapshot{
		Category: "songbirds", Score: 1, Answered: 5, Total: 5,
		DurationSeconds: 12, Reason: domain.FinishTimedOut,
	}
	if err := cached.RecordAttempt(ctx, player, worse); err != nil {
		t.Fatalf("record worse attempt: %v", err)
	}
	best, err = cached.FetchBest(ctx, "songbirds")
	if err != nil {
		t.Fatalf("fetch best: %v", err)
	}
	if best == nil || best.Score != 4 {
		t.Fatalf("worse run must not replace the best, got %+v", best)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "kiosk", "POSTGRES_PASSWORD": "kioskpass", "POSTGRES_DB": "kioskdb"},
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
	dsn := fmt.Sprintf("postgres://kiosk:kioskpass@%s:%s/kioskdb?sslmode=disable", host, port.Port())
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

func seedBirds(t *testing.T, ctx context.Context, dsn string, birds []domain.Bird) {
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

	for _, b := range birds {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO birds (name, image_ref, category) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`,
			b.Name, b.ImageRef, b.Category); err != nil {
			t.Fatalf("insert bird %s: %v", b.Name, err)
		}
	}
}

func sampleBirds() []domain.Bird {
	return []domain.Bird{
		{Name: "Black-capped Chickadee", ImageRef: "chickadee.jpg", Category: "songbirds"},
		{Name: "American Goldfinch", ImageRef: "goldfinch.jpg", Category: "songbirds"},
		{Name: "Song Sparrow", ImageRef: "sparrow.jpg", Category: "songbirds"},
		{Name: "Scarlet Tanager", ImageRef: "tanager.jpg", Category: "songbirds"},
		{Name: "Dark-eyed Junco", ImageRef: "junco.jpg", Category: "songbirds"},
		{Name: "Red-winged Blackbird", ImageRef: "blackbird.jpg", Category: "songbirds"},
		{Name: "Wood Thrush", ImageRef: "thrush.jpg", Category: "songbirds"},
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
