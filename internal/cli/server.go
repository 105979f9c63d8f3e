package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bird-quiz-kiosk/internal/app"
	"bird-quiz-kiosk/internal/config"
	"bird-quiz-kiosk/internal/domain"
	"bird-quiz-kiosk/internal/infra/memory"
	pgstore "bird-quiz-kiosk/internal/infra/postgres"
	redisstore "bird-quiz-kiosk/internal/infra/redis"
	"bird-quiz-kiosk/internal/serialio"
	transport "bird-quiz-kiosk/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the kiosk.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz kiosk core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKiosk(cmd.Context(), *configPath, *port)
		},
	}
}

func runKiosk(ctx context.Context, configPath, portFlag string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var birds app.BirdSource = memory.NewStaticBirdSource(sampleBirds())
	var recorder app.ResultRecorder = memory.NewResultRecorder()
	if pool != nil {
		birds = pgstore.NewBirdSource(pool)
		recorder = pgstore.NewResultRecorder(pool)
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.Duration(cfg.Redis.TTL, 10*time.Minute)
		recorder = redisstore.NewBestCache(client, recorder, ttl)
	}

	engineCfg := app.Config{
		QuestionCount:    cfg.Quiz.QuestionCount,
		TimeLimitSeconds: cfg.Quiz.TimeLimitSeconds,
		SubmitCooldown:   config.Duration(cfg.Quiz.SubmitCooldown, 900*time.Millisecond),
		DefaultCategory:  cfg.Quiz.Category,
	}
	player := domain.Player{
		FirstName: cfg.Player.FirstName,
		Email:     cfg.Player.Email,
	}

	// The reader forwards tokens into the engine queue; the engine writes
	// feedback tokens back through the reader. Both are wired before the
	// port is opened, so the closures never observe a nil engine.
	var engine *app.Engine
	reader := serialio.NewLineReader(
		func(token string) { engine.HandleToken(token) },
		func(state serialio.ConnState, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("serial link error")
			}
			engine.SetSerialStatus(string(state))
		},
	)
	engine = app.NewEngine(engineCfg, player, birds, recorder, reader)

	watchdog := serialio.NewWatchdog(reader, cfg.Serial.Port)
	engine.SetReconnectFunc(watchdog.RequestReconnect)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go engine.Run(runCtx)
	go watchdog.Run(runCtx)

	if err := reader.Open(cfg.Serial.Port); err != nil {
		// Not fatal; the watchdog keeps retrying and the on-screen UI
		// still works without the panel.
		log.Warn().Err(err).Str("port", cfg.Serial.Port).Msg("serial port not available at startup")
	}
	defer reader.Close()

	wsHandler := transport.NewWSHandler(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz kiosk")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down kiosk")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down kiosk")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// sampleBirds keeps the kiosk usable without a database; swap in the
// postgres source for the real collection.
func sampleBirds() []domain.Bird {
	return []domain.Bird{
		{Name: "Black-capped Chickadee", ImageRef: "chickadee.jpg", Category: "songbirds"},
		{Name: "American Goldfinch", ImageRef: "goldfinch.jpg", Category: "songbirds"},
		{Name: "Song Sparrow", ImageRef: "song_sparrow.jpg", Category: "songbirds"},
		{Name: "Western Tanager", ImageRef: "tanager.jpg", Category: "songbirds"},
		{Name: "Red-winged Blackbird", ImageRef: "blackbird.jpg", Category: "songbirds"},
		{Name: "Dark-eyed Junco", ImageRef: "junco.jpg", Category: "songbirds"},
		{Name: "Mallard", ImageRef: "mallard.jpg", Category: "ducks"},
		{Name: "Wood Duck", ImageRef: "wood_duck.jpg", Category: "ducks"},
		{Name: "Northern Pintail", ImageRef: "pintail.jpg", Category: "ducks"},
		{Name: "Bufflehead", ImageRef: "bufflehead.jpg", Category: "ducks"},
		{Name: "Red-tailed Hawk", ImageRef: "redtail.jpg", Category: "raptors"},
		{Name: "Peregrine Falcon", ImageRef: "peregrine.jpg", Category: "raptors"},
		{Name: "Osprey", ImageRef: "osprey.jpg", Category: "raptors"},
	}
}
