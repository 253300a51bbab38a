package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"study-flow-service/internal/ai"
	"study-flow-service/internal/app"
	"study-flow-service/internal/config"
	"study-flow-service/internal/domain"
	"study-flow-service/internal/infra/memory"
	pgstore "study-flow-service/internal/infra/postgres"
	redisstore "study-flow-service/internal/infra/redis"
	transport "study-flow-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the study flow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var flowStore app.FlowStore
	if redisClient != nil {
		flowStore = redisstore.NewFlowStore(redisClient, redisTTL)
	} else {
		flowStore = memory.NewFlowStore()
	}
	flows := app.NewFlowService(flowStore, app.WithDevMode(cfg.Flow.DevMode))
	guard := app.NewGuard(flows)

	var sessions app.SessionRepository
	var attempts app.TestAttemptRepository
	if pool != nil {
		repo := pgstore.NewTelemetryRepository(pool)
		sessions, attempts = repo, repo
	} else {
		store := memory.NewTelemetryStore()
		sessions, attempts = store, store
	}
	telemetry := app.NewTelemetryService(sessions, attempts, flows)

	var loader memory.LessonLoader = memory.NewStaticLessonLoader(sampleLessons())
	if pool != nil {
		loader = pgstore.NewLessonLoader(pool)
	}
	lessonTTL := config.TTLDuration(cfg.Flow.LessonTTL, 10*time.Minute)
	lessons := memory.NewLessonRepository(loader, lessonTTL)

	generator := ai.NewGenerator(ai.Config{
		BaseURL:     cfg.Model.BaseURL,
		APIKey:      config.ModelAPIKey(),
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
	})

	handler := transport.NewHandler(flows, telemetry)
	lessonWS := transport.NewLessonWSHandler(flows, guard, telemetry, lessons, generator)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("/ws/lesson", lessonWS.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // lesson turns wait on the model endpoint
	}

	go func() {
		log.Printf("starting study flow service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleLessons provides minimal lesson content; swap the loader with the
// Postgres-backed one in production.
func sampleLessons() map[string]domain.Lesson {
	return map[string]domain.Lesson{
		"combinatorics-1": {
			ID: "combinatorics-1",
			Questions: []domain.LessonQuestion{
				{
					ID:     "q1",
					Prompt: "How many ways can 4 students line up for a photo?",
					Answer: "24",
				},
				{
					ID:     "q2",
					Prompt: "How many distinct committees of 2 can be chosen from 5 students?",
					Answer: "10",
				},
			},
		},
	}
}
