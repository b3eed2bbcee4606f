package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/api"
	"github.com/ignite/contact-import/internal/config"
	"github.com/ignite/contact-import/internal/contacts"
	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/inference"
	"github.com/ignite/contact-import/internal/pkg/distlock"
	"github.com/ignite/contact-import/internal/pkg/logger"
	"github.com/ignite/contact-import/internal/session"
	"github.com/ignite/contact-import/internal/spreadsheet"
	"github.com/ignite/contact-import/internal/storage"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	redisClient, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Info("redis connected")
	}

	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		log.Info("database connected")
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	log.Info("import archive ready", zap.String("type", cfg.Storage.Type))

	client, err := inference.New(ctx, cfg.Inference, log)
	if err != nil {
		log.Warn("inference unavailable, using heuristic mapping only", zap.Error(err))
		client = inference.Noop{}
	}

	sink, err := buildSink(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	budget := spreadsheet.DefaultMemoryBudget()
	budget.AvailableBytes = cfg.Import.MemoryBudgetBytes()

	pipeline := session.NewPipeline(session.PipelineOptions{
		Reader: spreadsheet.NewReader(spreadsheet.ReaderOptions{
			MaxFileSize:      cfg.Import.MaxFileSize(),
			PreviewThreshold: cfg.Import.PreviewThreshold,
			SampleSize:       cfg.Import.SampleSize,
			Budget:           budget,
		}),
		Mapper: datanorm.NewMapper(client, log,
			datanorm.WithTimeout(cfg.Inference.Timeout()),
			datanorm.WithMaxHeaders(cfg.Inference.MaxHeaders)),
		Store:   store,
		Preview: session.PreviewOptions{Budget: budget, SampleSize: cfg.Import.SampleSize},
		Logger:  log,
	})

	var sessions session.Store
	if redisClient != nil {
		sessions = session.NewRedisStore(redisClient, cfg.Import.SessionTTL())
	} else {
		sessions = session.NewMemoryStore(cfg.Import.SessionTTL())
		log.Warn("REDIS_URL not set, import sessions are kept in memory")
	}

	locker := distlock.NewLocker(redisClient, db, cfg.Import.CommitLockTTL())
	var managerOpts []session.ManagerOption
	if redisClient != nil {
		// Sessions live in Redis and may be served by any instance.
		managerOpts = append(managerOpts, session.WithLocker(locker))
	}

	imports := api.NewImportHandlers(api.ImportDeps{
		Manager:        session.NewManager(sessions, pipeline, log, managerOpts...),
		Sink:           sink,
		Locker:         locker,
		History:        store,
		MaxUploadBytes: cfg.Import.MaxFileSize(),
		Logger:         log,
	})
	health := api.NewHealthChecker(db, redisClient, client)
	server := api.NewServer(api.SetupRoutes(imports, health, cfg.Server.AllowedOrigins, log))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", addr))
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

// buildSink prefers the database, then the REST contacts API. Without either
// the service still previews files but refuses commits.
func buildSink(ctx context.Context, cfg *config.Config, db *sql.DB, log *zap.Logger) (contacts.Sink, error) {
	switch {
	case db != nil:
		sink, err := contacts.NewPostgresSink(db, cfg.Database.Table, log)
		if err != nil {
			return nil, err
		}
		if err := sink.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure contacts schema: %w", err)
		}
		log.Info("contacts sink: postgres", zap.String("table", cfg.Database.Table))
		return sink, nil
	case cfg.ContactsAPI.BaseURL != "":
		log.Info("contacts sink: http", zap.String("base_url", cfg.ContactsAPI.BaseURL))
		return contacts.NewHTTPSink(cfg.ContactsAPI.BaseURL, cfg.ContactsAPI.Token, cfg.ContactsAPI.Timeout(), log), nil
	default:
		log.Warn("no contacts sink configured, commits are disabled")
		return nil, nil
	}
}
