// Command migrate creates the contacts table the import service commits into.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/config"
	"github.com/ignite/contact-import/internal/contacts"
	"github.com/ignite/contact-import/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	check := flag.Bool("check", false, "only report whether the contacts table exists")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("connect", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("ping", zap.Error(err))
	}

	if *check {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`,
			cfg.Database.Table).Scan(&exists)
		if err != nil {
			log.Fatal("check table", zap.Error(err))
		}
		fmt.Printf("%s exists: %t\n", cfg.Database.Table, exists)
		return
	}

	sink, err := contacts.NewPostgresSink(db, cfg.Database.Table, log)
	if err != nil {
		log.Fatal("contacts table", zap.Error(err))
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("contacts schema ready", zap.String("table", cfg.Database.Table))
}
