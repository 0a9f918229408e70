package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/database"
	"github.com/iliyamo/recital-box-office/internal/logger"
)

func main() {
	cmd := flag.String("cmd", "up", "goose command: up|down|status|redo|version|reset")
	flag.Parse()

	log := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := context.Background()

	cfg, err := config.Load()
	requireResource(ctx, log, "config", err)

	log = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Console:     cfg.App.ConsoleLogs(),
	})
	ctx = log.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	db, err := database.Open(ctx, cfg.DB)
	requireResource(ctx, log, "database", err)
	defer db.Close()

	if err := database.Migrate(ctx, db, *cmd, flag.Args()...); err != nil {
		log.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	log.Info(ctx, "migration finished")
}

func requireResource(ctx context.Context, log *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	log.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
