package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SeongJinSong/kb-echotimer/internal/app"
	"github.com/SeongJinSong/kb-echotimer/internal/config"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until the configuration is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "echotimer",
		Version: version.Version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "echotimer",
		Version: cfg.Version,
	})

	source := "env+defaults"
	if *configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("source", source).
		Msg("configuration loaded")

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str(log.FieldServerID, cfg.ServerID).
		Str("addr", cfg.Listen).
		Msg("starting echotimer")

	var holder *config.ConfigHolder
	if *configPath != "" {
		holder = config.NewConfigHolder(cfg, config.NewLoader(*configPath, version.Version), *configPath)
	}

	c, err := app.Build(ctx, cfg, holder)
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "startup.failed").
			Msg("component wiring failed")
	}

	if err := app.NewApp(c).Run(ctx); err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "app.failed").
			Msg("service failed")
	}

	logger.Info().Msg("server exiting")
}
