package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/elexicoai/elexico-core/internal/config"
	"github.com/elexicoai/elexico-core/internal/runtime"
)

func main() {
	var (
		configPath  string
		deckPath    string
		accessCode  string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "elexico.yaml", "Path to configuration file")
	flag.StringVar(&deckPath, "deck", "", "Deck file overriding the configured path")
	flag.StringVar(&accessCode, "access-code", "", "Gate access code overriding the configured one")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (default from config)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(runtime.Version)
		return
	}

	// Bootstrap logger for everything before the config is loaded.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Flag overrides sit above both the file and the environment, and
	// the result goes back through validation.
	if deckPath != "" {
		cfg.Deck.Path = deckPath
	}
	if accessCode != "" {
		cfg.Gate.AccessCode = accessCode
	}
	if logLevel != "" {
		cfg.Telemetry.LogLevel = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Telemetry.LogLevel),
	}))
	logger.Info("starting elexicod",
		slog.String("version", runtime.Version),
		slog.String("config", configPath),
		slog.String("environment", cfg.Environment))

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
