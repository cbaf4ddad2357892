// Package main is the entry point for glmrouterctl, an operator CLI for
// exercising the routing core offline: it explains a sample request file
// against a config file and prints the result as JSON. It is not an HTTP
// surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/internal/keymanager"
	"github.com/blueberrycongee/glmrouter/internal/modeldiscovery"
	"github.com/blueberrycongee/glmrouter/internal/router"
	"github.com/blueberrycongee/glmrouter/pkg/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("glmrouterctl failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/routing.yaml", "path to the routing config file")
	requestPath := flag.String("request", "", "path to a sample /v1/messages JSON body to explain")
	overridesPath := flag.String("overrides", "", "path to the persisted overrides JSON file")
	maxOverrides := flag.Int("max-overrides", 1000, "bound on the number of operator overrides")
	concurrencyMultiplier := flag.Float64("concurrency-multiplier", 1.0, "process-wide multiplier applied to each model's maxConcurrency")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		return fmt.Errorf("load routing config: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()

	discovery := modeldiscovery.NewDirectory(modeldiscovery.StaticSource{}, 5*time.Minute, 10*time.Minute)

	r, err := router.New(router.Options{
		ConfigManager:         cfgManager,
		Discovery:             discovery,
		KeyManager:            keymanager.Noop{},
		Logger:                logger,
		OverridesPath:         *overridesPath,
		MaxOverrides:          *maxOverrides,
		PersistOverrides:      *overridesPath != "",
		ConcurrencyMultiplier: *concurrencyMultiplier,
		WarmupDuration:        30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	if *requestPath == "" {
		logger.Info("no -request given; nothing to explain", "config", *configPath)
		return nil
	}

	body, err := os.ReadFile(*requestPath)
	if err != nil {
		return fmt.Errorf("read sample request: %w", err)
	}
	req, err := types.ParseMessages(body)
	if err != nil {
		return fmt.Errorf("parse sample request: %w", err)
	}

	result := r.Explain(context.Background(), req, nil)
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal explain result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
