package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/store"
	"whatsapp-automation/internal/whatsapp"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cfg := config.LoadConfig()

	cmd := &cli.Command{
		Name:                  "automations",
		Usage:                 "Operate the WhatsApp automation engine from the command line",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   cfg.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			logging.Configure(command.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewScanCommand(cfg),
			NewRunCommand(cfg),
			NewValidateCommand(cfg),
			NewCronCommand(cfg),
			NewTokenCommand(cfg),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// runtime is the engine stack the data commands share
type runtime struct {
	store   *store.Store
	engine  *automation.Engine
	scanner *automation.Scanner
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	db, err := database.InitGorm(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s := store.New(db)
	executor := automation.NewExecutor(s, whatsapp.NewClient(cfg), cfg.WebhookTimeout)
	engine := automation.NewEngine(s, executor, automation.Options{DeferWaitActions: cfg.DeferWaitActions})
	return &runtime{
		store:   s,
		engine:  engine,
		scanner: automation.NewScanner(s, engine, cfg.DefaultTimezone),
	}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
