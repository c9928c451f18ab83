package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whatsapp-automation/internal/api"
	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v3"
)

func NewScanCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Run one pass of the scheduled trigger scanner",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Only scan this workspace",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			var res *automation.ScanResult
			if ws := command.String("workspace"); ws != "" {
				res, err = rt.scanner.ScanOne(ctx, ws)
			} else {
				res, err = rt.scanner.Scan(ctx)
			}
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func NewRunCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one automation directly, bypassing its trigger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "automation", Aliases: []string{"a"}, Usage: "Automation ID", Required: true},
			&cli.StringFlag{Name: "contact", Usage: "Contact ID"},
			&cli.StringFlag{Name: "conversation", Usage: "Conversation ID"},
			&cli.StringFlag{Name: "data", Usage: "Trigger data as a JSON object"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ec := automation.ExecutionContext{
				ContactID:      command.String("contact"),
				ConversationID: command.String("conversation"),
			}
			if raw := command.String("data"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &ec.TriggerData); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			entry, err := rt.engine.RunAutomation(ctx, command.String("automation"), ec)
			if err != nil {
				return err
			}
			return printJSON(entry)
		},
	}
}

// NewValidateCommand revalidates every stored automation of the active workspaces
func NewValidateCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored automation definitions",
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			workspaces, err := rt.store.ListActiveWorkspaces(ctx)
			if err != nil {
				return err
			}

			invalid := 0
			for _, ws := range workspaces {
				automations, err := rt.store.ListAutomations(ctx, ws.ID)
				if err != nil {
					return err
				}
				for i := range automations {
					if err := automations[i].Validate(); err != nil {
						invalid++
						logrus.WithFields(logrus.Fields{
							"workspace_id":  ws.ID,
							"automation_id": automations[i].ID,
						}).WithError(err).Warn("Invalid automation")
					}
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%d invalid automations", invalid)
			}
			logrus.Info("All automations are valid")
			return nil
		},
	}
}

func NewCronCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Inspect time_based cron expressions",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Report whether an expression matches a minute and list its next runs",
				ArgsUsage: "<expression>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "at", Usage: "RFC3339 instant to test (default now)"},
					&cli.StringFlag{Name: "timezone", Usage: "IANA timezone", Value: cfg.DefaultTimezone},
					&cli.IntFlag{Name: "next", Usage: "Number of upcoming runs to list", Value: 3},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					expr := command.Args().First()
					if expr == "" {
						return errors.New("missing cron expression")
					}

					loc, err := time.LoadLocation(command.String("timezone"))
					if err != nil {
						return fmt.Errorf("invalid timezone: %w", err)
					}
					at := time.Now()
					if raw := command.String("at"); raw != "" {
						if at, err = time.Parse(time.RFC3339, raw); err != nil {
							return fmt.Errorf("invalid --at: %w", err)
						}
					}
					at = at.In(loc)

					out := map[string]any{
						"expression": expr,
						"at":         at.Format(time.RFC3339),
						"matches":    automation.MatchesCron(expr, at),
					}
					if schedule, err := cron.ParseStandard(expr); err == nil {
						next := make([]string, 0, command.Int("next"))
						t := at
						for i := 0; i < int(command.Int("next")); i++ {
							t = schedule.Next(t)
							next = append(next, t.Format(time.RFC3339))
						}
						out["next"] = next
					} else {
						out["parse_error"] = err.Error()
					}
					return printJSON(out)
				},
			},
		},
	}
}

func NewTokenCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a workspace-scoped token for the execute and trigger endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace ID", Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime (0 = no expiry)", Value: 24 * time.Hour},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			token, err := api.IssueWorkspaceToken(cfg.CronSecret, command.String("workspace"), command.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
