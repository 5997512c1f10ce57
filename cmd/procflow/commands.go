package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/procflow/pkg/cmd"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence/postgresql"
	"github.com/dukex/procflow/pkg/scheduler"
	"github.com/dukex/procflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func NewSchedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Run the delay expiry sweep and the version sync consumer",
		Flags: []cli.Flag{
			sweepScheduleFlag,
			&cli.DurationFlag{
				Name:    "sweep-lock-ttl",
				Usage:   "Maximum time one sweep holds the distributed lock",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("SWEEP_LOCK_TTL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			a, err := newApp(ctx, command, "scheduler")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			sweeper := scheduler.NewDelaySweeper(a.engine, cmd.NewLocker(a.redis), a.logger,
				scheduler.WithSchedule(command.String("sweep-schedule")),
				scheduler.WithLockTTL(command.Duration("sweep-lock-ttl")),
			)

			consumer := scheduler.NewSyncConsumer(a.eventBus, a.sync, a.logger)
			if err := consumer.Start(ctx); err != nil {
				return err
			}

			if err := sweeper.Start(ctx); err != nil {
				return err
			}

			a.logger.InfoContext(ctx, "Scheduler running")

			<-ctx.Done()

			a.logger.Info("Shutting down scheduler")

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()

			return sweeper.Stop(stopCtx)
		},
	}
}

func NewSweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Resume every workflow whose delay elapsed, once",
		Action: func(ctx context.Context, command *cli.Command) error {
			a, err := newApp(ctx, command, "sweep")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			sweeper := scheduler.NewDelaySweeper(a.engine, cmd.NewLocker(a.redis), a.logger)

			resumed, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "resumed %d delays\n", resumed)

			return nil
		},
	}
}

func NewSyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Apply a template version to its running workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "template-id", Required: true, Usage: "Template to sync"},
			&cli.IntFlag{Name: "version", Usage: "Target version (defaults to the live template version)"},
			&cli.StringFlag{Name: "changed-by", Value: "system", Usage: "User recorded as the author of the change"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			a, err := newApp(ctx, command, "sync")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			templateID := command.String("template-id")

			version := int(command.Int("version"))
			if version == 0 {
				template, err := a.templates.FetchByID(ctx, templateID)
				if err != nil {
					return err
				}

				version = template.Version
			}

			report, err := a.sync.Sync(ctx, templateID, version, command.String("changed-by"))
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "template %s v%d: synced %d, owners refreshed %d, skipped %d, failed %d\n",
				report.TemplateID, report.Version, report.Synced, report.OwnersRefreshed, report.Skipped, len(report.Failed))

			return nil
		},
	}
}

func NewTemplateCommand() *cli.Command {
	return &cli.Command{
		Name:  "template",
		Usage: "Manage templates",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Validate and save a JSON template document",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "changed-by", Required: true, Usage: "User saving the template"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					path := command.Args().First()
					if path == "" {
						return errors.New("template file is required")
					}

					document, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read template %s: %w", path, err)
					}

					a, err := newApp(ctx, command, "template")
					if err != nil {
						return err
					}
					defer a.close(ctx)

					template, err := a.templates.Import(ctx, document, command.String("changed-by"))
					if err != nil {
						return err
					}

					fmt.Fprintf(command.Root().Writer, "template %s saved at version %d\n", template.ID, template.Version)

					return nil
				},
			},
		},
	}
}

func NewWorkflowCommand() *cli.Command {
	userFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "user", Required: true, Usage: "Acting user"}
	}
	workflowFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "workflow-id", Required: true, Usage: "Workflow to act on"}
	}

	return &cli.Command{
		Name:  "workflow",
		Usage: "Operate running workflows",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start a workflow from the latest version of a template",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "template-id", Required: true},
					userFlag(),
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "kickoff", Usage: "Kickoff values as a JSON object"},
				},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					kickoff, err := parseValues(command.String("kickoff"))
					if err != nil {
						return nil, err
					}

					return a.workflows.Start(ctx, services.StartRequest{
						TemplateID: command.String("template-id"),
						StarterID:  command.String("user"),
						Name:       command.String("name"),
						Kickoff:    kickoff,
					})
				}),
			},
			{
				Name:  "complete",
				Usage: "Complete a task as the given user",
				Flags: []cli.Flag{
					workflowFlag(),
					userFlag(),
					&cli.IntFlag{Name: "task", Required: true, Usage: "Task number"},
					&cli.StringFlag{Name: "outputs", Usage: "Output values as a JSON object"},
				},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					outputs, err := parseValues(command.String("outputs"))
					if err != nil {
						return nil, err
					}

					return a.workflows.CompleteTask(ctx, command.String("workflow-id"), int(command.Int("task")), command.String("user"), outputs)
				}),
			},
			{
				Name:  "revert",
				Usage: "Return the workflow to the previous task",
				Flags: []cli.Flag{workflowFlag(), userFlag()},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.RevertTask(ctx, command.String("workflow-id"), command.String("user"))
				}),
			},
			{
				Name:  "terminate",
				Usage: "Terminate the workflow",
				Flags: []cli.Flag{workflowFlag(), userFlag()},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.Terminate(ctx, command.String("workflow-id"), command.String("user"))
				}),
			},
			{
				Name:  "resume",
				Usage: "Resume a delayed workflow",
				Flags: []cli.Flag{workflowFlag(), userFlag()},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.Resume(ctx, command.String("workflow-id"), command.String("user"))
				}),
			},
			{
				Name:  "delay",
				Usage: "Pause the current task for a duration",
				Flags: []cli.Flag{
					workflowFlag(),
					userFlag(),
					&cli.DurationFlag{Name: "for", Required: true, Usage: "Delay duration, e.g. 48h"},
				},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.Delay(ctx, command.String("workflow-id"), command.String("user"), command.Duration("for"))
				}),
			},
			{
				Name:  "finish",
				Usage: "Finish a finalizable workflow before its last task",
				Flags: []cli.Flag{workflowFlag(), userFlag()},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.Finish(ctx, command.String("workflow-id"), command.String("user"))
				}),
			},
			{
				Name:  "add-performer",
				Usage: "Assign a user to a task",
				Flags: []cli.Flag{
					workflowFlag(),
					userFlag(),
					&cli.IntFlag{Name: "task", Required: true, Usage: "Task number"},
					&cli.StringFlag{Name: "performer", Required: true, Usage: "User to assign"},
				},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.AddPerformer(ctx, command.String("workflow-id"), int(command.Int("task")), command.String("user"), command.String("performer"))
				}),
			},
			{
				Name:  "remove-performer",
				Usage: "Unassign a user from a task",
				Flags: []cli.Flag{
					workflowFlag(),
					userFlag(),
					&cli.IntFlag{Name: "task", Required: true, Usage: "Task number"},
					&cli.StringFlag{Name: "performer", Required: true, Usage: "User to unassign"},
				},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.RemovePerformer(ctx, command.String("workflow-id"), int(command.Int("task")), command.String("user"), command.String("performer"))
				}),
			},
			{
				Name:  "check",
				Usage: "Select or clear a checklist item",
				Flags: []cli.Flag{
					workflowFlag(),
					userFlag(),
					&cli.IntFlag{Name: "task", Required: true, Usage: "Task number"},
					&cli.StringFlag{Name: "checklist", Required: true},
					&cli.StringFlag{Name: "item", Required: true},
					&cli.BoolFlag{Name: "clear", Usage: "Clear the item instead of selecting it"},
				},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.ToggleChecklistItem(ctx, command.String("workflow-id"), int(command.Int("task")),
						command.String("user"), command.String("checklist"), command.String("item"), !command.Bool("clear"))
				}),
			},
			{
				Name:  "show",
				Usage: "Print a workflow",
				Flags: []cli.Flag{workflowFlag()},
				Action: workflowAction(func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error) {
					return a.workflows.FetchByID(ctx, command.String("workflow-id"))
				}),
			},
		},
	}
}

func workflowAction(fn func(ctx context.Context, a *app, command *cli.Command) (*models.Workflow, error)) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		a, err := newApp(ctx, command, "workflow")
		if err != nil {
			return err
		}
		defer a.close(ctx)

		wf, err := fn(ctx, a, command)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(command.Root().Writer)
		encoder.SetIndent("", "  ")

		return encoder.Encode(wf)
	}
}

func parseValues(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("invalid JSON values: %w", err)
	}

	return values, nil
}

func NewMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending PostgreSQL migrations",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level"), command.String("log-format")).With("module", "migrate")

			db, err := postgresql.Open(ctx, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := db.Close(); err != nil {
					logger.Error("Failed to close database", "error", err)
				}
			}()

			migrator := postgresql.Migrator(logger, db)
			if err := migrator.RunMigrations(ctx); err != nil {
				return err
			}

			version, err := migrator.CurrentVersion(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(command.Root().Writer, "schema at version %d of %d\n", version, migrator.LatestVersion())

			return nil
		},
	}
}
