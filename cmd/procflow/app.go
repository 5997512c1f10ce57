package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/cmd"
	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/performers"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/retry"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/versionsync"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// app holds the components shared by the subcommands.
type app struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    *eventbus.WatermillEventBus
	redis       redis.UniversalClient
	engine      *engine.Engine
	sync        *versionsync.Service
	templates   *services.Template
	workflows   *services.Workflow

	closers []func(ctx context.Context) error
}

func newApp(ctx context.Context, command *cli.Command, module string) (*app, error) {
	logger := log.Setup(command.String("log-level"), command.String("log-format")).With("module", module)

	a := &app{logger: logger}

	tracer := otelhelper.NoopTracer()

	if command.Bool("tracing") {
		t, shutdown, err := otelhelper.NewTracer(ctx, "procflow-"+module)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		tracer = t
		a.closers = append(a.closers, shutdown)
	}

	if err := a.open(ctx, command, tracer); err != nil {
		a.close(ctx)

		return nil, err
	}

	return a, nil
}

func (a *app) open(ctx context.Context, command *cli.Command, tracer trace.Tracer) error {
	store, err := cmd.NewPersistence(ctx, a.logger, command.String("database-url"))
	if err != nil {
		return err
	}

	a.persistence = store
	a.closers = append(a.closers, store.Close)

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), a.logger)
	if err != nil {
		return err
	}

	a.eventBus = bus
	a.closers = append(a.closers, func(context.Context) error { return bus.Close() })

	client, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	if client != nil {
		a.redis = client
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	}

	directory, err := cmd.NewDirectory(ctx, a.redis, command.String("directory-file"), a.logger)
	if err != nil {
		return err
	}

	resolver := performers.NewResolver(directory, a.logger)
	notifier := eventbus.NewNotifier(bus)

	a.engine = engine.New(store.Workflows(), resolver, notifier, a.logger, engine.WithTracer(tracer))
	a.sync = versionsync.NewService(store.Templates(), store.Workflows(), resolver, notifier, a.logger, versionsync.WithTracer(tracer))
	a.templates = services.NewTemplate(store, bus, a.logger)
	a.workflows = services.NewWorkflow(store, a.engine, a.logger, retry.DefaultPolicy())

	if message, ok := a.workflows.HealthCheck(ctx); !ok {
		return errors.New(message)
	}

	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Error("Failed to release resources", "error", err)
	}
}
