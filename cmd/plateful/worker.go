package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/plateful/plateful/config"
	"github.com/plateful/plateful/job"
	"github.com/plateful/plateful/llm"
	"github.com/plateful/plateful/mealplan"
	"github.com/plateful/plateful/pantry"
	"github.com/plateful/plateful/queue"
	"github.com/plateful/plateful/recipes"
	"github.com/plateful/plateful/relay"
)

func workerCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker",
		Long: `The worker consumes queued jobs from JetStream, executes them, and
publishes progress and terminal events through the relay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(*configPath, *logLevel)
		},
	}
}

func runWorker(configPath, logLevel string) error {
	logger := setupLogging(logLevel)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("plateful-worker"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Drain()

	// The producer call ensures the job stream exists before consuming.
	if _, err := queue.NewProducer(ctx, nc); err != nil {
		return fmt.Errorf("ensure job stream: %w", err)
	}

	operations, err := buildOperations(cfg, logger)
	if err != nil {
		return err
	}

	relayClient := relay.New(rdb, logger)
	defer relayClient.Close()

	metrics := job.NewMetrics(prometheus.DefaultRegisterer)
	executor := job.NewExecutor(relayClient, job.NewRedisTracker(rdb), logger, job.WithMetrics(metrics))

	consumer := queue.NewConsumer(nc, cfg.Worker.Durable, logger)
	consumer.MaxDeliver = cfg.Worker.MaxDeliver
	consumer.AckWait = cfg.Worker.AckWait

	logger.Info("worker ready", "version", Version, "durable", cfg.Worker.Durable)
	return consumer.Run(ctx, func(ctx context.Context, j job.Job) error {
		op, ok := operations[j.Type]
		if !ok {
			// Unknown types fail fast so the queue terms them.
			return llm.NewFatalError(fmt.Errorf("no operation for job type %q", j.Type))
		}
		return executor.Run(ctx, op, j)
	})
}

// buildOperations wires one operation per job type.
func buildOperations(cfg *config.Config, logger *slog.Logger) (map[job.Type]job.Operation, error) {
	modelClient, err := llm.NewClient(llm.Endpoint{
		Provider: cfg.Model.Provider,
		BaseURL:  cfg.Model.BaseURL,
		Model:    cfg.Model.Model,
	}, llm.WithTimeout(cfg.Model.Timeout), llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	visionClient, err := llm.NewClient(llm.Endpoint{
		Provider: cfg.Vision.Provider,
		BaseURL:  cfg.Vision.BaseURL,
		Model:    cfg.Vision.Model,
	}, llm.WithTimeout(cfg.Vision.Timeout), llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}

	recipeClient := recipes.NewHTTPClient(cfg.Recipes.BaseURL, cfg.Model.Timeout)

	generator, err := mealplan.NewGenerator(modelClient, recipeClient, recipeClient, cfg.MealPlan, logger)
	if err != nil {
		return nil, fmt.Errorf("create mealplan generator: %w", err)
	}

	extractor, err := pantry.NewExtractor(visionClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create pantry extractor: %w", err)
	}

	return map[job.Type]job.Operation{
		generator.Type(): generator,
		extractor.Type(): extractor,
	}, nil
}
