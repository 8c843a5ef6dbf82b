package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/plateful/plateful/gateway"
	"github.com/plateful/plateful/relay"
)

func gatewayCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the websocket gateway",
		Long: `The gateway accepts websocket connections from app clients, tracks their
user and job subscriptions, and relays matching broker events to them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(*configPath, *logLevel)
		},
	}
}

func runGateway(configPath, logLevel string) error {
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

	relayClient := relay.New(rdb, logger)
	defer relayClient.Close()

	promRegistry := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(promRegistry)
	registry := gateway.NewRegistry(logger, metrics)

	bridge := gateway.NewBridge(registry, logger, metrics)
	if err := bridge.Start(ctx, relayClient); err != nil {
		return fmt.Errorf("start relay bridge: %w", err)
	}

	handler := gateway.NewHandler(registry, logger, metrics)
	server := gateway.NewServer(cfg.Gateway.Addr, handler, promRegistry, logger)

	logger.Info("gateway ready", "version", Version, "addr", cfg.Gateway.Addr)
	return server.Serve(ctx)
}
