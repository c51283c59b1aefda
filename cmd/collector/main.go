package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradecollector/config"
	"tradecollector/internal/okx/collector"
	"tradecollector/logger"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred cleanup always happens.
func run(args []string) error {
	flags := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to config.yaml (default: ../config next to the binary)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// viper config
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// run collector until terminated
	if err := collector.Run(ctx, cfg, log); err != nil {
		log.Error("collector failed", zap.Error(err))
		return err
	}
	return nil
}
