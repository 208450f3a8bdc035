package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"go-agent-worker/internal/agents/echo"
	"go-agent-worker/internal/bootstrap"
	"go-agent-worker/internal/config"
	"go-agent-worker/internal/logger"
	"go-agent-worker/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("agentworker", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	host, err := bootstrap.NewHost(cfg, reg, log)
	if err != nil {
		return err
	}
	defer host.Close()
	if err := reg.Register(echo.AgentType, echo.Factory(host, log)); err != nil {
		return err
	}

	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	log.Info().Str("host", host.ID()).Strs("agent_types", reg.Types()).Msg("agent worker running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGrace)
	defer cancel()
	return host.Stop(shutdownCtx)
}
