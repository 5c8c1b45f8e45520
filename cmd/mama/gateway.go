package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mama-os/mama/pkg/logger"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the always-on gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, err := rt.start(ctx)
	if err != nil {
		rt.stop(context.Background())
		return err
	}

	enabled := rt.manager.EnabledChannels()
	if len(enabled) > 0 {
		fmt.Printf("Gateway running, channels: %v\n", enabled)
	} else {
		fmt.Println("Gateway running, no channels enabled")
	}
	fmt.Println("Press Ctrl+C to stop")
	logger.InfoCF("main", "Gateway started", map[string]any{
		"channels":  enabled,
		"workspace": cfg.Workspace,
	})

	<-runCtx.Done()

	logger.InfoC("main", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.stop(shutdownCtx)

	fmt.Println("Goodbye")
	return nil
}
