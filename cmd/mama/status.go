package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mama-os/mama/pkg/store"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			fmt.Printf("Config:    %s\n", resolveConfigPath())
			fmt.Printf("Workspace: %s\n", cfg.Workspace)
			fmt.Printf("Data dir:  %s\n", cfg.DataDir)
			fmt.Printf("Backend:   %s (%s)\n", cfg.Agent.Backend, cfg.Agent.Model)

			fmt.Println("Gateways:")
			fmt.Printf("  discord:  %v\n", cfg.Gateways.Discord.Enabled)
			fmt.Printf("  slack:    %v\n", cfg.Gateways.Slack.Enabled)
			fmt.Printf("  telegram: %v\n", cfg.Gateways.Telegram.Enabled)
			fmt.Printf("  viewer:   %v\n", cfg.Gateways.Viewer.Enabled)

			st, err := store.Open(filepath.Join(cfg.DataDir, "mama.db"))
			if err != nil {
				fmt.Printf("Store:     unavailable (%v)\n", err)
				return nil
			}
			defer st.Close()
			ctx := context.Background()
			if err := st.Init(ctx); err != nil {
				fmt.Printf("Store:     unavailable (%v)\n", err)
				return nil
			}

			sessions, err := st.ListSessions(ctx)
			if err == nil {
				fmt.Printf("Sessions:  %d persisted\n", len(sessions))
			}
			jobs, err := st.ListCronJobs(ctx)
			if err == nil {
				enabled := 0
				for _, j := range jobs {
					if j.Enabled {
						enabled++
					}
				}
				fmt.Printf("Cron jobs: %d (%d enabled)\n", len(jobs), enabled)
				for _, j := range jobs {
					next := j.Expr
					if next == "" {
						next = "every " + j.Every.String()
					}
					fmt.Printf("  %s  %-20s %s\n", j.ID, j.Name, next)
				}
			}
			return nil
		},
	}
}
