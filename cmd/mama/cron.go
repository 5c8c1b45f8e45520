package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/cron"
	"github.com/mama-os/mama/pkg/joblock"
	"github.com/mama-os/mama/pkg/store"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronAddCmd(), cronListCmd(), cronRemoveCmd(), cronEnableCmd())
	return cmd
}

// openScheduler builds a scheduler over the persisted store for job
// management. It is never started here; firing happens in the gateway.
func openScheduler() (*cron.Scheduler, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "mama.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	if err := st.Init(context.Background()); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("initializing store: %w", err)
	}
	locks := joblock.NewRegistry(filepath.Join(cfg.DataDir, "joblocks.json"))
	return cron.NewScheduler(st, locks, bus.NewMessageBus()), st, nil
}

func cronAddCmd() *cobra.Command {
	var (
		name    string
		expr    string
		every   time.Duration
		reply   string
		channel string
	)
	cmd := &cobra.Command{
		Use:   "add <message>",
		Short: "Add a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, st, err := openScheduler()
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := s.Add(context.Background(), store.CronJob{
				Name:         name,
				Expr:         expr,
				Every:        every,
				Message:      args[0],
				ReplySource:  reply,
				ReplyChannel: channel,
				Enabled:      true,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added job %s (%s)\n", job.ID, job.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&expr, "expr", "", "cron expression, e.g. \"0 9 * * *\"")
	cmd.Flags().DurationVar(&every, "every", 0, "fixed interval, e.g. 30m")
	cmd.Flags().StringVar(&reply, "reply-source", "", "gateway to deliver the result to")
	cmd.Flags().StringVar(&channel, "reply-channel", "", "channel ID for the result")
	return cmd
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, st, err := openScheduler()
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := s.List(context.Background())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs scheduled")
				return nil
			}
			for _, job := range jobs {
				schedule := job.Expr
				if schedule == "" {
					schedule = "every " + job.Every.String()
				}
				state := "enabled"
				if !job.Enabled {
					state = "disabled"
				}
				last := "never"
				if !job.LastRun.IsZero() && job.LastRun.Unix() > 0 {
					last = job.LastRun.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-20s %-16s %-8s last: %s\n", job.ID, job.Name, schedule, state, last)
			}
			return nil
		},
	}
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, st, err := openScheduler()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := s.Remove(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("Removed", args[0])
			return nil
		},
	}
}

func cronEnableCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable or disable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, st, err := openScheduler()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := s.SetEnabled(context.Background(), args[0], !disable); err != nil {
				return err
			}
			if disable {
				fmt.Println("Disabled", args[0])
			} else {
				fmt.Println("Enabled", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&disable, "off", false, "disable instead of enable")
	return cmd
}
