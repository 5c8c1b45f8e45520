package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mama-os/mama/pkg/bus"
)

func agentCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Send one message to the agent and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" && len(args) > 0 {
				message = strings.Join(args, " ")
			}
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("no message given; use -m or positional args")
			}
			return runAgentOnce(message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send")
	return cmd
}

// runAgentOnce drives a single turn without starting any gateway
// services. The reply comes back over the outbound bus.
func runAgentOnce(message string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	rt.orch.HandleMessage(ctx, bus.InboundMessage{
		Source:    "viewer",
		ChannelID: "cli",
		UserID:    "local",
		Content:   message,
		Timestamp: time.Now(),
	})
	rt.orch.Wait()

	printed := false
	for {
		drainCtx, drainCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		msg, ok := rt.bus.SubscribeOutbound(drainCtx)
		drainCancel()
		if !ok {
			break
		}
		if msg.AgentID != "" {
			fmt.Printf("[%s] %s\n", msg.AgentID, msg.Content)
		} else {
			fmt.Println(msg.Content)
		}
		printed = true
	}
	if !printed {
		fmt.Println("(no reply)")
	}
	return nil
}
