package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-chat/internal/gateway"
)

func newSendCmd() *cobra.Command {
	var (
		token    string
		ticketID string
		message  string
		filePath string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message to a ticket's chat",
		Long: "Posts a message without holding a live session. The created message " +
			"is delivered to connected session holders via the live topic.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(token)
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			gw := gateway.NewClient(gateway.Options{
				BaseURL: env.cfg.API.BaseURL,
				Timeout: env.cfg.API.RequestTimeout(),
				Logger:  env.logger,
			})

			var att *gateway.PendingAttachment
			if filePath != "" {
				att, err = gateway.StageAttachment(filePath)
				if err != nil {
					return err
				}
			}

			if err := gw.Send(context.Background(), env.cred, ticketID, message, att); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}

	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket identifier (required)")
	cmd.Flags().StringVar(&message, "message", "", "message text")
	cmd.Flags().StringVar(&filePath, "file", "", "attachment path (PNG, JPG or PDF, max 5 MiB)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to CHAT_AUTH_TOKEN)")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}
