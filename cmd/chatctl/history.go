package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-chat/internal/chat"
	"github.com/spec-kit/ticket-chat/internal/gateway"
)

func newHistoryCmd() *cobra.Command {
	var (
		token    string
		ticketID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a ticket's chat history",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(token)
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			gw := gateway.NewClient(gateway.Options{
				BaseURL:         env.cfg.API.BaseURL,
				Timeout:         env.cfg.API.RequestTimeout(),
				HistoryPageSize: env.cfg.API.HistoryPageSize,
				Logger:          env.logger,
			})

			msgs, err := gw.History(context.Background(), env.cred, ticketID)
			if err != nil {
				return err
			}

			// The collaborator's page order is not trusted; run it through
			// the same store the live session uses.
			store := chat.NewMessageStore()
			store.LoadHistory(msgs)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSENDER\tTYPE\tCONTENT")
			for _, msg := range store.Snapshot() {
				content := msg.Content
				if msg.HasAttachment() {
					content += " [" + msg.AttachmentFilename + "]"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					msg.Timestamp.Local().Format("2006-01-02 15:04"),
					msg.SenderName(),
					msg.MessageType,
					content)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket identifier (required)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to CHAT_AUTH_TOKEN)")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}
