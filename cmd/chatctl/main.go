package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/config"
	"github.com/spec-kit/ticket-chat/internal/identity"
	"github.com/spec-kit/ticket-chat/internal/observability"
)

// Version info set via ldflags at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Ticket chat client",
		Long:  "chatctl connects to a helpdesk ticket's live chat, loads its history, sends messages and downloads attachments.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newOpenCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newStubCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatctl %s\n", Version)
		},
	}
}

// appEnv bundles the pieces every command needs.
type appEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	cred   identity.Credential
}

// loadEnv reads config, builds the logger and resolves the bearer
// credential (flag first, CHAT_AUTH_TOKEN second).
func loadEnv(tokenFlag string) (*appEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	token := tokenFlag
	if token == "" {
		token = os.Getenv("CHAT_AUTH_TOKEN")
	}
	return &appEnv{cfg: cfg, logger: logger, cred: identity.FromToken(token)}, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
