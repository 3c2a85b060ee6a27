package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/stub"
)

func newStubCmd() *cobra.Command {
	var (
		addr     string
		token    string
		ticketID string
		chatID   string
	)

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run the in-memory collaborator emulator",
		Long: "Serves the chat collaborators (history, multipart send, attachment " +
			"download, live topic) from memory for local development.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(token)
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			server := stub.NewServer(token, env.logger)
			if ticketID != "" && chatID != "" {
				server.Provision(ticketID, chatID)
			}

			httpServer := &http.Server{Addr: addr, Handler: server.Handler()}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					env.logger.Fatal("stub listen", zap.Error(err))
				}
			}()
			env.logger.Info("stub serving", zap.String("addr", addr))

			waitForShutdown(env.logger)
			return httpServer.Close()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "bearer token to accept (empty accepts any)")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket to provision a chat for")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat identifier bound to --ticket")
	return cmd
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
