package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-chat/internal/gateway"
)

func newDownloadCmd() *cobra.Command {
	var (
		token         string
		attachmentURL string
		filename      string
		dir           string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a chat attachment",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(token)
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			if dir == "" {
				dir = env.cfg.Download.Dir
			}
			gw := gateway.NewClient(gateway.Options{
				BaseURL: env.cfg.API.BaseURL,
				Timeout: env.cfg.API.RequestTimeout(),
				Logger:  env.logger,
			})

			path, err := gw.Download(context.Background(), env.cred, attachmentURL, filename, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&attachmentURL, "url", "", "attachment resource locator (required)")
	cmd.Flags().StringVar(&filename, "name", "", "target file name (required)")
	cmd.Flags().StringVar(&dir, "dir", "", "target directory (defaults to CHAT_DOWNLOAD_DIR)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to CHAT_AUTH_TOKEN)")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
