package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-chat/internal/chat"
	"github.com/spec-kit/ticket-chat/internal/domain"
	"github.com/spec-kit/ticket-chat/internal/events"
	"github.com/spec-kit/ticket-chat/internal/gateway"
	"github.com/spec-kit/ticket-chat/internal/observability"
	"github.com/spec-kit/ticket-chat/internal/service"
)

func newOpenCmd() *cobra.Command {
	var (
		token    string
		ticketID string
		chatID   string
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an interactive chat session for a ticket",
		Long: "Connects to the ticket's live topic, loads history and reads messages " +
			"from stdin. /file <path> [caption] sends an attachment, /download <n> " +
			"fetches message n's attachment, /quit leaves.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(token)
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			metrics := observability.NewMetrics()
			gw := gateway.NewClient(gateway.Options{
				BaseURL:         env.cfg.API.BaseURL,
				Timeout:         env.cfg.API.RequestTimeout(),
				HistoryPageSize: env.cfg.API.HistoryPageSize,
				Logger:          env.logger,
				Metrics:         metrics,
			})

			dispatcher := events.NewInMemoryDispatcher()
			service.NewSessionMonitor(dispatcher, env.logger).RegisterHandlers()

			session := chat.NewSessionController(chat.SessionDependencies{
				Factory:     newTransportFactory(env.cfg.Transport, env.logger, metrics),
				History:     gw,
				Sender:      gw,
				Dispatcher:  dispatcher,
				Logger:      env.logger,
				TopicPrefix: env.cfg.Transport.TopicPrefix,
			})

			out := cmd.OutOrStdout()
			registerRenderer(dispatcher, session, out)

			if err := session.Open(ticketID, chatID, env.cred); err != nil {
				return err
			}
			defer session.Close()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit":
					return nil
				case strings.HasPrefix(line, "/file "):
					sendFile(cmd, session, line)
				case strings.HasPrefix(line, "/download "):
					downloadByIndex(cmd, session, gw, env, line)
				default:
					if err := session.Send(context.Background(), line, nil); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "send failed: %v\n", err)
					}
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket identifier (required)")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat identifier for the ticket's topic")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to CHAT_AUTH_TOKEN)")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}

// registerRenderer prints session activity to the terminal.
func registerRenderer(dispatcher events.Dispatcher, session *chat.SessionController, out io.Writer) {
	dispatcher.Subscribe(events.EventSessionStateChanged, func(_ context.Context, e events.Event) {
		if p, ok := e.Payload.(events.SessionStateChangedPayload); ok {
			fmt.Fprintf(out, "-- %s\n", strings.ToLower(string(p.NewState)))
		}
	})
	dispatcher.Subscribe(events.EventHistoryLoaded, func(_ context.Context, e events.Event) {
		for i, msg := range session.Messages() {
			printMessage(out, i, msg, session.Info().CurrentUserID)
		}
	})
	dispatcher.Subscribe(events.EventMessageReceived, func(_ context.Context, e events.Event) {
		if p, ok := e.Payload.(events.MessageReceivedPayload); ok {
			printMessage(out, session.Store().Len()-1, p.Message, session.Info().CurrentUserID)
		}
	})
	dispatcher.Subscribe(events.EventSessionError, func(_ context.Context, e events.Event) {
		if p, ok := e.Payload.(events.SessionErrorPayload); ok {
			fmt.Fprintf(out, "!! %s: %s\n", p.Kind, p.Message)
		}
	})
}

func sendFile(cmd *cobra.Command, session *chat.SessionController, line string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/file "))
	if len(fields) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "usage: /file <path> [caption]")
		return
	}
	att, err := gateway.StageAttachment(fields[0])
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "attachment rejected: %v\n", err)
		return
	}
	caption := strings.Join(fields[1:], " ")
	if err := session.Send(context.Background(), caption, att); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "send failed: %v\n", err)
	}
}

func downloadByIndex(cmd *cobra.Command, session *chat.SessionController, gw *gateway.Client, env *appEnv, line string) {
	arg := strings.TrimSpace(strings.TrimPrefix(line, "/download "))
	index, err := strconv.Atoi(arg)
	msgs := session.Messages()
	if err != nil || index < 0 || index >= len(msgs) {
		fmt.Fprintln(cmd.ErrOrStderr(), "usage: /download <message-index>")
		return
	}
	msg := msgs[index]
	if !msg.HasAttachment() || msg.AttachmentURL == "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "message %d carries no attachment\n", index)
		return
	}
	path, err := gw.Download(context.Background(), env.cred, msg.AttachmentURL, msg.AttachmentFilename, env.cfg.Download.Dir)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "download failed: %v\n", err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
}

func printMessage(out io.Writer, index int, msg domain.ChatMessage, currentUserID string) {
	name := msg.SenderName()
	if msg.SenderID() != "" && msg.SenderID() == currentUserID {
		name = "me"
	}
	line := fmt.Sprintf("[%d] %s %s", index, msg.Timestamp.Local().Format("15:04"), name)
	if msg.Content != "" {
		line += ": " + msg.Content
	}
	if msg.HasAttachment() {
		line += fmt.Sprintf(" (attachment: %s)", msg.AttachmentFilename)
	}
	fmt.Fprintln(out, line)
}
