package main

import (
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/chat"
	"github.com/spec-kit/ticket-chat/internal/config"
	"github.com/spec-kit/ticket-chat/internal/identity"
	"github.com/spec-kit/ticket-chat/internal/observability"
	"github.com/spec-kit/ticket-chat/internal/transport"
)

// wsTransport adapts the STOMP WebSocket client to the session's Transport
// interface.
type wsTransport struct {
	client *transport.Client
}

func newTransportFactory(cfg config.TransportConfig, logger *zap.Logger, metrics *observability.Metrics) chat.TransportFactory {
	return func(hooks chat.TransportHooks, cred identity.Credential) chat.Transport {
		client := transport.NewClient(transport.Options{
			URL:              cfg.URL,
			Token:            cred.Token,
			ReconnectDelay:   cfg.ReconnectDelay(),
			Heartbeat:        cfg.Heartbeat(),
			HandshakeTimeout: cfg.HandshakeTimeout(),
			Logger:           logger,
			Metrics:          metrics,
		}, transport.Hooks{
			OnConnect:        hooks.OnConnect,
			OnDisconnect:     hooks.OnDisconnect,
			OnTransportError: hooks.OnTransportError,
			OnProtocolError:  hooks.OnProtocolError,
		})
		return &wsTransport{client: client}
	}
}

func (t *wsTransport) Activate() {
	t.client.Activate()
}

func (t *wsTransport) Deactivate() {
	t.client.Deactivate()
}

func (t *wsTransport) Subscribe(destination, id string, handler func(body []byte)) (chat.Subscription, error) {
	sub, err := t.client.Subscribe(destination, id, func(body []byte, _ map[string]string) {
		handler(body)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
