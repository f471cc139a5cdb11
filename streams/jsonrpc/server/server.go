package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/defistate/amm-engine-go/events"
)

const (
	// RpcNamespace is the namespace under which the streamer is registered.
	RpcNamespace = "amm"

	// DefaultSubscriberBufferSize is the per-subscriber event buffer.
	DefaultSubscriberBufferSize = 256
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Envelope is the wrapper object sent to subscribers.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Config holds the configuration for the event stream server.
type Config struct {
	// Events is the broadcaster carrying the engine's notification stream.
	Events *events.Broadcaster
	// Logger for structured logging.
	Logger Logger
	// BufferSize is the per-subscriber buffer; defaults to DefaultSubscriberBufferSize.
	BufferSize int
}

func (c *Config) validate() error {
	if c.Events == nil {
		return errors.New("config: Events broadcaster is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// EventStreamer exposes the engine's event stream as a JSON-RPC subscription.
type EventStreamer struct {
	events *events.Broadcaster
	logger Logger
	buffer int
}

// NewServer builds an rpc.Server with the event streamer registered under the
// "amm" namespace. Serve it over HTTP/WebSocket or attach in-process clients.
func NewServer(cfg Config) (*rpc.Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = DefaultSubscriberBufferSize
	}

	streamer := &EventStreamer{
		events: cfg.Events,
		logger: cfg.Logger,
		buffer: buffer,
	}

	srv := rpc.NewServer()
	if err := srv.RegisterName(RpcNamespace, streamer); err != nil {
		return nil, fmt.Errorf("failed to register event streamer: %w", err)
	}
	return srv, nil
}

// SubscribeEventStream starts a subscription delivering every engine event,
// wrapped in an Envelope, in emission order.
func (s *EventStreamer) SubscribeEventStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	sub := notifier.CreateSubscription()
	ch, unsubscribe := s.events.Subscribe(s.buffer)

	go func() {
		defer unsubscribe()
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(e)
				if err != nil {
					s.logger.Error("Failed to marshal event payload", "kind", e.Kind(), "error", err)
					continue
				}
				envelope := Envelope{
					Type:    e.Kind(),
					Payload: payload,
					SentAt:  time.Now().UnixNano(),
				}
				if err := notifier.Notify(sub.ID, envelope); err != nil {
					s.logger.Debug("Subscriber notification failed, dropping subscription", "error", err)
					return
				}
			case err := <-sub.Err():
				if err != nil {
					s.logger.Debug("Subscription closed", "error", err)
				}
				return
			}
		}
	}()

	return sub, nil
}
