package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/defistate/amm-engine-go/events"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the streamer is registered.
	RpcNamespace                  = "amm"
	EventStreamSubscriptionMethod = "subscribeEventStream"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Envelope is the wrapper object received from the server.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// DecodeEvent maps an envelope back to its typed event.
func DecodeEvent(envelope Envelope) (events.Event, error) {
	switch envelope.Type {
	case events.Sync{}.Kind():
		var e events.Sync
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case events.Deposited{}.Kind():
		var e events.Deposited
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case events.Withdrawn{}.Kind():
		var e events.Withdrawn
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case events.Exchanged{}.Kind():
		var e events.Exchanged
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case events.PairCreated{}.Kind():
		var e events.PairCreated
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", envelope.Type)
	}
}

// Client subscribes to an engine's event stream and delivers typed events,
// reconnecting with exponential backoff when the connection drops.
type Client struct {
	eventCh chan events.Event
	errCh   chan error
	logger  Logger
}

// NewClient creates a new client and starts its connection loop.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		eventCh: make(chan events.Event, cfg.BufferSize),
		errCh:   make(chan error, 1),
		logger:  cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Events returns a read-only channel for receiving decoded events.
func (c *Client) Events() <-chan events.Event {
	return c.eventCh
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			time.Sleep(reconnectDelay)
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled, shutting down.")
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			time.Sleep(reconnectDelay)
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	envelopeCh := make(chan Envelope)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, envelopeCh, EventStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for events...")
	for {
		select {
		case envelope := <-envelopeCh:
			event, err := DecodeEvent(envelope)
			if err != nil {
				c.logger.Error("Error decoding event", "error", err)
				continue
			}
			c.eventCh <- event
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}
