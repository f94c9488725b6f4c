// Package client consumes the snapshot stream: it maintains the latest
// engine snapshot by applying server diffs, and reconnects with backoff when
// the connection drops.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/curvelaunch/curvelaunch-engine-go/differ"
	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/streams/jsonrpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PatchFunc applies a diff to a previous snapshot without mutating it.
type PatchFunc func(prev *engine.Snapshot, diff *differ.SnapshotDiff) (*engine.Snapshot, error)

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
	Patcher    PatchFunc
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
	if c.Patcher == nil {
		return errors.New("config: Patcher is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor handles the business logic of parsing events, maintaining
// the latest snapshot, applying diffs, and broadcasting updates. It is
// decoupled from the networking layer.
type StreamProcessor struct {
	lastSnapshot *engine.Snapshot
	patch        PatchFunc
	snapshotCh   chan *engine.Snapshot
	logger       Logger
}

// NewStreamProcessor creates a pure logic processor without networking.
func NewStreamProcessor(logger Logger, bufferSize uint, patch PatchFunc) *StreamProcessor {
	return &StreamProcessor{
		logger:     logger,
		snapshotCh: make(chan *engine.Snapshot, bufferSize),
		patch:      patch,
	}
}

// Snapshots returns a read-only channel for receiving new snapshots.
func (sp *StreamProcessor) Snapshots() <-chan *engine.Snapshot {
	return sp.snapshotCh
}

// ProcessMessage accepts one raw subscription event and updates the internal
// snapshot.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	processingStart := time.Now()
	var event jsonrpc.SubscriptionEvent

	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case jsonrpc.EventTypeFull:
		return sp.handleFull(event, processingStart)
	case jsonrpc.EventTypeDiff:
		return sp.handleDiff(event, processingStart)
	default:
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handleFull(event jsonrpc.SubscriptionEvent, start time.Time) error {
	var snap engine.Snapshot
	if err := json.Unmarshal(event.Payload, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal full snapshot payload: %w", err)
	}

	sp.logEvent(&snap, time.Since(start), event.SentAt, jsonrpc.EventTypeFull)
	sp.lastSnapshot = &snap
	sp.snapshotCh <- &snap
	return nil
}

func (sp *StreamProcessor) handleDiff(event jsonrpc.SubscriptionEvent, start time.Time) error {
	var diff differ.SnapshotDiff
	if err := json.Unmarshal(event.Payload, &diff); err != nil {
		return fmt.Errorf("failed to unmarshal diff payload: %w", err)
	}

	if sp.lastSnapshot == nil {
		return fmt.Errorf("received diff before full snapshot; fromSequence: %d, toSequence: %d",
			diff.FromSequence, diff.ToSequence)
	}

	if diff.FromSequence != sp.lastSnapshot.Sequence {
		sp.logger.Warn(
			"Received out-of-order diff; snapshot may be out of sync. Discarding.",
			"last_known_sequence", sp.lastSnapshot.Sequence,
			"diff_from_sequence", diff.FromSequence,
			"diff_to_sequence", diff.ToSequence,
		)
		return nil // Non-fatal, just ignored
	}

	newSnapshot, err := sp.patch(sp.lastSnapshot, &diff)
	if err != nil {
		return fmt.Errorf("failed to patch snapshot: %w", err)
	}

	sp.logEvent(newSnapshot, time.Since(start), event.SentAt, jsonrpc.EventTypeDiff)
	sp.lastSnapshot = newSnapshot
	sp.snapshotCh <- newSnapshot
	return nil
}

func (sp *StreamProcessor) logEvent(snap *engine.Snapshot, processingDur time.Duration, sentAt int64, eventType string) {
	if snap == nil {
		return
	}
	transport := time.Since(time.Unix(0, sentAt)) - processingDur
	sp.logger.Debug("Snapshot processed",
		"sequence", snap.Sequence,
		"type", eventType,
		"pools", len(snap.Pools),
		"entries", len(snap.Liquidity),
		"latency_transport_ms", transport.Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
	)
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses StreamProcessor for logic.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize, cfg.Patcher),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Snapshots delegates to the processor's snapshot channel.
func (c *Client) Snapshots() <-chan *engine.Snapshot {
	return c.processor.Snapshots()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
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

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, jsonrpc.RpcNamespace, rawCh, jsonrpc.SnapshotStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}
