// Package server broadcasts engine snapshots over go-ethereum JSON-RPC
// subscriptions. Each subscriber receives the current full snapshot first,
// then a diff per committed mutation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/curvelaunch/curvelaunch-engine-go/differ"
	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/streams/jsonrpc"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the stream API's dependencies.
type Config struct {
	Engine *engine.Engine
	Differ *differ.StateDiffer
	Logger Logger

	// BufferSize is the per-subscriber event buffer. A subscriber that
	// falls this far behind is dropped.
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("config: Engine cannot be nil")
	}
	if c.Differ == nil {
		return errors.New("config: Differ cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	return nil
}

type subscriber struct {
	events chan jsonrpc.SubscriptionEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// StreamAPI is the RPC service backing the snapshot stream. Register it on
// an rpc.Server under jsonrpc.RpcNamespace.
type StreamAPI struct {
	differ *differ.StateDiffer
	logger Logger
	buffer uint

	mu   sync.Mutex
	last engine.Snapshot
	subs map[*subscriber]struct{}
}

// NewStreamAPI wires the API into the engine's snapshot feed.
func NewStreamAPI(cfg *Config) (*StreamAPI, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	api := &StreamAPI{
		differ: cfg.Differ,
		logger: cfg.Logger,
		buffer: cfg.BufferSize,
		last:   cfg.Engine.CurrentSnapshot(),
		subs:   make(map[*subscriber]struct{}),
	}
	cfg.Engine.OnSnapshot(api.onSnapshot)
	return api, nil
}

// NewRPCServer builds an rpc.Server with the stream API registered. Expose
// its WebsocketHandler over HTTP to serve clients.
func NewRPCServer(api *StreamAPI) (*rpc.Server, error) {
	s := rpc.NewServer()
	if err := s.RegisterName(jsonrpc.RpcNamespace, api); err != nil {
		return nil, err
	}
	return s, nil
}

func (api *StreamAPI) onSnapshot(snap engine.Snapshot) {
	api.mu.Lock()
	prev := api.last
	api.last = snap

	diff, err := api.differ.Diff(&prev, &snap)
	if err != nil {
		api.logger.Error("could not diff snapshots, subscribers fall back to full", "err", err)
	}

	var event jsonrpc.SubscriptionEvent
	if err == nil {
		event, err = makeEvent(jsonrpc.EventTypeDiff, diff)
	}
	if err != nil {
		event, err = makeEvent(jsonrpc.EventTypeFull, &snap)
	}
	if err != nil {
		api.mu.Unlock()
		api.logger.Error("could not encode snapshot event", "err", err)
		return
	}

	subs := make([]*subscriber, 0, len(api.subs))
	for s := range api.subs {
		subs = append(subs, s)
	}
	api.mu.Unlock()

	for _, s := range subs {
		select {
		case s.events <- event:
		case <-s.done:
		default:
			api.logger.Warn("subscriber too slow, dropping", "buffered", cap(s.events))
			api.drop(s)
		}
	}
}

func (api *StreamAPI) drop(s *subscriber) {
	api.mu.Lock()
	delete(api.subs, s)
	api.mu.Unlock()
	s.stop()
}

// SubscribeSnapshotStream is invoked by clients through
// curvelaunch_subscribe("subscribeSnapshotStream").
func (api *StreamAPI) SubscribeSnapshotStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()

	sub := &subscriber{
		events: make(chan jsonrpc.SubscriptionEvent, api.buffer),
		done:   make(chan struct{}),
	}

	// The full snapshot goes into the buffer before the subscriber is
	// registered, so no diff can precede it.
	api.mu.Lock()
	full, err := makeEvent(jsonrpc.EventTypeFull, &api.last)
	if err != nil {
		api.mu.Unlock()
		return nil, err
	}
	sub.events <- full
	api.subs[sub] = struct{}{}
	api.mu.Unlock()

	go func() {
		defer api.drop(sub)
		for {
			select {
			case event := <-sub.events:
				if err := notifier.Notify(rpcSub.ID, event); err != nil {
					api.logger.Warn("could not notify subscriber", "err", err)
					return
				}
			case <-sub.done:
				return
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

func makeEvent(eventType string, payload any) (jsonrpc.SubscriptionEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return jsonrpc.SubscriptionEvent{}, err
	}
	return jsonrpc.SubscriptionEvent{
		Type:    eventType,
		Payload: raw,
		SentAt:  time.Now().UnixNano(),
	}, nil
}
