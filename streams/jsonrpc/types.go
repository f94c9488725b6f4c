// Package jsonrpc defines the wire contract shared by the snapshot stream
// server and client.
package jsonrpc

import "encoding/json"

const (
	// RpcNamespace is the namespace under which the streamer is registered.
	RpcNamespace = "curvelaunch"
	// SnapshotStreamSubscriptionMethod names the subscription clients request.
	SnapshotStreamSubscriptionMethod = "subscribeSnapshotStream"
)

// SubscriptionEvent is the wrapper object sent to every subscriber: one full
// snapshot on connect, diffs afterwards.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

const (
	EventTypeFull = "full"
	EventTypeDiff = "diff"
)
