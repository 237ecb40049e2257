// Package vmrouter implements the in-process VM router: building the
// source-map chain a routed message carries and dispatching it into the
// target channel through the engine, resilient to missing or stopped
// targets per the router's no-panic contract.
package vmrouter

import (
	"context"
	"fmt"

	"github.com/fluxhealth/channelengine/channel"
	"github.com/fluxhealth/channelengine/engine"
)

// SourceMap is the provenance chain attached to every in-process-routed
// message. sourceChannelIds/sourceMessageIds record the full upstream
// chain; the singular fields record the immediate parent.
type SourceMap struct {
	SourceChannelIDs []string `json:"sourceChannelIds"`
	SourceMessageIDs []int64  `json:"sourceMessageIds"`
	SourceChannelID  string   `json:"sourceChannelId"`
	SourceMessageID  int64    `json:"sourceMessageId"`
}

// Valid reports whether the chain arrays are consistent. A mismatch is
// treated as corruption, and the caller should treat the message as root.
func (m SourceMap) Valid() bool {
	return len(m.SourceChannelIDs) == len(m.SourceMessageIDs)
}

// Append extends the chain with the current channel/message, returning a
// new SourceMap. If the existing map is corrupt (array length mismatch),
// the chain is reset to start fresh at the current hop rather than
// propagating bad data.
func Append(existing SourceMap, channelID string, messageID int64) SourceMap {
	base := existing
	if !base.Valid() {
		base = SourceMap{}
	}

	next := SourceMap{
		SourceChannelIDs: append(append([]string{}, base.SourceChannelIDs...), channelID),
		SourceMessageIDs: append(append([]int64{}, base.SourceMessageIDs...), messageID),
		SourceChannelID:  channelID,
		SourceMessageID:  messageID,
	}
	return next
}

// ToMap converts m into the generic map channel.Channel carries as a
// message's source map and persists as its SOURCE_MAP content.
func (m SourceMap) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"sourceChannelIds": m.SourceChannelIDs,
		"sourceMessageIds": m.SourceMessageIDs,
		"sourceChannelId":  m.SourceChannelID,
		"sourceMessageId":  m.SourceMessageID,
	}
}

// FromMap reconstructs a SourceMap from the generic map channel.Provenance
// carries. A nil map yields the zero SourceMap. Otherwise each field is
// copied only when its value has the expected Go type (a map decoded from
// stored JSON would hold e.g. []interface{} instead of []string) and is left
// zero otherwise; a chain whose two arrays end up with different lengths
// fails Valid, and Append then starts it fresh.
func FromMap(m map[string]interface{}) SourceMap {
	var out SourceMap
	if m == nil {
		return out
	}
	if ids, ok := m["sourceChannelIds"].([]string); ok {
		out.SourceChannelIDs = ids
	}
	if ids, ok := m["sourceMessageIds"].([]int64); ok {
		out.SourceMessageIDs = ids
	}
	if id, ok := m["sourceChannelId"].(string); ok {
		out.SourceChannelID = id
	}
	if id, ok := m["sourceMessageId"].(int64); ok {
		out.SourceMessageID = id
	}
	return out
}

// RawDispatcher is the subset of engine.Engine the router needs: a way to
// hand a raw payload to a deployed channel and learn its selected reply.
type RawDispatcher interface {
	DispatchRawMessage(ctx context.Context, targetChannelID string, raw []byte, sourceMap map[string]interface{}) (engine.DispatchResult, error)
}

// Router dispatches payloads into any target channel via Eng; the source
// channel and message are passed on each Dispatch call, so one Router
// serves every channel.
type Router struct {
	Eng RawDispatcher
}

// New builds a Router backed by eng.
func New(eng RawDispatcher) *Router {
	return &Router{Eng: eng}
}

// Dispatch matches destination.Dispatcher's signature so it can be wired
// directly into a destination.VMDispatcher without either package
// importing the other. It reads the dispatching channel's current source
// map off ctx (set by channel.Channel.handleMessage) and extends it with
// this hop via Append, so the target channel's message carries the full
// upstream chain rather than just its immediate parent. A missing,
// undeployed, or stopped target channel is reported as an error, never a
// panic.
func (r *Router) Dispatch(ctx context.Context, targetChannelID string, payload []byte, sourceChannelID string, sourceMessageID int64) (string, error) {
	var existing SourceMap
	if prov, ok := channel.ProvenanceFromContext(ctx); ok {
		existing = FromMap(prov.SourceMap)
	}
	next := Append(existing, sourceChannelID, sourceMessageID)

	result, err := r.Eng.DispatchRawMessage(ctx, targetChannelID, payload, next.ToMap())
	if err != nil {
		return "", fmt.Errorf("vmrouter: dispatch %s -> %s (msg %d): %w", sourceChannelID, targetChannelID, sourceMessageID, err)
	}
	return result.SelectedResponse, nil
}
