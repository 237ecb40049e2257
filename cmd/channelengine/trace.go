package main

import (
	"encoding/json"

	"github.com/fluxhealth/channelengine/message"
	"github.com/fluxhealth/channelengine/store"
	"github.com/fluxhealth/channelengine/trace"
)

// traceStore adapts *store.Store's decode-parameterized ListSourceMapEntries
// to trace.ChannelStore's no-arg signature by binding decodeSourceMap.
type traceStore struct {
	*store.Store
}

func (t traceStore) ListSourceMapEntries() ([]message.SourceMapEntry, error) {
	return t.Store.ListSourceMapEntries(decodeSourceMap)
}

// decodeSourceMap reads the immediate-parent fields out of the JSON blob
// channel.Channel persists as each message's SOURCE_MAP content.
func decodeSourceMap(raw []byte) (string, int64, bool) {
	var m struct {
		SourceChannelID string `json:"sourceChannelId"`
		SourceMessageID int64  `json:"sourceMessageId"`
	}
	if err := json.Unmarshal(raw, &m); err != nil || m.SourceChannelID == "" {
		return "", 0, false
	}
	return m.SourceChannelID, m.SourceMessageID, true
}

// traceRegistry satisfies trace.Registry over the engine's own channel
// registry: Store reuses the same lazily-opened store.Store instances,
// and Downstream scans every known config for "vm" destinations targeting
// the given channel.
type traceRegistry struct {
	reg *registry
}

func (t traceRegistry) Store(channelID string) (trace.ChannelStore, bool) {
	st, ok := t.reg.store(channelID)
	if !ok {
		return nil, false
	}
	return traceStore{st}, true
}

func (t traceRegistry) Downstream(channelID string) []string {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()

	var downstream []string
	for id, cfg := range t.reg.configs {
		for _, d := range cfg.DestinationConnectors {
			if d.Type != "vm" {
				continue
			}
			var props struct {
				TargetChannelID string `json:"targetChannelId"`
			}
			if err := marshalProps(d.Properties, &props); err == nil && props.TargetChannelID == channelID {
				downstream = append(downstream, id)
				break
			}
		}
	}
	return downstream
}
