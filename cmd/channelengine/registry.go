package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/fluxhealth/channelengine/api"
	"github.com/fluxhealth/channelengine/channel"
	"github.com/fluxhealth/channelengine/config"
	"github.com/fluxhealth/channelengine/engine"
	"github.com/fluxhealth/channelengine/store"
	"github.com/fluxhealth/channelengine/vmrouter"
)

// registry owns every deployed channel's config and store, and builds
// channel.Channel instances on demand for the engine's Builder. It
// satisfies both api.ChannelStores (for the REST layer) and the lookup
// side of the connector factory.
type registry struct {
	db       *gorm.DB
	serverID string
	queues   *queueManager

	mu      sync.Mutex
	configs map[string]*config.ChannelConfig
	stores  map[string]*store.Store
}

func newRegistry(db *gorm.DB, serverID, queueURL string) *registry {
	return &registry{
		db:       db,
		serverID: serverID,
		queues:   newQueueManager(queueURL),
		configs:  make(map[string]*config.ChannelConfig),
		stores:   make(map[string]*store.Store),
	}
}

// loadDir parses every *.json file in dir as a config.ChannelConfig, keyed
// by its declared ID.
func (r *registry) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		cfg, err := config.ParseChannelConfig(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		r.mu.Lock()
		r.configs[cfg.ID] = cfg
		r.mu.Unlock()
	}
	return nil
}

// Store lazily opens (migrating on first use) the per-channel table set
// and returns it as an api.MessageStore, satisfying api.ChannelStores.
func (r *registry) Store(channelID string) (api.MessageStore, bool) {
	st, ok := r.store(channelID)
	if !ok {
		return nil, false
	}
	return st, true
}

func (r *registry) store(channelID string) (*store.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.configs[channelID]; !ok {
		return nil, false
	}
	if st, ok := r.stores[channelID]; ok {
		return st, true
	}

	st := store.New(r.db, channelID)
	if err := st.Migrate(nil); err != nil {
		return nil, false
	}
	r.stores[channelID] = st
	return st, true
}

// builder returns an engine.Builder that looks up the named channel's
// config, builds its connectors, and wires a channel.Channel from them.
func (r *registry) builder(sqlDB *sql.DB, router *vmrouter.Router) engine.Builder {
	return func(ctx context.Context, channelID string) (*channel.Channel, error) {
		r.mu.Lock()
		cfg, ok := r.configs[channelID]
		r.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("channelengine: no config for channel %q", channelID)
		}

		st, ok := r.store(channelID)
		if !ok {
			return nil, fmt.Errorf("channelengine: failed to open store for channel %q", channelID)
		}

		src, err := buildSource(cfg.SourceConnector)
		if err != nil {
			return nil, fmt.Errorf("channelengine: channel %s: source: %w", channelID, err)
		}

		destinations := make([]channel.Destination, len(cfg.DestinationConnectors))
		for i, d := range cfg.DestinationConnectors {
			metaDataID := i + 1
			conn, err := buildDestination(d, channelID, sqlDB, router)
			if err != nil {
				return nil, fmt.Errorf("channelengine: channel %s: destination[%d]: %w", channelID, i, err)
			}
			onQueueFailure, err := r.queues.handlerFor(channelID, metaDataID, conn)
			if err != nil {
				return nil, fmt.Errorf("channelengine: channel %s: destination[%d]: %w", channelID, i, err)
			}
			destinations[i] = channel.Destination{
				MetaDataID:     metaDataID,
				Name:           conn.Name(),
				Send:           conn.Send,
				OnQueueFailure: onQueueFailure,
			}
		}

		return channel.New(channel.Config{
			ID:           cfg.ID,
			Name:         cfg.Name,
			Revision:     cfg.Revision,
			ServerID:     r.serverID,
			Store:        st,
			Source:       src,
			Destinations: destinations,
		}), nil
	}
}

// marshalProps round-trips a ConnectorConfig's free-form Properties map
// into a concrete struct via JSON, so each connector factory function can
// bind with normal struct tags instead of repeated map[string]interface{}
// type assertions.
func marshalProps(props map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
