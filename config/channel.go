package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ConnectorConfig names one connector's kind and its free-form properties;
// the core treats Properties as opaque and hands it to the connector
// constructor the Type selects.
type ConnectorConfig struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// ChannelProperties holds the channel-level settings the core itself reads.
type ChannelProperties struct {
	MessageStorageMode string   `json:"messageStorageMode"`
	InitialState       string   `json:"initialState"`
	MetaDataColumns    []string `json:"metaDataColumns"`
}

// ChannelConfig is the structured, already-validated form of a channel
// definition; the core never parses channel XML/JSON directly, it consumes
// this struct (built by an external config-management layer) per spec.
type ChannelConfig struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Enabled               bool              `json:"enabled"`
	Revision              int               `json:"revision"`
	SourceConnector       ConnectorConfig   `json:"sourceConnector"`
	DestinationConnectors []ConnectorConfig `json:"destinationConnectors"`
	Properties            ChannelProperties `json:"properties"`
}

// ParseChannelConfig decodes raw JSON into a ChannelConfig, rejecting any
// field not named above — a typo'd or obsolete property in a deploy
// payload fails loudly instead of being silently ignored.
func ParseChannelConfig(raw []byte) (*ChannelConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg ChannelConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode channel config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants a deploy requires before the
// core attempts to build connectors from this config.
func (c *ChannelConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("config: channel id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("config: channel name is required")
	}
	if c.SourceConnector.Type == "" {
		return fmt.Errorf("config: channel %s: sourceConnector.type is required", c.ID)
	}
	for i, d := range c.DestinationConnectors {
		if d.Type == "" {
			return fmt.Errorf("config: channel %s: destinationConnectors[%d].type is required", c.ID, i)
		}
	}
	switch c.Properties.InitialState {
	case "", "STARTED", "STOPPED", "PAUSED":
	default:
		return fmt.Errorf("config: channel %s: invalid initialState %q", c.ID, c.Properties.InitialState)
	}
	return nil
}

// EngineConfig is the process-wide configuration for one server instance,
// loaded from environment variables via EnvConfig.
type EngineConfig struct {
	ServerID        string
	DatabaseDSN     string
	ListenPort      int
	JWTSecret       string
	InternalAPIKey  string
	ExportKey       string
	StopGracePeriod time.Duration
	QueueURL        string
	OpsUsername     string
	OpsPasswordHash string
}

// LoadEngineConfig reads the process-wide settings from the environment,
// using the CHANNELENGINE_ prefix convention.
func LoadEngineConfig() *EngineConfig {
	env := NewEnvConfig("CHANNELENGINE")
	return &EngineConfig{
		ServerID:        env.GetString("SERVER_ID", "server-1"),
		DatabaseDSN:     env.MustGetString("DATABASE_DSN"),
		ListenPort:      env.GetInt("PORT", 8080),
		JWTSecret:       env.MustGetString("JWT_SECRET"),
		InternalAPIKey:  env.MustGetString("INTERNAL_API_KEY"),
		ExportKey:       env.MustGetString("EXPORT_KEY"),
		StopGracePeriod: env.GetDuration("STOP_GRACE_PERIOD", 30*time.Second),
		QueueURL:        env.GetString("QUEUE_URL", ""),
		OpsUsername:     env.GetString("OPS_USERNAME", "ops"),
		OpsPasswordHash: env.GetString("OPS_PASSWORD_HASH", ""),
	}
}
