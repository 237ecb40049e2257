package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fluxhealth/channelengine/channel"
	"github.com/fluxhealth/channelengine/config"
	"github.com/fluxhealth/channelengine/connector/destination"
	"github.com/fluxhealth/channelengine/connector/source"
	"github.com/fluxhealth/channelengine/vmrouter"
)

// buildSource constructs the one source connector a channel config names.
// The "vm" type's reader takes its channel ID from the "channelId" entry
// in Properties.
func buildSource(cfg config.ConnectorConfig) (source.Connector, error) {
	switch cfg.Type {
	case "http":
		var props struct {
			Addr string `json:"addr"`
			Path string `json:"path"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("http source properties: %w", err)
		}
		return source.NewHTTPListener(props.Addr, props.Path), nil

	case "mllp":
		var props struct {
			Addr string `json:"addr"`
			Mode string `json:"mode"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("mllp source properties: %w", err)
		}
		mode := source.FrameMLLP
		if props.Mode == string(source.FrameRaw) {
			mode = source.FrameRaw
		}
		return source.NewMLLPListener(props.Addr, mode), nil

	case "vm":
		var props struct {
			ChannelID string `json:"channelId"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("vm source properties: %w", err)
		}
		return source.NewChannelReader(props.ChannelID), nil

	default:
		return nil, fmt.Errorf("unknown source connector type %q", cfg.Type)
	}
}

// buildDestination constructs one outbound connector. channelID identifies
// the channel this destination belongs to, for VM provenance; sqlDB backs
// the database writer type; router backs VM dispatch.
func buildDestination(cfg config.ConnectorConfig, channelID string, sqlDB *sql.DB, router *vmrouter.Router) (destination.Connector, error) {
	switch cfg.Type {
	case "http":
		var props struct {
			URL            string `json:"url"`
			QueueOnFailure bool   `json:"queueOnFailure"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("http destination properties: %w", err)
		}
		sender := destination.NewHTTPSender(props.URL)
		sender.QueueFull = props.QueueOnFailure
		return sender, nil

	case "tcp":
		var props struct {
			Addr           string `json:"addr"`
			QueueOnFailure bool   `json:"queueOnFailure"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("tcp destination properties: %w", err)
		}
		sender := destination.NewTCPSender(props.Addr)
		sender.QueueFull = props.QueueOnFailure
		return sender, nil

	case "file":
		var props struct {
			Dir            string `json:"dir"`
			Pattern        string `json:"pattern"`
			QueueOnFailure bool   `json:"queueOnFailure"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("file destination properties: %w", err)
		}
		writer := destination.NewFileWriter(props.Dir, props.Pattern)
		writer.QueueFull = props.QueueOnFailure
		return writer, nil

	case "database":
		var props struct {
			Statement      string `json:"statement"`
			QueueOnFailure bool   `json:"queueOnFailure"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("database destination properties: %w", err)
		}
		writer := destination.NewDatabaseWriter(sqlDB, props.Statement)
		writer.QueueFull = props.QueueOnFailure
		return writer, nil

	case "vm":
		var props struct {
			TargetChannelID string `json:"targetChannelId"`
			QueueOnFailure  bool   `json:"queueOnFailure"`
		}
		if err := marshalProps(cfg.Properties, &props); err != nil {
			return nil, fmt.Errorf("vm destination properties: %w", err)
		}
		dispatcher := destination.NewVMDispatcher(props.TargetChannelID, router.Dispatch)
		dispatcher.QueueFull = props.QueueOnFailure
		return &vmSender{
			VMDispatcher: dispatcher,
			router:       router,
			channelID:    channelID,
		}, nil

	default:
		return nil, fmt.Errorf("unknown destination connector type %q", cfg.Type)
	}
}

// vmSender adapts destination.VMDispatcher's Name/QueueOnFailure to a Send
// that actually dispatches. chain.Destination.Send carries no message ID of
// its own, so Send recovers the dispatching message's ID from the
// channel.Provenance channel.Channel.handleMessage attaches to ctx before
// running the destination chain, then routes through SendFrom to preserve
// it for the source-map chain.
type vmSender struct {
	*destination.VMDispatcher
	router    *vmrouter.Router
	channelID string
}

func (v *vmSender) Send(ctx context.Context, payload []byte) (string, error) {
	var sourceMessageID int64
	if prov, ok := channel.ProvenanceFromContext(ctx); ok {
		sourceMessageID = prov.MessageID
	}
	return v.SendFrom(ctx, payload, v.channelID, sourceMessageID)
}
