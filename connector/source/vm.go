package source

import (
	"context"
	"errors"
)

// ErrChannelNotStarted is returned by Dispatch when the VM reader has not
// been started (the target channel is not deployed/started).
var ErrChannelNotStarted = errors.New("vm source: channel reader not started")

// ChannelReader is the in-process VM source: it carries no network listener
// and is driven directly by a dispatch call from the VM router.
type ChannelReader struct {
	ChannelID string
	onMessage OnMessage
}

// NewChannelReader builds a VM source bound to channelID.
func NewChannelReader(channelID string) *ChannelReader {
	return &ChannelReader{ChannelID: channelID}
}

func (c *ChannelReader) Name() string { return "vm:" + c.ChannelID }

// Start records the dispatch callback; there is no socket to open.
func (c *ChannelReader) Start(ctx context.Context, onMessage OnMessage) error {
	c.onMessage = onMessage
	return nil
}

// Stop clears the dispatch callback.
func (c *ChannelReader) Stop(ctx context.Context) error {
	c.onMessage = nil
	return nil
}

// Dispatch delivers one VM-routed payload synchronously, returning an error
// if the reader has not been started (the channel is not deployed/started).
func (c *ChannelReader) Dispatch(ctx context.Context, raw []byte) (string, error) {
	if c.onMessage == nil {
		return "", ErrChannelNotStarted
	}
	return c.onMessage(ctx, raw)
}
