package destination

import (
	"context"
	"fmt"
)

// Dispatcher delivers a payload to another deployed channel's VM source,
// implemented by the vmrouter package. Kept as a function type here so this
// package never imports the router (which in turn depends on the channel
// registry) and no import cycle forms.
type Dispatcher func(ctx context.Context, targetChannelID string, payload []byte, sourceChannelID string, sourceMessageID int64) (response string, err error)

// VMDispatcher routes a message to another channel's VM source in-process,
// carrying source-map provenance for trace reconstruction.
type VMDispatcher struct {
	TargetChannelID string
	Dispatch        Dispatcher
	QueueFull       bool
}

// NewVMDispatcher builds a dispatcher targeting targetChannelID.
func NewVMDispatcher(targetChannelID string, dispatch Dispatcher) *VMDispatcher {
	return &VMDispatcher{TargetChannelID: targetChannelID, Dispatch: dispatch}
}

func (v *VMDispatcher) Name() string { return "vm:" + v.TargetChannelID }

func (v *VMDispatcher) QueueOnFailure() bool { return v.QueueFull }

// Send requires the caller to route via SendFrom; Send alone has no
// provenance to carry and always errors.
func (v *VMDispatcher) Send(ctx context.Context, payload []byte) (string, error) {
	return "", fmt.Errorf("vm dispatcher: use SendFrom to preserve source-map provenance")
}

// SendFrom dispatches payload to the target channel, recording the source
// channel/message so the trace service can walk the chain.
func (v *VMDispatcher) SendFrom(ctx context.Context, payload []byte, sourceChannelID string, sourceMessageID int64) (string, error) {
	if v.Dispatch == nil {
		return "", fmt.Errorf("vm dispatcher: no dispatch function configured")
	}
	return v.Dispatch(ctx, v.TargetChannelID, payload, sourceChannelID, sourceMessageID)
}
