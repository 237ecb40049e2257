// Package engine owns the registry of deployed channels and orchestrates
// deploy/undeploy, mirroring the mutex-guarded map shape of
// statemanager/manager.go and the phase-driven orchestration style of
// coordinator/coordinator.go, generalized from a websocket client's
// connection lifecycle to a channel's deploy lifecycle.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxhealth/channelengine/channel"
	eve "github.com/fluxhealth/channelengine/common"
)

// Builder constructs a runtime Channel from a channel ID, deferring all
// connector/executor wiring decisions to the caller (typically cmd/ reading
// validated ChannelConfig). Returning an error aborts the deploy.
type Builder func(ctx context.Context, channelID string) (*channel.Channel, error)

// DispatchResult is returned by the dispatch adapter used by VM
// destinations and reprocess APIs.
type DispatchResult struct {
	MessageID        int64
	SelectedResponse string
}

// Engine is the registry of deployed channels for one server process.
type Engine struct {
	mu       sync.RWMutex
	channels map[string]*channel.Channel
	builder  Builder
	log      *eve.ContextLogger
}

// New builds an Engine that constructs channels via builder.
func New(builder Builder) *Engine {
	return &Engine{
		channels: make(map[string]*channel.Channel),
		builder:  builder,
		log:      eve.NewContextLogger(nil, map[string]interface{}{"component": "engine"}),
	}
}

// Deploy builds and registers channelID. If the channel is already deployed
// it is undeployed first, matching step 1 of the deploy sequence; a failed
// undeploy there, like a failed start when startOnDeploy is set, is logged
// and the deploy continues. A build or deploy-transition failure aborts the
// deploy and is returned.
func (e *Engine) Deploy(ctx context.Context, channelID string, startOnDeploy bool) error {
	if _, ok := e.get(channelID); ok {
		if err := e.Undeploy(ctx, channelID); err != nil {
			e.log.WithField("channel", channelID).WithError(err).Warn("undeploy before redeploy failed, continuing")
		}
	}

	c, err := e.builder(ctx, channelID)
	if err != nil {
		return fmt.Errorf("engine: build channel %s: %w", channelID, err)
	}

	if err := c.Deploy(ctx); err != nil {
		return fmt.Errorf("engine: deploy channel %s: %w", channelID, err)
	}

	e.mu.Lock()
	e.channels[channelID] = c
	e.mu.Unlock()

	if startOnDeploy {
		if err := c.Start(ctx); err != nil {
			e.log.WithField("channel", channelID).WithError(err).Warn("start on deploy failed")
		}
	}
	return nil
}

// Undeploy stops and removes channelID from the registry. Every step
// tolerates individual failure; failures are logged, not propagated,
// except for "channel not found" which is reported to the caller.
func (e *Engine) Undeploy(ctx context.Context, channelID string) error {
	c, ok := e.get(channelID)
	if !ok {
		return fmt.Errorf("engine: channel %s not deployed", channelID)
	}

	if err := c.Stop(ctx); err != nil {
		e.log.WithField("channel", channelID).WithError(err).Warn("stop during undeploy failed, continuing")
	}
	if err := c.Undeploy(ctx); err != nil {
		e.log.WithField("channel", channelID).WithError(err).Warn("undeploy transition failed, continuing")
	}

	e.mu.Lock()
	delete(e.channels, channelID)
	e.mu.Unlock()
	return nil
}

// Get returns the deployed channel for channelID, if any.
func (e *Engine) Get(channelID string) (*channel.Channel, bool) {
	return e.get(channelID)
}

func (e *Engine) get(channelID string) (*channel.Channel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.channels[channelID]
	return c, ok
}

// List returns the IDs of every currently deployed channel.
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.channels))
	for id := range e.channels {
		ids = append(ids, id)
	}
	return ids
}

// DispatchRawMessage runs raw through the target channel's pipeline via
// Channel.Dispatch, used by VM destinations (through the VM router) and by
// REST message submission. sourceMap carries the upstream
// provenance chain built by vmrouter.Append for an in-process dispatch; it
// is nil for a direct REST submission, which has no upstream hop. A
// missing, undeployed, or stopped target is reported as an error, never a
// panic, so VM destinations can map it to ERROR status.
func (e *Engine) DispatchRawMessage(ctx context.Context, targetChannelID string, raw []byte, sourceMap map[string]interface{}) (DispatchResult, error) {
	c, ok := e.get(targetChannelID)
	if !ok {
		return DispatchResult{}, fmt.Errorf("engine: target channel %s is not deployed", targetChannelID)
	}
	if c.State() != channel.StateStarted {
		return DispatchResult{}, fmt.Errorf("engine: target channel %s is not started (state=%s)", targetChannelID, c.State())
	}

	reply, err := c.Dispatch(ctx, raw, sourceMap)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("engine: dispatch to %s: %w", targetChannelID, err)
	}
	return DispatchResult{SelectedResponse: reply}, nil
}

// ReprocessMessage re-runs channelID's pipeline over raw, stamping the new
// message's OriginalID, used by the REST reprocess operation. Subject to
// the same deployed/started requirement as DispatchRawMessage.
func (e *Engine) ReprocessMessage(ctx context.Context, channelID string, raw []byte, originalID int64) (DispatchResult, error) {
	c, ok := e.get(channelID)
	if !ok {
		return DispatchResult{}, fmt.Errorf("engine: channel %s is not deployed", channelID)
	}
	if c.State() != channel.StateStarted {
		return DispatchResult{}, fmt.Errorf("engine: channel %s is not started (state=%s)", channelID, c.State())
	}

	reply, err := c.Reprocess(ctx, raw, originalID)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("engine: reprocess on %s: %w", channelID, err)
	}
	return DispatchResult{SelectedResponse: reply}, nil
}
