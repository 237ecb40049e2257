// Package channel implements the runtime channel: an actor owning the
// 8-state lifecycle, the per-message pipeline, and an event stream. The
// state machine shape (mutex-guarded map, atomic state read) is ported from
// statemanager/manager.go, generalized from a flat operation tracker to the
// channel's own state table.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxhealth/channelengine/chain"
	"github.com/fluxhealth/channelengine/connector/source"
	"github.com/fluxhealth/channelengine/executor"
	"github.com/fluxhealth/channelengine/message"
	"github.com/fluxhealth/channelengine/response"
)

// provenanceKey is the context key under which a Provenance travels from
// handleMessage down to a destination's Send, so a VM destination can
// extend the source-map chain without widening chain.Destination.Send's
// signature. Also used in the other direction: Dispatch seeds it with the
// incoming chain before handleMessage ever reads the message's own map.
type provenanceKey struct{}

// Provenance carries the chain/message identity and accumulated source map
// for one in-flight message.
type Provenance struct {
	ChannelID string
	MessageID int64
	SourceMap map[string]interface{}
}

// WithProvenance attaches p to ctx for the life of one message's pipeline.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// ProvenanceFromContext retrieves the Provenance attached by WithProvenance.
func ProvenanceFromContext(ctx context.Context) (Provenance, bool) {
	p, ok := ctx.Value(provenanceKey{}).(Provenance)
	return p, ok
}

// State is one of the channel's 8 lifecycle states.
type State string

const (
	StateStopped     State = "STOPPED"
	StateDeploying   State = "DEPLOYING"
	StateStarting    State = "STARTING"
	StateStarted     State = "STARTED"
	StatePausing     State = "PAUSING"
	StatePaused      State = "PAUSED"
	StateStopping    State = "STOPPING"
	StateUndeploying State = "UNDEPLOYING"
)

// validTransitions enumerates the legal state-machine edges. halt is
// reachable from any non-terminal (non-STOPPED) state and is checked
// separately since it is not a normal edge.
var validTransitions = map[State][]State{
	StateStopped:     {StateDeploying, StateStarting},
	StateDeploying:   {StateStopped},
	StateStarting:    {StateStarted, StateStopping},
	StateStarted:     {StatePausing, StateStopping},
	StatePausing:     {StatePaused},
	StatePaused:      {StateStarting, StateStopping},
	StateStopping:    {StateStopped},
	StateUndeploying: {},
}

// Event is published on every state change, connector state change, and
// message completion, for the engine to fan out to dashboards and cluster
// observers.
type Event struct {
	Type       string // "stateChange", "connectorStateChange", "messageComplete"
	ChannelID  string
	State      State
	MetaDataID int
	MessageID  int64
	Status     message.Status
	Time       time.Time
}

// DataStore is the subset of store.Store the pipeline needs. Defined here,
// rather than imported concretely, so tests can supply an in-memory fake.
type DataStore interface {
	InsertMessage(m *message.Message) error
	UpdateMessageProcessed(messageID int64, processed bool) error
	UpsertConnectorMessage(cm *message.ConnectorMessage) error
	PutContent(c *message.Content) error
	IncrementStatistic(metaDataID int, serverID string, status message.Status, delta int64) error
}

// Destination is a configured destination slot: its chain placement plus
// the executor run immediately before send.
type Destination struct {
	MetaDataID          int
	Name                string
	WaitForPrevious     bool
	SkipOnUpstreamError bool
	Executor            *executor.Executor
	Send                func(ctx context.Context, payload []byte) (string, error)
	OnQueueFailure      func(ctx context.Context, payload []byte) error
}

// Config wires a Channel's dependencies at construction time; all fields
// are set once, at deploy, and never mutated afterward.
type Config struct {
	ID           string
	Name         string
	Revision     int
	ServerID     string
	Store        DataStore
	Source       source.Connector
	SourceExec   *executor.Executor
	Destinations []Destination
	ResponsePolicy       response.Policy
	ResponseTransformer  *executor.Executor
	AutoResponder        response.AutoResponder
	StopGracePeriod      time.Duration
}

// Channel owns its own state, statistics, and event stream; it is the
// single source of truth for whether it is running.
type Channel struct {
	cfg Config

	state atomic.Value // State

	mu     sync.Mutex
	cancel context.CancelFunc

	inFlight sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
}

// New builds a Channel in the STOPPED state. Deploy has already happened
// logically (tables exist, config validated) by the time New is called;
// New just wires the runtime object, matching the engine's step 3/4 split.
func New(cfg Config) *Channel {
	c := &Channel{cfg: cfg, subscribers: make(map[chan Event]struct{})}
	c.state.Store(StateStopped)
	return c
}

// State returns the current state without blocking on the transition mutex.
func (c *Channel) State() State {
	return c.state.Load().(State)
}

// ID returns the channel's configured identifier.
func (c *Channel) ID() string {
	return c.cfg.ID
}

// Name returns the channel's configured display name.
func (c *Channel) Name() string {
	return c.cfg.Name
}

// ServerID returns the server identifier this channel instance runs under,
// used by callers reading per-server statistics.
func (c *Channel) ServerID() string {
	return c.cfg.ServerID
}

// Subscribe registers a new event listener. Callers must drain the
// returned channel; publish never blocks on a slow subscriber.
func (c *Channel) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (c *Channel) Unsubscribe(ch <-chan Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for sub := range c.subscribers {
		if sub == ch {
			delete(c.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (c *Channel) publish(ev Event) {
	ev.ChannelID = c.cfg.ID
	ev.Time = time.Now()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for sub := range c.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// transition moves the channel to target if legal, recording it under the
// transition mutex so concurrent lifecycle calls serialize.
func (c *Channel) transition(target State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.State()
	if !canTransition(current, target) {
		return fmt.Errorf("channel %s: illegal transition %s -> %s", c.cfg.ID, current, target)
	}
	c.state.Store(target)
	c.publish(Event{Type: "stateChange", State: target})
	return nil
}

func canTransition(from, to State) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Deploy transitions STOPPED -> DEPLOYING -> STOPPED, matching the
// engine's "build complete" step. It does not start the source connector.
func (c *Channel) Deploy(ctx context.Context) error {
	if err := c.transition(StateDeploying); err != nil {
		return err
	}
	return c.transition(StateStopped)
}

// Start transitions STOPPED -> STARTING -> STARTED and begins accepting
// inbound messages from the source connector. On failure it unwinds to
// STOPPED via STOPPING.
func (c *Channel) Start(ctx context.Context) error {
	if err := c.transition(StateStarting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.cfg.Source.Start(runCtx, c.handleMessage); err != nil {
		cancel()
		_ = c.transition(StateStopping)
		_ = c.transition(StateStopped)
		return fmt.Errorf("channel %s: start source: %w", c.cfg.ID, err)
	}

	return c.transition(StateStarted)
}

// Pause transitions STARTED -> PAUSING -> PAUSED, stopping the source
// connector so no new messages are accepted while in-flight work drains.
func (c *Channel) Pause(ctx context.Context) error {
	if err := c.transition(StatePausing); err != nil {
		return err
	}
	if err := c.cfg.Source.Stop(ctx); err != nil {
		return fmt.Errorf("channel %s: pause: stop source: %w", c.cfg.ID, err)
	}
	return c.transition(StatePaused)
}

// Resume transitions PAUSED -> STARTING -> STARTED, re-starting the source
// connector.
func (c *Channel) Resume(ctx context.Context) error {
	if err := c.transition(StateStarting); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.cfg.Source.Start(runCtx, c.handleMessage); err != nil {
		cancel()
		return fmt.Errorf("channel %s: resume: start source: %w", c.cfg.ID, err)
	}
	return c.transition(StateStarted)
}

// Stop transitions STARTED or PAUSED -> STOPPING -> STOPPED, waiting for
// in-flight messages up to StopGracePeriod before escalating to Halt.
func (c *Channel) Stop(ctx context.Context) error {
	if err := c.transition(StateStopping); err != nil {
		return err
	}
	if err := c.cfg.Source.Stop(ctx); err != nil {
		return fmt.Errorf("channel %s: stop: stop source: %w", c.cfg.ID, err)
	}

	if c.waitInFlight(c.cfg.StopGracePeriod) {
		return c.transition(StateStopped)
	}
	c.haltInFlight()
	return c.transition(StateStopped)
}

// Halt force-stops the channel regardless of current non-terminal state,
// cancelling in-flight destination work rather than waiting for it.
func (c *Channel) Halt(ctx context.Context) error {
	current := c.State()
	if current == StateStopped {
		return nil
	}

	c.mu.Lock()
	c.state.Store(StateStopping)
	c.mu.Unlock()
	c.publish(Event{Type: "stateChange", State: StateStopping})

	_ = c.cfg.Source.Stop(ctx)
	c.haltInFlight()

	c.mu.Lock()
	c.state.Store(StateStopped)
	c.mu.Unlock()
	c.publish(Event{Type: "stateChange", State: StateStopped})
	return nil
}

// Undeploy transitions STOPPED -> UNDEPLOYING. The engine removes the
// channel from its registry after this returns.
func (c *Channel) Undeploy(ctx context.Context) error {
	return c.transition(StateUndeploying)
}

func (c *Channel) haltInFlight() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.inFlight.Wait()
}

// waitInFlight waits up to grace for in-flight work to drain, reporting
// whether it drained in time.
func (c *Channel) waitInFlight(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// Dispatch runs the same 8-step pipeline a source connector would trigger,
// for use by the engine's cross-channel dispatch adapter (VM routing,
// reprocess APIs) rather than a listening connector. sourceMap, when
// non-nil, is the upstream provenance chain built by vmrouter.Append; it
// seeds this message's own source map instead of starting empty, so a
// multi-hop VM chain keeps every ancestor.
func (c *Channel) Dispatch(ctx context.Context, raw []byte, sourceMap map[string]interface{}) (string, error) {
	ctx = WithProvenance(ctx, Provenance{SourceMap: sourceMap})
	return c.handleMessage(ctx, raw, nil)
}

// Reprocess re-runs the pipeline over raw, stamping the resulting message's
// OriginalID so it is traceable back to the message it was reprocessed
// from, for the REST reprocess operation. It always starts a fresh source
// map: reprocessing replays this channel's own raw content, not an
// upstream VM hop.
func (c *Channel) Reprocess(ctx context.Context, raw []byte, originalID int64) (string, error) {
	return c.handleMessage(ctx, raw, &originalID)
}

// handleMessage runs the 8-step pipeline for one inbound raw message and
// returns the reply destined for the source connector. originalID is non-nil
// only when this run is a reprocess of a prior message.
func (c *Channel) handleMessage(ctx context.Context, raw []byte, originalID *int64) (string, error) {
	c.inFlight.Add(1)
	defer c.inFlight.Done()

	msg := &message.Message{
		ChannelID:    c.cfg.ID,
		ServerID:     c.cfg.ServerID,
		ReceivedDate: time.Now(),
		OriginalID:   originalID,
	}
	if err := c.cfg.Store.InsertMessage(msg); err != nil {
		return "", fmt.Errorf("channel %s: persist message: %w", c.cfg.ID, err)
	}

	c.putContent(msg.ID, message.SourceMetaDataID, message.ContentRaw, string(raw))
	sourceMap := map[string]interface{}{}
	if incoming, ok := ProvenanceFromContext(ctx); ok && incoming.SourceMap != nil {
		sourceMap = incoming.SourceMap
	}
	c.putMapContent(msg.ID, message.SourceMetaDataID, message.ContentSourceMap, sourceMap)
	c.cfg.Store.IncrementStatistic(message.SourceMetaDataID, c.cfg.ServerID, message.StatusReceived, 1)

	view := &executor.View{Raw: string(raw), SourceMap: sourceMap}

	filterResult := c.runSourceFilter(ctx, view)
	if filterResult.Error != nil {
		c.finishWithError(msg.ID, filterResult.Error.Error())
		return "", filterResult.Error
	}
	if !filterResult.Accepted {
		c.markConnector(msg.ID, message.SourceMetaDataID, "", message.StatusFiltered)
		c.cfg.Store.IncrementStatistic(message.SourceMetaDataID, c.cfg.ServerID, message.StatusFiltered, 1)
		c.finishProcessed(msg.ID)
		return "", nil
	}

	transformResult := c.runSourceTransform(ctx, view)
	if transformResult.Error != nil {
		c.finishWithError(msg.ID, transformResult.Error.Error())
		return "", transformResult.Error
	}
	transformed := transformResult.Output
	c.putContent(msg.ID, message.SourceMetaDataID, message.ContentTransformed, transformed)
	c.putMapContent(msg.ID, message.SourceMetaDataID, message.ContentSourceMap, view.SourceMap)
	c.markConnector(msg.ID, message.SourceMetaDataID, "", message.StatusTransformed)

	ctx = WithProvenance(ctx, Provenance{ChannelID: c.cfg.ID, MessageID: msg.ID, SourceMap: view.SourceMap})
	plan := c.buildPlan()
	results := chain.Run(ctx, plan, []byte(transformed))
	for _, r := range results {
		c.markConnector(msg.ID, r.MetaDataID, r.Name, r.Status)
		if r.Status == message.StatusSent {
			c.putContent(msg.ID, r.MetaDataID, message.ContentSent, string(r.Payload))
		}
		if r.Response != "" {
			c.putContent(msg.ID, r.MetaDataID, message.ContentResponse, r.Response)
		}
		c.cfg.Store.IncrementStatistic(r.MetaDataID, c.cfg.ServerID, r.Status, 1)
	}

	reply, err := response.Select(ctx, c.cfg.ResponsePolicy, response.Input{
		Raw:               string(raw),
		SourceTransformed: transformed,
		Results:           results,
	}, c.cfg.AutoResponder)
	if err != nil {
		reply = ""
	}

	if c.cfg.ResponseTransformer != nil && reply != "" {
		respView := &executor.View{Raw: reply, SourceMap: sourceMap}
		rtResult := c.cfg.ResponseTransformer.RunResponseTransformer(ctx, respView)
		if rtResult.Error == nil {
			reply = rtResult.Output
			c.putContent(msg.ID, message.SourceMetaDataID, message.ContentResponseTransformed, reply)
		}
	}

	c.finishProcessed(msg.ID)
	c.publish(Event{Type: "messageComplete", MessageID: msg.ID})
	return reply, nil
}

func (c *Channel) runSourceFilter(ctx context.Context, v *executor.View) *executor.Result {
	if c.cfg.SourceExec == nil {
		return &executor.Result{Accepted: true}
	}
	return c.cfg.SourceExec.RunFilter(ctx, v)
}

func (c *Channel) runSourceTransform(ctx context.Context, v *executor.View) *executor.Result {
	if c.cfg.SourceExec == nil {
		return &executor.Result{Output: v.Raw}
	}
	return c.cfg.SourceExec.RunTransformer(ctx, v)
}

func (c *Channel) buildPlan() chain.Plan {
	destinations := make([]chain.Destination, len(c.cfg.Destinations))
	for i, d := range c.cfg.Destinations {
		send := d.Send
		if d.Executor != nil {
			innerSend := send
			send = func(ctx context.Context, payload []byte) (string, error) {
				view := &executor.View{Raw: string(payload)}
				res := d.Executor.RunTransformer(ctx, view)
				if res.Error != nil {
					return "", res.Error
				}
				return innerSend(ctx, []byte(res.Output))
			}
		}
		destinations[i] = chain.Destination{
			MetaDataID:          d.MetaDataID,
			Name:                d.Name,
			WaitForPrevious:     d.WaitForPrevious,
			SkipOnUpstreamError: d.SkipOnUpstreamError,
			Send:                send,
			OnQueueFailure:      d.OnQueueFailure,
		}
	}
	return chain.BuildPlan(destinations)
}

func (c *Channel) markConnector(messageID int64, metaDataID int, name string, status message.Status) {
	now := time.Now()
	cm := &message.ConnectorMessage{
		ChannelID:     c.cfg.ID,
		MessageID:     messageID,
		MetaDataID:    metaDataID,
		ConnectorName: name,
		Status:        status,
		ReceivedDate:  now,
	}
	if status == message.StatusSent || status == message.StatusError {
		cm.ResponseDate = &now
	}
	_ = c.cfg.Store.UpsertConnectorMessage(cm)
	c.publish(Event{Type: "connectorStateChange", MetaDataID: metaDataID, MessageID: messageID, Status: status})
}

func (c *Channel) putContent(messageID int64, metaDataID int, ct message.ContentType, content string) {
	_ = c.cfg.Store.PutContent(&message.Content{
		MessageID:   messageID,
		MetaDataID:  metaDataID,
		ContentType: ct,
		Content:     []byte(content),
	})
}

func (c *Channel) putMapContent(messageID int64, metaDataID int, ct message.ContentType, m map[string]interface{}) {
	if len(m) == 0 {
		return
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.putContent(messageID, metaDataID, ct, string(encoded))
}

func (c *Channel) finishProcessed(messageID int64) {
	_ = c.cfg.Store.UpdateMessageProcessed(messageID, true)
}

func (c *Channel) finishWithError(messageID int64, errMsg string) {
	c.putContent(messageID, message.SourceMetaDataID, message.ContentProcessingError, errMsg)
	c.markConnector(messageID, message.SourceMetaDataID, "", message.StatusError)
	c.cfg.Store.IncrementStatistic(message.SourceMetaDataID, c.cfg.ServerID, message.StatusError, 1)
	c.finishProcessed(messageID)
}
