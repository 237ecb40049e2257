// Package chain orders a channel's destinations into waves and executes
// them, implementing wait-for-previous barriers and skip-on-upstream-error
// semantics. The wave/fan-out shape follows the teacher's
// coordinator/phases.go "run phase, wait for completions" pattern,
// generalized from a single workflow phase to an ordered list of
// destinations.
package chain

import (
	"context"
	"sync"

	"github.com/fluxhealth/channelengine/message"
)

// Destination is one entry in a channel's destination chain. OnQueueFailure
// is set only for destinations backed by destination.Queueable whose
// QueueOnFailure() is true; a Send error is then handed to it instead of
// being recorded as a terminal failure.
type Destination struct {
	MetaDataID          int
	Name                string
	WaitForPrevious     bool
	SkipOnUpstreamError bool
	Send                func(ctx context.Context, payload []byte) (response string, err error)
	OnQueueFailure      func(ctx context.Context, payload []byte) error
}

// Wave is a set of destinations that may run concurrently.
type Wave []Destination

// Plan is the ordered sequence of waves computed from a destination list.
type Plan []Wave

// BuildPlan partitions destinations into waves. A destination with
// WaitForPrevious=true starts a new wave; every other destination joins the
// current wave. The first destination never starts a new wave on its own,
// since there is no previous wave to wait for.
func BuildPlan(destinations []Destination) Plan {
	var plan Plan
	var current Wave

	for i, d := range destinations {
		if i > 0 && d.WaitForPrevious {
			plan = append(plan, current)
			current = nil
		}
		current = append(current, d)
	}
	if len(current) > 0 {
		plan = append(plan, current)
	}
	return plan
}

// Result carries one destination's outcome after the chain runs. Payload is
// the exact bytes handed to Send, so a Sent result can be persisted as the
// connector's SENT content alongside its Response.
type Result struct {
	MetaDataID int
	Name       string
	Status     message.Status
	Payload    []byte
	Response   string
	Err        error
	Skipped    bool
}

// Run executes plan against payload, wave by wave. Every destination in a
// wave runs concurrently via a sync.WaitGroup fan-out; the next wave starts
// only once every destination in the current wave has returned. A
// destination with SkipOnUpstreamError set is skipped (status F) if any
// destination in an earlier wave ended in error; intra-wave errors never
// affect siblings in the same wave.
func Run(ctx context.Context, plan Plan, payload []byte) []Result {
	var results []Result
	upstreamError := false

	for _, wave := range plan {
		waveResults := runWave(ctx, wave, payload, upstreamError)
		results = append(results, waveResults...)
		for _, r := range waveResults {
			if r.Status == message.StatusError {
				upstreamError = true
			}
		}
	}
	return results
}

func runWave(ctx context.Context, wave Wave, payload []byte, upstreamError bool) []Result {
	results := make([]Result, len(wave))
	var wg sync.WaitGroup

	for i, d := range wave {
		if d.SkipOnUpstreamError && upstreamError {
			results[i] = Result{MetaDataID: d.MetaDataID, Name: d.Name, Status: message.StatusFiltered, Skipped: true}
			continue
		}

		wg.Add(1)
		go func(i int, d Destination) {
			defer wg.Done()
			results[i] = send(ctx, d, payload)
		}(i, d)
	}

	wg.Wait()
	return results
}

func send(ctx context.Context, d Destination, payload []byte) Result {
	resp, err := d.Send(ctx, payload)
	if err == nil {
		return Result{MetaDataID: d.MetaDataID, Name: d.Name, Status: message.StatusSent, Payload: payload, Response: resp}
	}
	if d.OnQueueFailure != nil {
		if queueErr := d.OnQueueFailure(ctx, payload); queueErr == nil {
			return Result{MetaDataID: d.MetaDataID, Name: d.Name, Status: message.StatusQueued, Err: err}
		}
	}
	return Result{MetaDataID: d.MetaDataID, Name: d.Name, Status: message.StatusError, Err: err}
}
