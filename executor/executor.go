// Package executor runs the three script hooks a channel or destination may
// configure: filters, transformers, and response transformers. Any panic
// inside a script is recovered and reported as a populated Result error,
// never allowed to unwind past the executor.
package executor

import (
	"context"
	"fmt"
	"time"
)

// View is the read/write surface a script sees: the message content at each
// stage plus the three map scopes (channel, connector, response).
type View struct {
	Raw            string
	ChannelMap     map[string]interface{}
	ConnectorMap   map[string]interface{}
	ResponseMap    map[string]interface{}
	SourceMap      map[string]interface{}
	ResponseStatus string
	ResponseError  string
}

// Result carries the outcome of one script invocation.
type Result struct {
	Output    string
	Accepted  bool // for filters: whether the message passes
	Error     *ExecutionError
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// ExecutionError reports a script failure without ever escaping as a panic.
type ExecutionError struct {
	Message string
	Code    string
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "script execution error"
}

// Filter decides whether a message should continue through the pipeline.
type Filter func(ctx context.Context, v *View) (bool, error)

// Transformer rewrites the message content and/or map scopes.
type Transformer func(ctx context.Context, v *View) (string, error)

// Executor runs the three script hooks for one channel or destination.
// Registry-of-one is intentional: each channel owns exactly one Executor,
// injected at deploy time with its compiled scripts.
type Executor struct {
	filter              Filter
	transformer         Transformer
	responseTransformer Transformer
}

// New builds an Executor from optional script hooks; a nil hook is a no-op
// pass-through (filter accepts everything, transformer leaves Raw as-is).
func New(filter Filter, transformer, responseTransformer Transformer) *Executor {
	return &Executor{filter: filter, transformer: transformer, responseTransformer: responseTransformer}
}

// RunFilter evaluates the configured filter script, recovering any panic
// into a populated Result.Error rather than propagating it.
func (e *Executor) RunFilter(ctx context.Context, v *View) (result *Result) {
	result = &Result{StartTime: time.Now(), Accepted: true}
	defer func() {
		if r := recover(); r != nil {
			result.Error = &ExecutionError{Message: fmt.Sprintf("filter panic: %v", r), Code: "SCRIPT_PANIC"}
			result.Accepted = false
		}
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()
	if e.filter == nil {
		return result
	}
	accepted, err := e.filter(ctx, v)
	if err != nil {
		result.Error = &ExecutionError{Message: err.Error(), Code: "SCRIPT_ERROR"}
		result.Accepted = false
		return result
	}
	result.Accepted = accepted
	return result
}

// RunTransformer evaluates the configured transformer script.
func (e *Executor) RunTransformer(ctx context.Context, v *View) (result *Result) {
	return e.runTransform(ctx, v, e.transformer)
}

// RunResponseTransformer evaluates the configured response transformer
// script, operating on the response content rather than the inbound raw.
func (e *Executor) RunResponseTransformer(ctx context.Context, v *View) (result *Result) {
	return e.runTransform(ctx, v, e.responseTransformer)
}

func (e *Executor) runTransform(ctx context.Context, v *View, t Transformer) (result *Result) {
	result = &Result{StartTime: time.Now(), Output: v.Raw}
	defer func() {
		if r := recover(); r != nil {
			result.Error = &ExecutionError{Message: fmt.Sprintf("transformer panic: %v", r), Code: "SCRIPT_PANIC"}
		}
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()
	if t == nil {
		return result
	}
	out, err := t(ctx, v)
	if err != nil {
		result.Error = &ExecutionError{Message: err.Error(), Code: "SCRIPT_ERROR"}
		return result
	}
	result.Output = out
	return result
}
