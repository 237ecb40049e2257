// Package destination implements the five outbound connector kinds a
// channel's destination chain may configure.
package destination

import "context"

// Connector is the shared outbound contract.
type Connector interface {
	Send(ctx context.Context, payload []byte) (response string, err error)
	Name() string
}

// Queueable is implemented by connectors whose Send failures should be
// retried via the durable destination queue rather than failed immediately.
type Queueable interface {
	Connector
	QueueOnFailure() bool
}
