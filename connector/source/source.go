// Package source implements the three inbound connector kinds a channel may
// configure: an MLLP/raw TCP listener, an HTTP listener, and the in-process
// VM reader invoked by the router.
package source

import "context"

// Connector is the shared inbound contract: Start begins accepting traffic
// and calling onMessage for each inbound payload, Stop drains and releases
// resources.
type Connector interface {
	Start(ctx context.Context, onMessage OnMessage) error
	Stop(ctx context.Context) error
	Name() string
}

// OnMessage is invoked once per raw inbound payload. The returned string is
// the connector-specific acknowledgment/response to send back (MLLP ACK,
// HTTP response body); err is non-nil when the channel could not persist the
// message or a filter, transformer or destination step of the channel
// returned an error.
type OnMessage func(ctx context.Context, raw []byte) (response string, err error)
