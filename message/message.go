// Package message defines the per-channel data model: the Message header, its
// per-destination ConnectorMessage rows, typed Content rows, Attachment segments,
// Statistics counters, and the SourceMap provenance chain used by in-process routing.
package message

import "time"

// Status is the lifecycle state of a ConnectorMessage.
type Status string

const (
	StatusReceived    Status = "R"
	StatusFiltered    Status = "F"
	StatusTransformed Status = "T"
	StatusSent        Status = "S"
	StatusQueued      Status = "Q"
	StatusError       Status = "E"
	StatusPending     Status = "P"
)

// Terminal reports whether the status represents the end of a ConnectorMessage's
// synchronous lifecycle (it will not be retried by the source-side pipeline).
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFiltered, StatusError:
		return true
	default:
		return false
	}
}

// SourceMetaDataID identifies the source connector within a channel; destinations
// are numbered 1..N in configured order.
const SourceMetaDataID = 0

// Message is one per external ingest, keyed by a channel-unique monotonic ID.
type Message struct {
	ChannelID    string
	ID           int64
	ServerID     string
	ReceivedDate time.Time
	Processed    bool
	OriginalID   *int64 // set on reprocess: points at the message being replaced
	ImportID     *string
}

// ConnectorMessage is one per (Message, MetaDataID). MetaDataID 0 is the source;
// 1..N are destinations.
type ConnectorMessage struct {
	ChannelID     string
	MessageID     int64
	MetaDataID    int
	ConnectorName string
	Status        Status
	ReceivedDate  time.Time
	SendDate      *time.Time
	ResponseDate  *time.Time
	SendAttempts  int
	ErrorCode     string
}

// ContentType enumerates the 15 kinds of content row, keyed alongside
// (message-id, metadata-id).
type ContentType int

const (
	ContentRaw ContentType = iota + 1
	ContentProcessedRaw
	ContentTransformed
	ContentEncoded
	ContentSent
	ContentResponse
	ContentResponseTransformed
	ContentProcessedResponse
	ContentConnectorMap
	ContentChannelMap
	ContentResponseMap
	ContentProcessingError
	ContentPostprocessorError
	ContentResponseError
	ContentSourceMap
)

func (t ContentType) String() string {
	switch t {
	case ContentRaw:
		return "RAW"
	case ContentProcessedRaw:
		return "PROCESSED_RAW"
	case ContentTransformed:
		return "TRANSFORMED"
	case ContentEncoded:
		return "ENCODED"
	case ContentSent:
		return "SENT"
	case ContentResponse:
		return "RESPONSE"
	case ContentResponseTransformed:
		return "RESPONSE_TRANSFORMED"
	case ContentProcessedResponse:
		return "PROCESSED_RESPONSE"
	case ContentConnectorMap:
		return "CONNECTOR_MAP"
	case ContentChannelMap:
		return "CHANNEL_MAP"
	case ContentResponseMap:
		return "RESPONSE_MAP"
	case ContentProcessingError:
		return "PROCESSING_ERROR"
	case ContentPostprocessorError:
		return "POSTPROCESSOR_ERROR"
	case ContentResponseError:
		return "RESPONSE_ERROR"
	case ContentSourceMap:
		return "SOURCE_MAP"
	default:
		return "UNKNOWN"
	}
}

// IsMapKind reports whether this content kind is a serialized key/value map
// used by routing and scripts (CONNECTOR_MAP, CHANNEL_MAP, RESPONSE_MAP, SOURCE_MAP).
func (t ContentType) IsMapKind() bool {
	switch t {
	case ContentConnectorMap, ContentChannelMap, ContentResponseMap, ContentSourceMap:
		return true
	default:
		return false
	}
}

// Content is a single typed row keyed by (message-id, metadata-id, content-type).
type Content struct {
	ChannelID   string
	MessageID   int64
	MetaDataID  int
	ContentType ContentType
	Content     []byte
	DataType    string
	Encrypted   bool
}

// Attachment is a large binary blob stored in fixed-size segments and rejoined
// on read by ascending segment number.
type Attachment struct {
	ChannelID  string
	ID         string
	MessageID  int64
	SegmentNo  int
	Data       []byte
	Type       string
}

// SourceMapEntry is one channel's record of a message that arrived via the
// VM router from a parent channel/message, used by the trace service's
// forward walk to find descendants without re-decoding every content blob.
type SourceMapEntry struct {
	MessageID       int64
	ParentChannelID string
	ParentMessageID int64
}

// Statistics holds per-(channel, metadata-id, server-id) counters.
type Statistics struct {
	ChannelID  string
	MetaDataID int
	ServerID   string
	Received   int64
	Filtered   int64
	Sent       int64
	Error      int64
	Queued     int64
}

// Delta returns the counter field matching a terminal/queued status, or nil if
// the status does not carry a statistic (T, P do not).
func (s *Statistics) Delta(status Status) *int64 {
	switch status {
	case StatusReceived:
		return &s.Received
	case StatusFiltered:
		return &s.Filtered
	case StatusSent:
		return &s.Sent
	case StatusError:
		return &s.Error
	case StatusQueued:
		return &s.Queued
	default:
		return nil
	}
}
