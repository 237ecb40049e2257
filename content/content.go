// Package content provides truncation and attachment-segmentation helpers
// layered on top of the store's typed content rows.
package content

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fluxhealth/channelengine/message"
	"github.com/fluxhealth/channelengine/store"
)

// DefaultSegmentSize is the attachment chunk size used when a channel does
// not configure its own.
const DefaultSegmentSize = 10 * 1024 * 1024 // 10 MiB

// TruncateLimit is the maximum number of bytes a content row keeps inline
// before Truncate reports truncation.
const TruncateLimit = 1 << 20 // 1 MiB

// Truncate returns data capped at TruncateLimit bytes, whether it was cut,
// and the original length so callers can report it without re-reading.
func Truncate(data []byte) (truncated []byte, wasTruncated bool, fullLength int) {
	fullLength = len(data)
	if fullLength <= TruncateLimit {
		return data, false, fullLength
	}
	out := make([]byte, TruncateLimit)
	copy(out, data[:TruncateLimit])
	return out, true, fullLength
}

// Segmenter splits and reassembles large binary payloads into fixed-size
// AttachmentRow segments.
type Segmenter struct {
	Store       *store.Store
	SegmentSize int
}

// NewSegmenter builds a Segmenter, defaulting SegmentSize to DefaultSegmentSize
// when segmentSize is zero.
func NewSegmenter(s *store.Store, segmentSize int) *Segmenter {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	return &Segmenter{Store: s, SegmentSize: segmentSize}
}

// Write splits data into segments and persists each one, returning the
// generated attachment ID.
func (sg *Segmenter) Write(messageID int64, attachmentType string, data []byte) (string, error) {
	id := uuid.NewString()
	if len(data) == 0 {
		if err := sg.Store.PutAttachmentSegment(&message.Attachment{ID: id, MessageID: messageID, SegmentNo: 0, Data: nil, Type: attachmentType}); err != nil {
			return "", fmt.Errorf("content: write empty attachment: %w", err)
		}
		return id, nil
	}
	segNo := 0
	for offset := 0; offset < len(data); offset += sg.SegmentSize {
		end := offset + sg.SegmentSize
		if end > len(data) {
			end = len(data)
		}
		seg := &message.Attachment{
			ID:        id,
			MessageID: messageID,
			SegmentNo: segNo,
			Data:      data[offset:end],
			Type:      attachmentType,
		}
		if err := sg.Store.PutAttachmentSegment(seg); err != nil {
			return "", fmt.Errorf("content: write segment %d: %w", segNo, err)
		}
		segNo++
	}
	return id, nil
}

// Read reassembles an attachment's segments in ascending order.
func (sg *Segmenter) Read(id string) (*message.Attachment, error) {
	a, err := sg.Store.GetAttachment(id)
	if err != nil {
		return nil, fmt.Errorf("content: read attachment %s: %w", id, err)
	}
	return a, nil
}
