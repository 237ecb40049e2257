package store

import "time"

// MessageRow is the GORM row for a Message header, persisted in a channel's
// D_M table.
type MessageRow struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	ServerID     string
	ReceivedDate time.Time
	Processed    bool
	OriginalID   *int64
	ImportID     *string
}

// ConnectorMessageRow is the GORM row for one (message, metadata-id) pipeline
// step, persisted in a channel's D_MM table.
type ConnectorMessageRow struct {
	MessageID     int64  `gorm:"primaryKey"`
	MetaDataID    int    `gorm:"primaryKey"`
	ConnectorName string
	Status        string
	ReceivedDate  time.Time
	SendDate      *time.Time
	ResponseDate  *time.Time
	SendAttempts  int
	ErrorCode     string
}

// ContentRow is the GORM row for a single typed content blob, persisted in a
// channel's D_MC table.
type ContentRow struct {
	MessageID   int64 `gorm:"primaryKey"`
	MetaDataID  int   `gorm:"primaryKey"`
	ContentType int   `gorm:"primaryKey"`
	Content     []byte
	DataType    string
	Encrypted   bool
}

// AttachmentRow is the GORM row for one segment of an attachment, persisted
// in a channel's D_MA table.
type AttachmentRow struct {
	ID        string `gorm:"primaryKey"`
	SegmentNo int    `gorm:"primaryKey"`
	MessageID int64
	Data      []byte
	Type      string
}

// StatisticsRow is the GORM row for per-connector counters, persisted in a
// channel's D_MS table.
type StatisticsRow struct {
	MetaDataID int    `gorm:"primaryKey"`
	ServerID   string `gorm:"primaryKey"`
	Received   int64
	Filtered   int64
	Sent       int64
	Error      int64
	Queued     int64
}
