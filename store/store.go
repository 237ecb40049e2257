package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fluxhealth/channelengine/message"
)

// ErrNotFound is returned when a lookup by primary key matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a shared *gorm.DB connection pool and exposes the Donkey DAO
// operations for one channel, identified by ChannelID.
type Store struct {
	db        *gorm.DB
	ChannelID string
	names     TableNamer
}

// Open establishes the shared PostgreSQL connection pool used by every
// channel's Store. Pool sizing mirrors production defaults: a modest idle
// pool with headroom for concurrent channel traffic.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// New binds a Store to a single channel's tables on a shared pool.
func New(db *gorm.DB, channelID string) *Store {
	return &Store{db: db, ChannelID: channelID, names: NewTableNamer(channelID)}
}

// Migrate creates or updates the channel's five tables. DDL is serialized
// across processes with a Postgres advisory lock keyed on a hash of the
// channel ID, since two engine instances deploying the same channel at once
// would otherwise race on concurrent AutoMigrate calls.
func (s *Store) Migrate(customColumns map[string]string) error {
	lockKey := advisoryLockKey(s.ChannelID)
	if err := s.db.Exec("SELECT pg_advisory_lock(?)", lockKey).Error; err != nil {
		return fmt.Errorf("store: acquire migration lock: %w", err)
	}
	defer s.db.Exec("SELECT pg_advisory_unlock(?)", lockKey)

	tx := s.db.Session(&gorm.Session{})
	if err := tx.Table(s.names.Messages()).AutoMigrate(&MessageRow{}); err != nil {
		return fmt.Errorf("store: migrate messages: %w", err)
	}
	if err := tx.Table(s.names.ConnectorMessages()).AutoMigrate(&ConnectorMessageRow{}); err != nil {
		return fmt.Errorf("store: migrate connector messages: %w", err)
	}
	if err := tx.Table(s.names.Content()).AutoMigrate(&ContentRow{}); err != nil {
		return fmt.Errorf("store: migrate content: %w", err)
	}
	if err := tx.Table(s.names.Attachments()).AutoMigrate(&AttachmentRow{}); err != nil {
		return fmt.Errorf("store: migrate attachments: %w", err)
	}
	if err := tx.Table(s.names.Statistics()).AutoMigrate(&StatisticsRow{}); err != nil {
		return fmt.Errorf("store: migrate statistics: %w", err)
	}
	for col, sqlType := range customColumns {
		if !tx.Table(s.names.ConnectorMessages()).Migrator().HasColumn(&ConnectorMessageRow{}, col) {
			if err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.names.ConnectorMessages(), col, sqlType)).Error; err != nil {
				return fmt.Errorf("store: add custom column %s: %w", col, err)
			}
		}
	}
	return nil
}

func advisoryLockKey(channelID string) int64 {
	var h int64 = 0
	for _, r := range channelID {
		h = h*31 + int64(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}

// InsertMessage creates the Message header row and stores its assigned ID
// in m.ID.
func (s *Store) InsertMessage(m *message.Message) error {
	row := MessageRow{
		ServerID:     m.ServerID,
		ReceivedDate: m.ReceivedDate,
		Processed:    m.Processed,
		OriginalID:   m.OriginalID,
		ImportID:     m.ImportID,
	}
	if err := s.db.Table(s.names.Messages()).Create(&row).Error; err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	m.ID = row.ID
	return nil
}

// UpdateMessageProcessed flips the processed flag once every connector
// message has reached a terminal or queued status.
func (s *Store) UpdateMessageProcessed(messageID int64, processed bool) error {
	res := s.db.Table(s.names.Messages()).Where("id = ?", messageID).Update("processed", processed)
	if res.Error != nil {
		return fmt.Errorf("store: update processed: %w", res.Error)
	}
	return nil
}

// GetMessage loads a Message header by ID.
func (s *Store) GetMessage(messageID int64) (*message.Message, error) {
	var row MessageRow
	err := s.db.Table(s.names.Messages()).Where("id = ?", messageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get message: %w", err)
	}
	return &message.Message{
		ChannelID:    s.ChannelID,
		ID:           row.ID,
		ServerID:     row.ServerID,
		ReceivedDate: row.ReceivedDate,
		Processed:    row.Processed,
		OriginalID:   row.OriginalID,
		ImportID:     row.ImportID,
	}, nil
}

// ListUnprocessedMessages returns every Message for this channel with
// processed=false owned by serverID, for recovery to scan on channel start.
func (s *Store) ListUnprocessedMessages(serverID string) ([]message.Message, error) {
	var rows []MessageRow
	err := s.db.Table(s.names.Messages()).Where("processed = ? AND server_id = ?", false, serverID).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list unprocessed messages: %w", err)
	}
	out := make([]message.Message, len(rows))
	for i, row := range rows {
		out[i] = message.Message{
			ChannelID:    s.ChannelID,
			ID:           row.ID,
			ServerID:     row.ServerID,
			ReceivedDate: row.ReceivedDate,
			Processed:    row.Processed,
			OriginalID:   row.OriginalID,
			ImportID:     row.ImportID,
		}
	}
	return out, nil
}

// UpsertConnectorMessage writes or overwrites the per-destination row.
func (s *Store) UpsertConnectorMessage(cm *message.ConnectorMessage) error {
	row := ConnectorMessageRow{
		MessageID:     cm.MessageID,
		MetaDataID:    cm.MetaDataID,
		ConnectorName: cm.ConnectorName,
		Status:        string(cm.Status),
		ReceivedDate:  cm.ReceivedDate,
		SendDate:      cm.SendDate,
		ResponseDate:  cm.ResponseDate,
		SendAttempts:  cm.SendAttempts,
		ErrorCode:     cm.ErrorCode,
	}
	err := s.db.Table(s.names.ConnectorMessages()).
		Where("message_id = ? AND meta_data_id = ?", cm.MessageID, cm.MetaDataID).
		Assign(row).
		FirstOrCreate(&ConnectorMessageRow{}).Error
	if err != nil {
		return fmt.Errorf("store: upsert connector message: %w", err)
	}
	return nil
}

// ListConnectorMessages returns every destination row for one message,
// ordered by metadata-id (0 is the source).
func (s *Store) ListConnectorMessages(messageID int64) ([]message.ConnectorMessage, error) {
	var rows []ConnectorMessageRow
	err := s.db.Table(s.names.ConnectorMessages()).
		Where("message_id = ?", messageID).
		Order("meta_data_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list connector messages: %w", err)
	}
	out := make([]message.ConnectorMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, message.ConnectorMessage{
			ChannelID:     s.ChannelID,
			MessageID:     r.MessageID,
			MetaDataID:    r.MetaDataID,
			ConnectorName: r.ConnectorName,
			Status:        message.Status(r.Status),
			ReceivedDate:  r.ReceivedDate,
			SendDate:      r.SendDate,
			ResponseDate:  r.ResponseDate,
			SendAttempts:  r.SendAttempts,
			ErrorCode:     r.ErrorCode,
		})
	}
	return out, nil
}

// PutContent writes a typed content row, overwriting any prior value at the
// same (message, metadata-id, content-type) key.
func (s *Store) PutContent(c *message.Content) error {
	row := ContentRow{
		MessageID:   c.MessageID,
		MetaDataID:  c.MetaDataID,
		ContentType: int(c.ContentType),
		Content:     c.Content,
		DataType:    c.DataType,
		Encrypted:   c.Encrypted,
	}
	err := s.db.Table(s.names.Content()).
		Where("message_id = ? AND meta_data_id = ? AND content_type = ?", c.MessageID, c.MetaDataID, int(c.ContentType)).
		Assign(row).
		FirstOrCreate(&ContentRow{}).Error
	if err != nil {
		return fmt.Errorf("store: put content: %w", err)
	}
	return nil
}

// GetContent reads one typed content row, or ErrNotFound.
func (s *Store) GetContent(messageID int64, metaDataID int, contentType message.ContentType) (*message.Content, error) {
	var row ContentRow
	err := s.db.Table(s.names.Content()).
		Where("message_id = ? AND meta_data_id = ? AND content_type = ?", messageID, metaDataID, int(contentType)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get content: %w", err)
	}
	return &message.Content{
		ChannelID:   s.ChannelID,
		MessageID:   row.MessageID,
		MetaDataID:  row.MetaDataID,
		ContentType: message.ContentType(row.ContentType),
		Content:     row.Content,
		DataType:    row.DataType,
		Encrypted:   row.Encrypted,
	}, nil
}

// GetSourceMapContent returns the raw SOURCE_MAP blob for a message's
// source connector (metadata-id 0), or nil if none was ever written. Used
// by the trace service's backward walk.
func (s *Store) GetSourceMapContent(messageID int64) ([]byte, error) {
	c, err := s.GetContent(messageID, message.SourceMetaDataID, message.ContentSourceMap)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.Content, nil
}

// ListSourceMapEntries returns every SOURCE_MAP content row in this
// channel as (messageID, parent) pairs, for the trace service's forward
// walk to scan for descendants of a given upstream node. decode extracts
// the parent reference from each raw blob; entries that fail to decode are
// skipped since they have no parent to match against.
func (s *Store) ListSourceMapEntries(decode func(raw []byte) (parentChannelID string, parentMessageID int64, ok bool)) ([]message.SourceMapEntry, error) {
	var rows []ContentRow
	err := s.db.Table(s.names.Content()).
		Where("meta_data_id = ? AND content_type = ?", message.SourceMetaDataID, int(message.ContentSourceMap)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list source map entries: %w", err)
	}

	entries := make([]message.SourceMapEntry, 0, len(rows))
	for _, row := range rows {
		parentChannelID, parentMessageID, ok := decode(row.Content)
		if !ok {
			continue
		}
		entries = append(entries, message.SourceMapEntry{
			MessageID:       row.MessageID,
			ParentChannelID: parentChannelID,
			ParentMessageID: parentMessageID,
		})
	}
	return entries, nil
}

// PutAttachmentSegment writes one segment of an attachment.
func (s *Store) PutAttachmentSegment(a *message.Attachment) error {
	row := AttachmentRow{ID: a.ID, SegmentNo: a.SegmentNo, MessageID: a.MessageID, Data: a.Data, Type: a.Type}
	err := s.db.Table(s.names.Attachments()).
		Where("id = ? AND segment_no = ?", a.ID, a.SegmentNo).
		Assign(row).
		FirstOrCreate(&AttachmentRow{}).Error
	if err != nil {
		return fmt.Errorf("store: put attachment segment: %w", err)
	}
	return nil
}

// GetAttachment reassembles every segment of an attachment in ascending
// segment order.
func (s *Store) GetAttachment(id string) (*message.Attachment, error) {
	var rows []AttachmentRow
	err := s.db.Table(s.names.Attachments()).Where("id = ?", id).Order("segment_no ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: get attachment: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	var data []byte
	for _, r := range rows {
		data = append(data, r.Data...)
	}
	return &message.Attachment{
		ChannelID: s.ChannelID,
		ID:        id,
		MessageID: rows[0].MessageID,
		Data:      data,
		Type:      rows[0].Type,
	}, nil
}

// IncrementStatistic atomically bumps the counter matching status for one
// (metadata-id, server-id) pair.
func (s *Store) IncrementStatistic(metaDataID int, serverID string, status message.Status, delta int64) error {
	var column string
	switch status {
	case message.StatusReceived:
		column = "received"
	case message.StatusFiltered:
		column = "filtered"
	case message.StatusSent:
		column = "sent"
	case message.StatusError:
		column = "error"
	case message.StatusQueued:
		column = "queued"
	default:
		return nil
	}
	table := s.names.Statistics()
	res := s.db.Table(table).
		Where("meta_data_id = ? AND server_id = ?", metaDataID, serverID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("store: increment statistic: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		row := StatisticsRow{MetaDataID: metaDataID, ServerID: serverID}
		switch status {
		case message.StatusReceived:
			row.Received = delta
		case message.StatusFiltered:
			row.Filtered = delta
		case message.StatusSent:
			row.Sent = delta
		case message.StatusError:
			row.Error = delta
		case message.StatusQueued:
			row.Queued = delta
		}
		if err := s.db.Table(table).Create(&row).Error; err != nil {
			return fmt.Errorf("store: create statistics row: %w", err)
		}
	}
	return nil
}

// GetStatistics reads the counters for one (metadata-id, server-id) pair.
func (s *Store) GetStatistics(metaDataID int, serverID string) (*message.Statistics, error) {
	var row StatisticsRow
	err := s.db.Table(s.names.Statistics()).
		Where("meta_data_id = ? AND server_id = ?", metaDataID, serverID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &message.Statistics{ChannelID: s.ChannelID, MetaDataID: metaDataID, ServerID: serverID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get statistics: %w", err)
	}
	return &message.Statistics{
		ChannelID:  s.ChannelID,
		MetaDataID: row.MetaDataID,
		ServerID:   row.ServerID,
		Received:   row.Received,
		Filtered:   row.Filtered,
		Sent:       row.Sent,
		Error:      row.Error,
		Queued:     row.Queued,
	}, nil
}

// ResetStatistics zeroes every counter for this channel, used by the
// operator-triggered REST reset-statistics operation.
func (s *Store) ResetStatistics() error {
	err := s.db.Table(s.names.Statistics()).
		Where("1 = 1").
		Updates(map[string]interface{}{"received": 0, "filtered": 0, "sent": 0, "error": 0, "queued": 0}).Error
	if err != nil {
		return fmt.Errorf("store: reset statistics: %w", err)
	}
	return nil
}

// Transaction runs fn inside a single DB transaction, used by crash recovery
// so each message's recovery is atomic across the per-channel tables.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, ChannelID: s.ChannelID, names: s.names})
	})
}

// RemoveAll truncates every table belonging to this channel, used when a
// channel is deleted entirely rather than merely undeployed.
func (s *Store) RemoveAll() error {
	for _, t := range []string{s.names.Messages(), s.names.ConnectorMessages(), s.names.Content(), s.names.Attachments(), s.names.Statistics()} {
		if err := s.db.Exec(fmt.Sprintf("TRUNCATE TABLE %s", t)).Error; err != nil {
			return fmt.Errorf("store: truncate %s: %w", t, err)
		}
	}
	return nil
}

// RemoveMessage deletes one message and every connector-message and content
// row keyed to it, for the REST remove-message operation.
func (s *Store) RemoveMessage(messageID int64) error {
	if err := s.db.Table(s.names.Content()).Where("message_id = ?", messageID).Delete(nil).Error; err != nil {
		return fmt.Errorf("store: remove message content: %w", err)
	}
	if err := s.db.Table(s.names.ConnectorMessages()).Where("message_id = ?", messageID).Delete(nil).Error; err != nil {
		return fmt.Errorf("store: remove connector messages: %w", err)
	}
	res := s.db.Table(s.names.Messages()).Where("id = ?", messageID).Delete(nil)
	if res.Error != nil {
		return fmt.Errorf("store: remove message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAllContent returns every content row for one message across all
// metadata IDs, for the REST export operation.
func (s *Store) ListAllContent(messageID int64) ([]message.Content, error) {
	var rows []ContentRow
	if err := s.db.Table(s.names.Content()).Where("message_id = ?", messageID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list content: %w", err)
	}
	out := make([]message.Content, len(rows))
	for i, r := range rows {
		out[i] = message.Content{
			ChannelID:   s.ChannelID,
			MessageID:   r.MessageID,
			MetaDataID:  r.MetaDataID,
			ContentType: message.ContentType(r.ContentType),
			Content:     r.Content,
			DataType:    r.DataType,
			Encrypted:   r.Encrypted,
		}
	}
	return out, nil
}
