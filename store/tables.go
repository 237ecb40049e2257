// Package store implements the Donkey DAO: per-channel GORM models and the
// Store that wraps a *gorm.DB for Message/ConnectorMessage/Content/Attachment/
// Statistics persistence, table-named from the channel's UUID.
package store

import "strings"

// TableNamer derives the four-table-plus-statistics naming scheme from a
// channel UUID: hyphens become underscores, and each row kind gets its own
// D_M-prefixed table so multiple channels never collide in one schema.
type TableNamer struct {
	ChannelID string
}

func NewTableNamer(channelID string) TableNamer {
	return TableNamer{ChannelID: channelID}
}

func (t TableNamer) suffix() string {
	return strings.ReplaceAll(t.ChannelID, "-", "_")
}

// Messages returns the D_M table name (Message headers).
func (t TableNamer) Messages() string { return "d_m_" + t.suffix() }

// ConnectorMessages returns the D_MM table name (per-destination rows).
func (t TableNamer) ConnectorMessages() string { return "d_mm_" + t.suffix() }

// Content returns the D_MC table name (typed content rows).
func (t TableNamer) Content() string { return "d_mc_" + t.suffix() }

// Attachments returns the D_MA table name (segmented attachment blobs).
func (t TableNamer) Attachments() string { return "d_ma_" + t.suffix() }

// Statistics returns the D_MS table name (per-connector counters).
func (t TableNamer) Statistics() string { return "d_ms_" + t.suffix() }
