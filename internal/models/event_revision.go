package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventRevision is one append-only audit row per event mutation. Snapshot
// holds the full canonical state after the mutation; TriggerSource names the
// source whose report caused it.
type EventRevision struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement"`
	EventID       string         `gorm:"type:varchar(40);not null;index:idx_event_revision,priority:1"`
	Revision      int            `gorm:"not null;index:idx_event_revision,priority:2"`
	TriggerSource string         `gorm:"type:varchar(30);not null"`
	Snapshot      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (EventRevision) TableName() string {
	return "quake_event_revisions"
}
