package models

import (
	"time"

	"gorm.io/datatypes"
)

// Report is one source's single observation of an occurrence. Rows are
// append-only; a report never changes after insert.
type Report struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	Source        string  `gorm:"type:varchar(30);not null;index;uniqueIndex:idx_source_native,priority:1"`
	SourceEventID *string `gorm:"type:varchar(100);uniqueIndex:idx_source_native,priority:2"`
	EventID       string  `gorm:"type:varchar(40);not null;index"`

	Magnitude     float64  `gorm:"not null"`
	MagnitudeType *string  `gorm:"type:varchar(10)"`
	Latitude      float64  `gorm:"not null"`
	Longitude     float64  `gorm:"not null"`
	DepthKm       *float64
	LocationName  *string `gorm:"type:text"`

	EventTime   time.Time  `gorm:"type:timestamptz;not null;index"`
	PublishedAt *time.Time `gorm:"type:timestamptz"`
	ReceivedAt  time.Time  `gorm:"type:timestamptz;not null"`

	RawPayload datatypes.JSON `gorm:"type:jsonb"`
}

func (Report) TableName() string {
	return "source_reports"
}
