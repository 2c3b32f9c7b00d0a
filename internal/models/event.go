package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event is the canonical record merging all reports about one occurrence.
//
// FirstDetectedAt never changes after creation. ConfirmedAt transitions at
// most once, from NULL to the receipt time of the first reference-source
// report; AdvantageMinutes is frozen at the same moment.
type Event struct {
	ID string `gorm:"primaryKey;type:varchar(40)"`

	BestMagnitude       float64 `gorm:"not null;index"`
	BestMagnitudeType   *string `gorm:"type:varchar(10)"`
	MagnitudeProvenance string  `gorm:"type:varchar(60)"`

	Latitude     float64 `gorm:"not null"`
	Longitude    float64 `gorm:"not null"`
	DepthKm      *float64
	LocationName *string `gorm:"type:text"`

	EventTime       time.Time  `gorm:"type:timestamptz;not null;index"`
	FirstDetectedAt time.Time  `gorm:"type:timestamptz;not null"`
	ConfirmedAt     *time.Time `gorm:"type:timestamptz;index"`

	ReferenceEventID *string           `gorm:"type:varchar(100);index"`
	SourceIDs        datatypes.JSONMap `gorm:"type:jsonb"`
	SourceCount      int               `gorm:"not null;default:1"`
	IsSignificant    bool              `gorm:"not null;default:false;index"`
	AdvantageMinutes *float64

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Event) TableName() string {
	return "quake_events"
}

// Pending reports whether the reference source has not yet confirmed the
// event. Pending events form the exported "edge" set.
func (e *Event) Pending() bool {
	return e.ConfirmedAt == nil
}
