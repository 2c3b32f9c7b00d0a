package models

import "time"

// SourceHealth stores per-collector transport state and liveness. Updated by
// the ingest hub's health ticker; read-only for everything else.
type SourceHealth struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement"`
	Name         string     `gorm:"type:varchar(30);uniqueIndex;not null"`
	SourceType   string     `gorm:"type:varchar(30);not null"`
	Endpoint     string     `gorm:"type:varchar(500)"`
	PollInterval string     `gorm:"type:varchar(20)"`
	Enabled      bool       `gorm:"default:true"`
	LastPollAt   *time.Time `gorm:"type:timestamptz"`
	LastError    *string    `gorm:"type:text"`
	HealthStatus string     `gorm:"type:varchar(20);default:'unknown'"`
	Delivered    uint64     `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SourceHealth) TableName() string {
	return "source_health"
}
