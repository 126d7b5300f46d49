package models

import (
	"time"
)

type Registration struct {
	ID     int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	IP     string    `json:"ip" gorm:"type:text;not null;index:idx_registration_ip_at,priority:1"`
	UserID int64     `json:"userId" gorm:"not null;index"`
	At     time.Time `json:"at" gorm:"type:timestamp with time zone;not null;index:idx_registration_ip_at,priority:2"`
}

// ArchivedRegistration holds rows frozen from the previous generation.
// Nothing writes to it during normal operation.
type ArchivedRegistration struct {
	ID     int64     `json:"id" gorm:"primaryKey"`
	IP     string    `json:"ip" gorm:"type:text;not null;index:idx_registration_archive_ip_at,priority:1"`
	UserID int64     `json:"userId" gorm:"not null"`
	At     time.Time `json:"at" gorm:"type:timestamp with time zone;not null;index:idx_registration_archive_ip_at,priority:2"`
}

func (ArchivedRegistration) TableName() string {
	return "registrations_archive"
}
