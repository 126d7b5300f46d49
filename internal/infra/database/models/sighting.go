package models

import (
	"time"
)

type Sighting struct {
	ID     int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	IP     string    `json:"ip" gorm:"type:text;not null;index:idx_sighting_ip_seen,priority:1"`
	SeenAt time.Time `json:"seenAt" gorm:"type:timestamp with time zone;not null;index;index:idx_sighting_ip_seen,priority:2"`
}
