package models

import (
	"time"
)

type Submission struct {
	ID       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID   int64     `json:"userId" gorm:"not null;index"`
	IP       string    `json:"ip" gorm:"type:text;not null;index:idx_submission_ip_at,priority:1"`
	Filename string    `json:"filename" gorm:"type:text;not null"`
	At       time.Time `json:"at" gorm:"type:timestamp with time zone;not null;index:idx_submission_ip_at,priority:2"`
}
