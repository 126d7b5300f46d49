package models

import (
	"time"
)

type User struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Email     string    `json:"email" gorm:"type:text;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	Klasse    *string   `json:"klasse" gorm:"type:text"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"type:timestamp with time zone;not null"`
}
