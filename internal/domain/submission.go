package domain

import "time"

// Submission is an upload record owned by the upload feature.
type Submission struct {
	UserID   int64     `json:"userId"`
	IP       string    `json:"ip"`
	Filename string    `json:"filename"`
	At       time.Time `json:"at"`
}
