package domain

import "time"

// Registration binds a user to an ip at a point in time.
type Registration struct {
	IP     string    `json:"ip"`
	UserID int64     `json:"userId"`
	At     time.Time `json:"at"`
}
