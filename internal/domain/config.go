package domain

import "time"

// Config is the runtime tuning shared by the usecases.
type Config struct {
	StaleThreshold time.Duration
	Workers        int
}
