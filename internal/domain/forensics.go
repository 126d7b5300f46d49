package domain

import "time"

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
	// OpenEnded is true when the caller gave no end, so End means "now".
	OpenEnded bool
}

// Normalize fills an open end with now, swaps reversed bounds and moves both to UTC.
func (w Window) Normalize(now time.Time) Window {
	if w.End.IsZero() {
		w.End = now
		w.OpenEnded = true
	}
	if w.End.Before(w.Start) {
		w.Start, w.End = w.End, w.Start
	}
	w.Start = w.Start.UTC()
	w.End = w.End.UTC()
	return w
}

type ResolvedRegistration struct {
	At   time.Time `json:"at"`
	User *User     `json:"user"`
}

type SubmissionRef struct {
	At       time.Time `json:"at"`
	Filename string    `json:"filename"`
}

// ForensicsEntry is computed per request and never persisted.
type ForensicsEntry struct {
	IP            string                 `json:"ip"`
	SeenCount     int                    `json:"seenCount"`
	SeenAtDesc    []time.Time            `json:"seenAtDesc"`
	Registrations []ResolvedRegistration `json:"registrations"`
	IsStale       bool                   `json:"isStale"`
	Submissions   []SubmissionRef        `json:"submissions"`
	HasSubmission bool                   `json:"hasSubmission"`
}

// LastSeen returns the newest sighting, or the zero time.
func (e ForensicsEntry) LastSeen() time.Time {
	if len(e.SeenAtDesc) == 0 {
		return time.Time{}
	}
	return e.SeenAtDesc[0]
}

type ForensicsReport struct {
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	OpenEnded    bool             `json:"openEnded"`
	GeneratedAt  time.Time        `json:"generatedAt"`
	Registered   []ForensicsEntry `json:"registered"`
	Unregistered []ForensicsEntry `json:"unregistered"`
}
