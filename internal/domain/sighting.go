package domain

import "time"

// Sighting is one observation that an ip was active on the network.
type Sighting struct {
	IP     string    `json:"ip"`
	SeenAt time.Time `json:"seenAt"`
}

// IPStat aggregates the sightings of one ip inside a window.
type IPStat struct {
	IP       string    `json:"ip"`
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// ActivityEvent is pushed to realtime subscribers.
type ActivityEvent struct {
	Kind ActivityKind `json:"kind"`
	IPs  []string     `json:"ips"`
	At   time.Time    `json:"at"`
}
