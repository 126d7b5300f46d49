package domain

const (
	// KlasseNone stands in for a missing classification attribute.
	KlasseNone = "None"

	// PlaceholderUnknown names a registration whose user id has no cached row.
	PlaceholderUnknown = "unknown"
	// PlaceholderNotFound names a registration the directory could not resolve.
	PlaceholderNotFound = "not found"

	// MinPrefixLength guards prefix searches against directory-wide scans.
	MinPrefixLength = 3
)

const (
	ActivityChannel = "examwatch:activity"
)

type ActivityKind string

const (
	ActivitySeen    ActivityKind = "seen"
	ActivityCheckIn ActivityKind = "checkin"
)
