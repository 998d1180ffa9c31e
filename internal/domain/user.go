package domain

import "time"

// User is a known chat participant along with their lifetime transfer
// counters and saved preferences.
type User struct {
	ID            int64
	Username      string
	FetchCount    int64
	UploadCount   int64
	BytesFetched  int64
	BytesUploaded int64
	CustomName    string
	CustomCaption string
	CustomThumb   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Stats aggregates counters across all users.
type Stats struct {
	Users         int64
	Fetches       int64
	Uploads       int64
	BytesFetched  int64
	BytesUploaded int64
}
