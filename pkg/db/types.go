package db

import "time"

// Metadata describes the last build of the index.
type Metadata struct {
	Version   int
	UpdatedAt time.Time
	Artifacts int
}
