package model

import "fmt"

// Version is the optimistic-locking counter carried by every mutable
// aggregate. It starts at 1 and increments by exactly one on every accepted
// transition; the store rejects any write whose expected version no longer
// matches the row.
type Version int32

// InitialVersion is the version of a freshly created entity.
func InitialVersion() Version { return 1 }

// Next returns the version after one accepted mutation.
func (v Version) Next() Version { return v + 1 }

// Int returns the version as an int for SQL parameters and logging.
func (v Version) Int() int { return int(v) }

// ParseVersion validates a stored version value.
func ParseVersion(raw int) (Version, error) {
	if raw < 1 {
		return 0, NewValidationError(fmt.Sprintf("version must be positive, got %d", raw))
	}
	return Version(raw), nil
}

// DisplayNumber is the per-tenant sequential, human-facing number assigned
// to an instance at creation (e.g. shown as "RINGI-42"). It is allocated by
// the store and never reused within a tenant.
type DisplayNumber int64

// Int64 returns the number as an int64 for SQL parameters.
func (n DisplayNumber) Int64() int64 { return int64(n) }

// ParseDisplayNumber validates a stored display number.
func ParseDisplayNumber(raw int64) (DisplayNumber, error) {
	if raw < 1 {
		return 0, NewValidationError(fmt.Sprintf("display number must be positive, got %d", raw))
	}
	return DisplayNumber(raw), nil
}
