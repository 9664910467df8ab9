package models

import "time"

// LegacyTimeLayout matches the naive local timestamps written by earlier
// versions of the memory files and database.
const LegacyTimeLayout = "2006-01-02T15:04:05.999999"

// ParseTime reads an RFC 3339 timestamp, falling back to LegacyTimeLayout
// in the local zone. Unparsable input yields the zero time.
func ParseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.ParseInLocation(LegacyTimeLayout, s, time.Local); err == nil {
		return t
	}
	return time.Time{}
}
