package utils

import "time"

// TimestampLayout is the stored timestamp format. It keeps sub-second
// precision and sorts lexically for UTC values.
const TimestampLayout = time.RFC3339Nano

// FormatTimestamp renders t in UTC using TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp. Plain RFC3339 values written
// without fractional seconds are accepted too.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
