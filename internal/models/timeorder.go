package models

import (
	"strings"
	"time"
)

// ValidTime reports whether s is an RFC 3339 timestamp.
func ValidTime(s string) bool {
	_, err := time.Parse(time.RFC3339Nano, s)
	return err == nil
}

// CompareTimes orders two event timestamps. RFC 3339 values compare as
// instants and sort before anything unparseable; two unparseable values fall
// back to byte order. The result is a total order, so it is safe for sorting
// logs that predate validation.
func CompareTimes(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	switch {
	case errA == nil && errB == nil:
		return ta.Compare(tb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
