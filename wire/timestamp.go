// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import "time"

// Timestamp is a nanosecond-resolution instant, encoded canonically as
// a signed 64-bit count of nanoseconds since the Unix epoch. Using a
// dedicated type (rather than time.Time directly) keeps the canonical
// encoding immune to time.Time's monotonic-reading and location fields,
// neither of which round-trip through Encoder/Decoder.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Time converts back to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// Before reports whether t is strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// After reports whether t is strictly after other.
func (t Timestamp) After(other Timestamp) bool {
	return t > other
}
