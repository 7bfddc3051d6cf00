package eventstore

import "time"

const versionSequenceWidth = 1000

// nextVersion computes the next version for an entity given its last
// assigned version and the current wall-clock time, per the formula
// version = wall-clock-ms*1000 + sequence. If the computed base (clock-ms)
// has not advanced past the last version's base, the sequence increments
// within the same millisecond instead of going backwards.
func nextVersion(last int64, now time.Time) int64 {
	nowMs := now.UnixMilli()
	base := nowMs * versionSequenceWidth

	if base > last {
		return base
	}
	return last + 1
}
