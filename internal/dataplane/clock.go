package dataplane

import "time"

// Clock supplies the single monotonic-since-construction and wall-clock
// views the core needs: queueing-metadata timestamps (enq_timestamp,
// deq_timedelta) and the control-surface time queries (spec.md §4.7, §6).
type Clock interface {
	NowMicros() uint64
	ElapsedMicros() uint64
	EpochMicros() uint64
}

// SystemClock is a Clock anchored at the moment it is constructed,
// grounded on the teacher's switch-time-origin idiom (a stored
// construction-time time.Time compared against time.Now()).
type SystemClock struct {
	origin time.Time
}

// NewSystemClock starts the clock now. Called once at switch construction
// (spec.md §4.7 "initialises the monotonic clock origin").
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// NowMicros is an alias for ElapsedMicros, used by queueing-metadata
// timestamps which only need a consistent relative clock.
func (c *SystemClock) NowMicros() uint64 {
	return c.ElapsedMicros()
}

// ElapsedMicros returns microseconds since construction.
func (c *SystemClock) ElapsedMicros() uint64 {
	return uint64(time.Since(c.origin).Microseconds())
}

// EpochMicros returns wall-clock microseconds since the Unix epoch.
func (c *SystemClock) EpochMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
