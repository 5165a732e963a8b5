package compute

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// DefaultDeadline is the deadline used by DefaultConfig.
const DefaultDeadline = 5 * time.Second

// Schedule selects how chunks are handed to workers.
type Schedule int

const (
	// ScheduleStatic assigns each worker a fixed, contiguous run of chunks
	// before dispatch.
	ScheduleStatic Schedule = iota
	// ScheduleDynamic lets workers pull the next chunk from a shared cursor.
	ScheduleDynamic
)

func (s Schedule) String() string {
	switch s {
	case ScheduleStatic:
		return "static"
	case ScheduleDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("schedule(%d)", int(s))
	}
}

// ParseSchedule maps "static" / "dynamic" (case-insensitive) to a Schedule.
// An empty string selects ScheduleStatic.
func ParseSchedule(s string) (Schedule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return ScheduleStatic, nil
	case "dynamic":
		return ScheduleDynamic, nil
	default:
		return 0, fmt.Errorf("%w: unknown schedule %q", ErrInvalidConfig, s)
	}
}

// Config controls one Engine. It is copied into the engine on construction
// and never mutated afterwards.
type Config struct {
	// NumThreads is the size of the worker pool. Must be >= 1.
	NumThreads int
	// Deadline is the wall-clock budget of one Process call. Zero means the
	// run is cancelled before any row is computed.
	Deadline time.Duration
	// ChunkSize selects fixed-size blocks of rows when > 0. Zero splits the
	// rows into NumThreads near-equal chunks.
	ChunkSize int
	// Schedule selects static or dynamic chunk assignment.
	Schedule Schedule
}

// DefaultConfig uses one worker per available CPU, a 5s deadline and an
// equal split.
func DefaultConfig() Config {
	return Config{
		NumThreads: runtime.NumCPU(),
		Deadline:   DefaultDeadline,
		Schedule:   ScheduleStatic,
	}
}

// Validate checks the config in isolation. Shape consistency against a given
// input is checked by the engine.
func (c Config) Validate() error {
	if c.NumThreads < 1 {
		return fmt.Errorf("%w: num_threads must be >= 1, got %d", ErrInvalidConfig, c.NumThreads)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("%w: deadline must be >= 0, got %s", ErrInvalidConfig, c.Deadline)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("%w: chunk_size must be >= 0, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Schedule != ScheduleStatic && c.Schedule != ScheduleDynamic {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Schedule)
	}
	return nil
}

// Granularity returns the partitioning policy selected by the config.
func (c Config) Granularity() Granularity {
	if c.ChunkSize > 0 {
		return Granularity{Size: c.ChunkSize}
	}
	return Granularity{Count: c.NumThreads}
}
