// Package config holds the small set of tunables the core subsystems need:
// how many buffer pages the sort executor may use, how big the log
// manager's write buffer is, and the checkpoint end-record size budget.
package config

import "time"

// Config collects the tunables shared by the sort, log, and recovery
// subsystems. Following the teacher's constructor-with-defaults style
// (e.g. NewWAL(logPath, bufferSize)), Default returns a ready-to-use value
// and callers override individual fields.
type Config struct {
	// BufferPages (B) is the number of pages of work memory the external
	// sort and merge-join executors may use at once.
	BufferPages int

	// LogDir is the directory the write-ahead log file lives in.
	LogDir string

	// LogWriteBufferBytes sizes the log manager's in-memory write buffer
	// before it is flushed to the log file.
	LogWriteBufferBytes int

	// CheckpointRecordBudgetBytes bounds how many DPT/XT entries a single
	// END_CHECKPOINT record may carry before a new one is started.
	CheckpointRecordBudgetBytes int

	// EffectivePageSize is the collaborator buffer manager's page size;
	// UPDATE_PAGE before/after images must each be at most half of this.
	EffectivePageSize int

	// LockWaitLogThreshold is a lock-wait duration setting carried in the
	// configuration; no package reads it, and lock waits are only recorded
	// in the LockWaitSeconds histogram (never logged as warnings, never a
	// timeout).
	LockWaitLogThreshold time.Duration
}

// Default returns the configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		BufferPages:                 16,
		LogDir:                      ".",
		LogWriteBufferBytes:         64 * 1024,
		CheckpointRecordBudgetBytes: 4096,
		EffectivePageSize:           4096,
		LockWaitLogThreshold:        2 * time.Second,
	}
}
