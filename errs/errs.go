// Package errs holds the sentinel errors shared by the storage-layer
// packages (sstable, compaction, the vela coordinator) so callers can
// errors.Is against one taxonomy regardless of which layer raised the
// error (spec.md §7).
package errs

import "errors"

// ErrIOError marks a failure reading or writing a run's files. Per
// spec.md §7, a flush failure must not mutate the coordinator's run
// list, and a compaction failure must discard its temp files and leave
// the run set unchanged.
var ErrIOError = errors.New("vela: i/o error")

// ErrInvalidState marks a contract violation, such as committing a run
// that was not opened as temporary.
var ErrInvalidState = errors.New("vela: invalid state")
