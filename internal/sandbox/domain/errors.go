package domain

import "errors"

var (
	// ErrSandboxNotFound is the provider-confirmed terminal loss of a
	// sandbox. It is never retried as a connection attempt; the reconnect
	// path routes it straight to restoration.
	ErrSandboxNotFound = errors.New("sandbox not found")

	// ErrNoBinding means the project has no sandbox record at all.
	ErrNoBinding = errors.New("project has no sandbox binding")

	ErrProjectNotFound = errors.New("project not found")

	// ErrLockContention means another caller currently holds the
	// lifecycle lock for the project. Retry shortly; not a hard failure.
	ErrLockContention = errors.New("sandbox operation already in progress")

	// ErrRestorationExhausted means both the backup store and the stored
	// code-file blob are empty. Terminal: there is nothing to rebuild
	// from, and it must surface verbatim since it indicates data loss.
	ErrRestorationExhausted = errors.New("restoration exhausted: no backup snapshot and no stored code files")

	// ErrRestoreFailed wraps a restoration that had a usable source but
	// failed during sandbox create or file writes. Unlike
	// ErrRestorationExhausted a second attempt may succeed.
	ErrRestoreFailed = errors.New("restoration failed")

	// ErrOperationTimeout means the overall wall-clock budget for a
	// lifecycle operation was exceeded at a sub-step boundary.
	ErrOperationTimeout = errors.New("sandbox operation exceeded its time budget")
)
