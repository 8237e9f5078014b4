package recovery

import (
	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/primitives"
)

// xtEntry is one Transaction Table row: the owning handle, the LSN of the
// most recent record mentioning this transaction, the set of pages it has
// touched, and its named savepoints. Status is tracked here rather than
// read through Handle.Status so that restart_analysis can advance it
// along the legal-transition rules (§4.6) independently of whatever a
// freshly-instantiated recovery handle reports.
type xtEntry struct {
	handle       transaction.Handle
	lastLSN      primitives.LSN
	touchedPages map[primitives.PageID]bool
	savepoints   map[string]primitives.LSN
	status       transaction.Status
}

func newXTEntry(handle transaction.Handle) *xtEntry {
	return &xtEntry{
		handle:       handle,
		touchedPages: make(map[primitives.PageID]bool),
		savepoints:   make(map[string]primitives.LSN),
		status:       transaction.Running,
	}
}

func (e *xtEntry) setStatus(s transaction.Status) {
	e.status = s
	e.handle.SetStatus(s)
}

// Factory constructs a transaction handle given its numeric id, used by
// restart_analysis to instantiate transactions the crashed process never
// explicitly registered (they are known only from log records).
type Factory func(txnID int64) transaction.Handle
