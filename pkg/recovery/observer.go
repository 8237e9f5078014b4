package recovery

import "coredb/pkg/primitives"

// Observer is the narrow slice of Manager that execution and storage call
// into while a transaction runs, as opposed to the restart/checkpoint
// surface only the process's own startup path uses.
type Observer interface {
	LogPageWrite(txnID int64, page primitives.PageID, offset uint16, before, after []byte) (primitives.LSN, error)
	LogAllocPage(txnID int64, part primitives.PartitionID) (primitives.PageID, primitives.LSN, error)
	LogFreePage(txnID int64, page primitives.PageID) (primitives.LSN, error)
	LogAllocPart(txnID int64) (primitives.PartitionID, primitives.LSN, error)
	LogFreePart(txnID int64, part primitives.PartitionID) (primitives.LSN, error)
	PageFlushHook(pageLSN primitives.LSN) error
}

var _ Observer = (*Manager)(nil)
