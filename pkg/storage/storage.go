// Package storage names the disk space manager and buffer pool contracts
// the recovery manager and execution operators depend on. Both the
// on-disk page format and any concrete implementation are out of scope —
// see SPEC_FULL.md §1 — this package holds interfaces only, shaped after
// the teacher's own storage/page and dbfile abstractions.
package storage

import (
	"context"

	"coredb/pkg/primitives"
)

// DiskManager is the disk space manager: partition and page allocation,
// plus raw page I/O. One partition per table or index file.
type DiskManager interface {
	PartNum(page primitives.PageID) primitives.PartitionID

	AllocatePart() (primitives.PartitionID, error)
	FreePart(part primitives.PartitionID) error

	AllocatePage(part primitives.PartitionID) (primitives.PageID, error)
	FreePage(page primitives.PageID) error

	// ReallocatePage and ReallocatePart idempotently restore a
	// previously-minted, specific id to the allocated state. They exist
	// only for recovery's redo/undo passes, which must reapply an
	// allocation at the exact id a log record already names rather than
	// minting a fresh one the way AllocatePage/AllocatePart do on the
	// forward path.
	ReallocatePage(page primitives.PageID) error
	ReallocatePart(part primitives.PartitionID) error

	ReadPage(page primitives.PageID) ([]byte, error)
	WritePage(page primitives.PageID, data []byte) error
}

// Page is a pinned, in-memory copy of a disk page, carrying the LSN of
// the most recent update applied to it (the WAL invariant: a page may not
// reach disk with a pageLSN the log cannot yet justify).
type Page interface {
	ID() primitives.PageID
	LSN() primitives.LSN
	SetLSN(primitives.LSN)
	Bytes() []byte
	Unpin(dirty bool)
}

// BufferManager is the buffer pool: page fetch/pin, a dirty-page
// iterator used by recovery's clean_DPT step, and the page size every
// UPDATE_PAGE image is bounded by.
type BufferManager interface {
	FetchPage(ctx context.Context, page primitives.PageID) (Page, error)
	IterPages(fn func(page primitives.PageID, dirty bool))
	EffectivePageSize() int
}
