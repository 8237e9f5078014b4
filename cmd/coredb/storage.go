package main

import (
	"context"

	"coredb/pkg/primitives"
	"coredb/pkg/storage"
)

// nullPage is a storage.Page with no backing bytes. Fetching one through
// nullStore always reports pageLSN 0, so restart_redo treats every
// page-modifying record as not yet applied and replays it — harmless here
// since nothing is ever read back.
type nullPage struct {
	id  primitives.PageID
	lsn primitives.LSN
}

func (p *nullPage) ID() primitives.PageID   { return p.id }
func (p *nullPage) LSN() primitives.LSN     { return p.lsn }
func (p *nullPage) SetLSN(l primitives.LSN) { p.lsn = l }
func (p *nullPage) Bytes() []byte           { return make([]byte, 4096) }
func (p *nullPage) Unpin(dirty bool)        {}

// nullStore stands in for the disk and buffer manager this core treats as
// an external collaborator (§1, §6): the CLI operates on the log alone, so
// Restart's Redo/Undo passes need something to apply page effects against
// without this process owning a real page store. It reports every page as
// clean, so a checkpoint taken here never carries a nonempty DPT forward.
type nullStore struct{}

func (nullStore) PartNum(page primitives.PageID) primitives.PartitionID { return page.Part }
func (nullStore) AllocatePart() (primitives.PartitionID, error)         { return 1, nil }
func (nullStore) FreePart(part primitives.PartitionID) error            { return nil }
func (nullStore) ReallocatePart(part primitives.PartitionID) error      { return nil }

func (nullStore) AllocatePage(part primitives.PartitionID) (primitives.PageID, error) {
	return primitives.PageID{Part: part}, nil
}
func (nullStore) FreePage(page primitives.PageID) error       { return nil }
func (nullStore) ReallocatePage(page primitives.PageID) error { return nil }
func (nullStore) ReadPage(page primitives.PageID) ([]byte, error) {
	return make([]byte, 4096), nil
}
func (nullStore) WritePage(page primitives.PageID, data []byte) error { return nil }

func (nullStore) FetchPage(ctx context.Context, page primitives.PageID) (storage.Page, error) {
	return &nullPage{id: page}, nil
}
func (nullStore) IterPages(fn func(page primitives.PageID, dirty bool)) {}
func (nullStore) EffectivePageSize() int                                { return 4096 }
