package recovery

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/config"
	"coredb/pkg/log"
	"coredb/pkg/primitives"
	"coredb/pkg/storage"
)

// fakePage is a minimal storage.Page: a byte slice plus the pageLSN stamp
// the WAL invariant governs.
type fakePage struct {
	id   primitives.PageID
	lsn  primitives.LSN
	data []byte
}

func (p *fakePage) ID() primitives.PageID   { return p.id }
func (p *fakePage) LSN() primitives.LSN     { return p.lsn }
func (p *fakePage) SetLSN(l primitives.LSN) { p.lsn = l }
func (p *fakePage) Bytes() []byte           { return p.data }
func (p *fakePage) Unpin(dirty bool)        {}

// fakeStore is a single in-memory implementation of both storage.DiskManager
// and storage.BufferManager, good enough to exercise the recovery manager's
// apply/redo/undo paths without a real disk or buffer pool (both out of
// scope — see SPEC_FULL.md §1). Pages "fetched" are served directly out of
// the same backing map a real buffer pool would eventually write back, so
// IterPages and FetchPage observe the same state recovery mutates.
type fakeStore struct {
	pages     map[primitives.PageID]*fakePage
	freed     map[primitives.PageID]bool
	nextPage  map[primitives.PartitionID]uint32
	nextPart  primitives.PartitionID
	dirty     map[primitives.PageID]bool
	pageBytes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pages:     make(map[primitives.PageID]*fakePage),
		freed:     make(map[primitives.PageID]bool),
		nextPage:  make(map[primitives.PartitionID]uint32),
		dirty:     make(map[primitives.PageID]bool),
		pageBytes: 64,
	}
}

func (s *fakeStore) PartNum(page primitives.PageID) primitives.PartitionID { return page.Part }

func (s *fakeStore) AllocatePart() (primitives.PartitionID, error) {
	s.nextPart++
	return s.nextPart, nil
}

func (s *fakeStore) FreePart(part primitives.PartitionID) error { return nil }

func (s *fakeStore) ReallocatePart(part primitives.PartitionID) error { return nil }

func (s *fakeStore) AllocatePage(part primitives.PartitionID) (primitives.PageID, error) {
	n := s.nextPage[part]
	s.nextPage[part] = n + 1
	page := primitives.PageID{Part: part, Page: n}
	s.pages[page] = &fakePage{id: page, data: make([]byte, s.pageBytes)}
	delete(s.freed, page)
	return page, nil
}

func (s *fakeStore) FreePage(page primitives.PageID) error {
	s.freed[page] = true
	delete(s.dirty, page)
	return nil
}

func (s *fakeStore) ReallocatePage(page primitives.PageID) error {
	delete(s.freed, page)
	if _, ok := s.pages[page]; !ok {
		s.pages[page] = &fakePage{id: page, data: make([]byte, s.pageBytes)}
	}
	return nil
}

func (s *fakeStore) ReadPage(page primitives.PageID) ([]byte, error) {
	p, ok := s.pages[page]
	if !ok {
		return make([]byte, s.pageBytes), nil
	}
	return p.data, nil
}

func (s *fakeStore) WritePage(page primitives.PageID, data []byte) error {
	p := s.pageOrNew(page)
	copy(p.data, data)
	delete(s.dirty, page)
	return nil
}

func (s *fakeStore) pageOrNew(page primitives.PageID) *fakePage {
	p, ok := s.pages[page]
	if !ok {
		p = &fakePage{id: page, data: make([]byte, s.pageBytes)}
		s.pages[page] = p
	}
	return p
}

func (s *fakeStore) FetchPage(ctx context.Context, page primitives.PageID) (storage.Page, error) {
	p := s.pageOrNew(page)
	s.dirty[page] = true
	return p, nil
}

func (s *fakeStore) IterPages(fn func(page primitives.PageID, dirty bool)) {
	for page := range s.pages {
		fn(page, s.dirty[page])
	}
}

func (s *fakeStore) EffectivePageSize() int { return s.pageBytes }

func newTestManager(t *testing.T) (*Manager, *fakeStore, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "coredb_recovery_test_*")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.LogDir = dir
	cfg.LogWriteBufferBytes = 1 // flush-on-every-append, so reads see fresh state without an explicit Flush

	logMgr, err := log.Open(cfg)
	require.NoError(t, err)

	store := newFakeStore()
	factory := func(txnID int64) transaction.Handle {
		h := transaction.NewSimpleHandle()
		return &fixedIDHandle{SimpleHandle: h, txnID: txnID}
	}

	mgr := NewManager(cfg, logMgr, store, store, factory)
	return mgr, store, func() { os.RemoveAll(dir) }
}

// fixedIDHandle overrides SimpleHandle's randomly-allocated id so
// restart_analysis's factory-constructed handles carry the exact id a log
// record named, rather than a fresh process-unique one.
type fixedIDHandle struct {
	*transaction.SimpleHandle
	txnID int64
}

func (h *fixedIDHandle) TransNum() int64 { return h.txnID }
