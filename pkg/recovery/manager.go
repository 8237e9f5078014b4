// Package recovery implements the ARIES recovery manager: an in-memory
// Dirty Page Table and Transaction Table layered over pkg/log's append-
// only record stream, with forward-path logging operations, rollback,
// checkpointing, and the three-pass restart algorithm. Grounded on the
// teacher's pkg/log/wal.WAL (LogBegin/LogCommit/LogAbort/LogUpdate,
// dirty-page tracking, Force) generalized from three record kinds to the
// full ARIES taxonomy; the teacher implements no restart path at all, so
// Analysis/Redo/Undo (restart.go) are new engineering built directly from
// the ARIES algorithm, following the teacher's map-behind-a-mutex shape
// for XT/DPT.
package recovery

import (
	"context"
	"sync"
	"time"

	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/config"
	"coredb/pkg/dberrors"
	"coredb/pkg/log"
	"coredb/pkg/log/record"
	"coredb/pkg/logging"
	"coredb/pkg/metrics"
	"coredb/pkg/primitives"
	"coredb/pkg/storage"

	"go.uber.org/zap"
)

// Manager is the ARIES recovery manager. Forward-path methods (Start
// through DiskIOHook) are called by execution and storage as transactions
// run; Restart and Checkpoint are called at process startup/shutdown.
// Mutating methods are serialized by mu, per §5's "DPT and XT ... mutating
// methods are serialized by a recovery manager mutex".
type Manager struct {
	mu sync.Mutex

	log     *log.Manager
	disk    storage.DiskManager
	buffer  storage.BufferManager
	cfg     config.Config
	factory Factory

	xt  map[int64]*xtEntry
	dpt *dirtyPageTable

	// redoComplete gates DiskIOHook: during restart_redo, DPT entries
	// must survive page evictions so recLSN information isn't lost
	// mid-pass (§5).
	redoComplete bool
}

// NewManager constructs a recovery manager bound to an already-open log.
func NewManager(cfg config.Config, logMgr *log.Manager, disk storage.DiskManager, buffer storage.BufferManager, factory Factory) *Manager {
	return &Manager{
		log:          logMgr,
		disk:         disk,
		buffer:       buffer,
		cfg:          cfg,
		factory:      factory,
		xt:           make(map[int64]*xtEntry),
		dpt:          newDirtyPageTable(),
		redoComplete: true,
	}
}

// Start registers a new transaction in the Transaction Table.
func (m *Manager) Start(txn transaction.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.xt[txn.TransNum()]; ok {
		return dberrors.New(dberrors.ErrCategorySystem, "DUPLICATE_TRANSACTION", "transaction already started")
	}
	m.xt[txn.TransNum()] = newXTEntry(txn)
	return nil
}

func (m *Manager) entry(txnID int64) (*xtEntry, error) {
	e, ok := m.xt[txnID]
	if !ok {
		return nil, dberrors.New(dberrors.ErrCategorySystem, "UNKNOWN_TRANSACTION", "transaction not in the transaction table")
	}
	return e, nil
}

// LogPageWrite appends an UPDATE_PAGE record and, if page was not already
// dirty, inserts it into the DPT at the new LSN.
func (m *Manager) LogPageWrite(txnID int64, page primitives.PageID, offset uint16, before, after []byte) (primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(txnID)
	if err != nil {
		return 0, err
	}

	rec := &record.Record{
		Type:      record.UpdatePage,
		TxnID:     txnID,
		PrevLSN:   e.lastLSN,
		Timestamp: time.Now().Unix(),
		Page:      page,
		Offset:    offset,
		Before:    before,
		After:     after,
	}
	lsn, err := m.log.Append(rec)
	if err != nil {
		return 0, err
	}
	e.lastLSN = lsn
	e.touchedPages[page] = true
	m.dpt.InsertIfAbsent(page, lsn)
	return lsn, nil
}

// logAllocationRecord is the shared body of LogAllocPart/FreePart/
// AllocPage/FreePage: append, advance last_LSN, flush through the new
// LSN (§4.6: "append the record, update T.last_LSN, flush the log up to
// that LSN").
func (m *Manager) logAllocationRecord(e *xtEntry, rec *record.Record) (primitives.LSN, error) {
	rec.PrevLSN = e.lastLSN
	rec.Timestamp = time.Now().Unix()
	lsn, err := m.log.Append(rec)
	if err != nil {
		return 0, err
	}
	e.lastLSN = lsn
	if err := m.log.Flush(lsn); err != nil {
		return 0, err
	}
	return lsn, nil
}

// LogAllocPart mints a new partition, logs it, and flushes.
func (m *Manager) LogAllocPart(txnID int64) (primitives.PartitionID, primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(txnID)
	if err != nil {
		return 0, 0, err
	}
	part, err := m.disk.AllocatePart()
	if err != nil {
		return 0, 0, err
	}
	lsn, err := m.logAllocationRecord(e, &record.Record{Type: record.AllocPart, TxnID: txnID, Partition: part})
	return part, lsn, err
}

// LogFreePart frees an existing partition, logs it, and flushes.
func (m *Manager) LogFreePart(txnID int64, part primitives.PartitionID) (primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(txnID)
	if err != nil {
		return 0, err
	}
	if err := m.disk.FreePart(part); err != nil {
		return 0, err
	}
	return m.logAllocationRecord(e, &record.Record{Type: record.FreePart, TxnID: txnID, Partition: part})
}

// LogAllocPage mints a new page within part, logs it, and flushes.
func (m *Manager) LogAllocPage(txnID int64, part primitives.PartitionID) (primitives.PageID, primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(txnID)
	if err != nil {
		return primitives.PageID{}, 0, err
	}
	page, err := m.disk.AllocatePage(part)
	if err != nil {
		return primitives.PageID{}, 0, err
	}
	lsn, err := m.logAllocationRecord(e, &record.Record{Type: record.AllocPage, TxnID: txnID, Page: page})
	return page, lsn, err
}

// LogFreePage frees page, logs it, flushes, and removes page from the DPT
// (§4.6: "free_page additionally removes the page from DPT").
func (m *Manager) LogFreePage(txnID int64, page primitives.PageID) (primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(txnID)
	if err != nil {
		return 0, err
	}
	if err := m.disk.FreePage(page); err != nil {
		return 0, err
	}
	lsn, err := m.logAllocationRecord(e, &record.Record{Type: record.FreePage, TxnID: txnID, Page: page})
	if err != nil {
		return 0, err
	}
	m.dpt.Remove(page)
	return lsn, nil
}

// Commit appends COMMIT_TXN, advances status, and flushes through the
// commit LSN before returning it — durability at commit, following the
// teacher's LogCommit forcing the log before it returns.
func (m *Manager) Commit(txnID int64) (primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(txnID)
	if err != nil {
		return 0, err
	}
	lsn, err := m.logAllocationRecord(e, &record.Record{Type: record.CommitTxn, TxnID: txnID})
	if err != nil {
		return 0, err
	}
	e.setStatus(transaction.Committing)
	logging.WithTx(txnID).Debug("transaction committing", zap.Uint64("lsn", uint64(lsn)))
	return lsn, nil
}

// Abort appends ABORT_TXN and marks the transaction aborting. It performs
// no rollback itself — that happens in End.
func (m *Manager) Abort(txnID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(txnID)
	if err != nil {
		return err
	}
	rec := &record.Record{Type: record.AbortTxn, TxnID: txnID, PrevLSN: e.lastLSN, Timestamp: time.Now().Unix()}
	lsn, err := m.log.Append(rec)
	if err != nil {
		return err
	}
	e.lastLSN = lsn
	e.setStatus(transaction.Aborting)
	return nil
}

// End finalizes a transaction: rolling back to LSN 0 first if it is
// aborting, then appending END_TXN, marking it complete, and removing it
// from the Transaction Table.
func (m *Manager) End(txnID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(txnID)
}

func (m *Manager) endLocked(txnID int64) error {
	e, err := m.entry(txnID)
	if err != nil {
		return err
	}

	if e.status == transaction.Aborting || e.status == transaction.RecoveryAborting {
		if err := m.rollbackToLSN(e, primitives.NoLSN); err != nil {
			return err
		}
	}

	rec := &record.Record{Type: record.EndTxn, TxnID: txnID, PrevLSN: e.lastLSN, Timestamp: time.Now().Unix()}
	if _, err := m.log.Append(rec); err != nil {
		return err
	}
	e.setStatus(transaction.Complete)
	delete(m.xt, txnID)
	e.handle.Cleanup()
	return nil
}

// Savepoint records name -> T.last_LSN, overwriting any prior savepoint
// of the same name (no savepoint-naming policy beyond overwrite, per §1's
// stated non-goal).
func (m *Manager) Savepoint(txnID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(txnID)
	if err != nil {
		return err
	}
	e.savepoints[name] = e.lastLSN
	return nil
}

// RollbackToSavepoint rolls the transaction back to the LSN recorded
// under name.
func (m *Manager) RollbackToSavepoint(txnID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(txnID)
	if err != nil {
		return err
	}
	lsn, ok := e.savepoints[name]
	if !ok {
		return dberrors.New(dberrors.ErrCategoryUser, "UNKNOWN_SAVEPOINT", "no savepoint with that name")
	}
	return m.rollbackToLSN(e, lsn)
}

// PageFlushHook enforces the WAL rule before a page with pageLSN reaches
// disk: the log must be durable at least through pageLSN.
func (m *Manager) PageFlushHook(pageLSN primitives.LSN) error {
	return m.log.Flush(pageLSN)
}

// DiskIOHook is called whenever a page is actually written to disk. Once
// redo has completed, the page is no longer dirty from the WAL's
// perspective and can leave the DPT; during redo itself this is
// suppressed so recLSN information survives buffer evictions mid-pass.
func (m *Manager) DiskIOHook(page primitives.PageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redoComplete {
		m.dpt.Remove(page)
	}
}

// Checkpoint appends BEGIN_CHECKPOINT, streams the DPT and XT into one or
// more END_CHECKPOINT records bounded by cfg.CheckpointRecordBudgetBytes,
// flushes, and rewrites the master record to point at the begin-LSN.
func (m *Manager) Checkpoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpointLocked()
}

func (m *Manager) checkpointLocked() error {
	start := time.Now()
	beginLSN, err := m.log.Append(&record.Record{Type: record.BeginCheckpoint, Timestamp: time.Now().Unix()})
	if err != nil {
		return err
	}

	dptEntries := m.dpt.Snapshot()
	xtEntries := make([]record.XTEntry, 0, len(m.xt))
	for id, e := range m.xt {
		xtEntries = append(xtEntries, record.XTEntry{
			TxnID:       id,
			LastLSN:     e.lastLSN,
			Status:      int32(e.status),
			UndoNextLSN: primitives.NoLSN,
		})
	}

	var lastLSN primitives.LSN
	budget := m.cfg.CheckpointRecordBudgetBytes
	if budget <= 0 {
		budget = 1
	}
	for {
		dptChunk, dptRest := splitDPT(dptEntries, budget)
		xtChunk, xtRest := splitXT(xtEntries, budget-len(dptChunk)*checkpointDPTEntryBytes)

		lsn, err := m.log.Append(&record.Record{
			Type:      record.EndCheckpoint,
			Timestamp: time.Now().Unix(),
			DPT:       dptChunk,
			XT:        xtChunk,
		})
		if err != nil {
			return err
		}
		lastLSN = lsn

		dptEntries, xtEntries = dptRest, xtRest
		if len(dptEntries) == 0 && len(xtEntries) == 0 {
			break
		}
	}

	if err := m.log.Flush(lastLSN); err != nil {
		return err
	}
	if err := m.log.WriteMaster(beginLSN); err != nil {
		return err
	}

	metrics.RecoveryPhaseSeconds.WithLabelValues("checkpoint").Observe(time.Since(start).Seconds())
	metrics.DirtyPageTableSize.Set(float64(m.dpt.Len()))
	metrics.TransactionTableSize.Set(float64(len(m.xt)))
	return nil
}

// checkpointDPTEntryBytes and checkpointXTEntryBytes are the static
// per-entry size predicates §4.6 calls for ("starting a new end-record
// whenever the next entry would no longer fit"): 4 bytes partition + 4
// bytes page + 8 bytes LSN for a DPT entry, 8+8+4+8 for an XT entry.
const (
	checkpointDPTEntryBytes = 16
	checkpointXTEntryBytes  = 28
)

func splitDPT(entries []record.DPTEntry, budgetBytes int) (chunk, rest []record.DPTEntry) {
	max := budgetBytes / checkpointDPTEntryBytes
	if max <= 0 {
		max = 1
	}
	if len(entries) <= max {
		return entries, nil
	}
	return entries[:max], entries[max:]
}

func splitXT(entries []record.XTEntry, budgetBytes int) (chunk, rest []record.XTEntry) {
	max := budgetBytes / checkpointXTEntryBytes
	if max <= 0 {
		max = 1
	}
	if len(entries) <= max {
		return entries, nil
	}
	return entries[:max], entries[max:]
}

// readRecordAt fetches exactly one record at lsn, exploiting the
// LSN-as-byte-offset invariant to seek directly rather than scanning from
// the start of the log. NewReader only ever sees the durable portion of
// the log file, but undo/restart may need to read a record still sitting
// in the log manager's write buffer (LogPageWrite and Abort do not flush,
// per §4.6) — so the target LSN is flushed through first.
func (m *Manager) readRecordAt(lsn primitives.LSN) (*record.Record, error) {
	if err := m.log.Flush(lsn); err != nil {
		return nil, err
	}
	reader, err := m.log.NewReader(lsn)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.Next()
}

// undoable reports whether t has a physical effect rollback can reverse.
func undoable(t record.Type) bool {
	switch t {
	case record.UpdatePage, record.AllocPage, record.FreePage, record.AllocPart, record.FreePart:
		return true
	default:
		return false
	}
}

// compensate builds the CLR that reverses rec's physical effect. prevLSN
// is the CLR's own prev_LSN (the writer's current last_LSN, per §4.6);
// the CLR's undo_next_LSN is always rec's own prev_LSN, so a later
// rollback skips straight past the now-undone record.
func compensate(rec *record.Record, prevLSN primitives.LSN) (*record.Record, bool) {
	clr := &record.Record{
		TxnID:       rec.TxnID,
		PrevLSN:     prevLSN,
		UndoNextLSN: rec.PrevLSN,
		Timestamp:   time.Now().Unix(),
	}
	switch rec.Type {
	case record.UpdatePage:
		clr.Type = record.UndoUpdatePage
		clr.Page = rec.Page
		clr.Offset = rec.Offset
		clr.After = rec.Before
	case record.AllocPage:
		clr.Type = record.UndoAllocPage
		clr.Page = rec.Page
	case record.FreePage:
		clr.Type = record.UndoFreePage
		clr.Page = rec.Page
	case record.AllocPart:
		clr.Type = record.UndoAllocPart
		clr.Partition = rec.Partition
	case record.FreePart:
		clr.Type = record.UndoFreePart
		clr.Partition = rec.Partition
	default:
		return nil, false
	}
	return clr, true
}

// apply performs rec's physical effect against storage. Used both to
// apply a freshly built CLR during rollback/undo and to redo an already-
// logged record during restart_redo.
func (m *Manager) apply(rec *record.Record) error {
	ctx := context.Background()
	switch rec.Type {
	case record.UpdatePage, record.UndoUpdatePage:
		page, err := m.buffer.FetchPage(ctx, rec.Page)
		if err != nil {
			return err
		}
		copy(page.Bytes()[rec.Offset:], rec.After)
		page.SetLSN(rec.LSN)
		page.Unpin(true)
		logging.WithPage(rec.Page.String()).Debug("applied log record", zap.Stringer("type", rec.Type), zap.Uint64("lsn", uint64(rec.LSN)))
		return nil
	case record.AllocPage:
		return m.disk.ReallocatePage(rec.Page)
	case record.FreePage, record.UndoAllocPage:
		return m.disk.FreePage(rec.Page)
	case record.UndoFreePage:
		return m.disk.ReallocatePage(rec.Page)
	case record.AllocPart:
		return m.disk.ReallocatePart(rec.Partition)
	case record.FreePart, record.UndoAllocPart:
		return m.disk.FreePart(rec.Partition)
	case record.UndoFreePart:
		return m.disk.ReallocatePart(rec.Partition)
	default:
		return nil
	}
}

// rollbackToLSN walks e's log chain backward from its current last_LSN,
// compensating every undoable record with LSN > l, stopping once the walk
// reaches l or the chain ends. Shared by End's abort rollback,
// RollbackToSavepoint, and restart_undo's per-step logic (undoStep).
func (m *Manager) rollbackToLSN(e *xtEntry, l primitives.LSN) error {
	walk := e.lastLSN
	for walk > l {
		next, err := m.undoStep(e, walk)
		if err != nil {
			return err
		}
		walk = next
	}
	return nil
}

// undoStep processes the single record at walk: if it is already a CLR,
// it is skipped by following its undo_next_LSN (the segment it covers was
// already undone by an earlier rollback); if it is undoable, a new CLR is
// built, appended, applied, and e.lastLSN is advanced. Returns the next
// LSN to visit.
func (m *Manager) undoStep(e *xtEntry, walk primitives.LSN) (primitives.LSN, error) {
	rec, err := m.readRecordAt(walk)
	if err != nil {
		return 0, err
	}

	if rec.Type.IsCLR() {
		return rec.UndoNextLSN, nil
	}
	if !undoable(rec.Type) {
		return rec.PrevLSN, nil
	}

	clr, ok := compensate(rec, e.lastLSN)
	if !ok {
		return rec.PrevLSN, nil
	}
	lsn, err := m.log.Append(clr)
	if err != nil {
		return 0, err
	}
	clr.LSN = lsn
	if err := m.apply(clr); err != nil {
		return 0, err
	}
	e.lastLSN = lsn
	return rec.PrevLSN, nil
}

// Close flushes and closes the log. The disk and buffer managers are
// collaborators the caller opened and owns the lifecycle of; recovery
// never closes resources it did not itself open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.Close()
}
