package recovery

import (
	"container/heap"
	"context"
	"io"
	"time"

	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/log/record"
	"coredb/pkg/logging"
	"coredb/pkg/metrics"
	"coredb/pkg/primitives"

	"go.uber.org/zap"
)

// Restart runs the three ARIES passes against whatever the log contains —
// Analysis rebuilds DPT/XT from the last checkpoint, Redo replays every
// update the crashed process might not have flushed, Undo rolls back every
// transaction that was neither committed nor already ended — and finishes
// by taking a fresh checkpoint so a second crash before any forward
// progress starts from a cheap Analysis scan. New engineering: the
// teacher's WAL has no restart path of its own to generalize from.
func (m *Manager) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.xt = make(map[int64]*xtEntry)
	m.dpt = newDirtyPageTable()
	m.redoComplete = false

	if err := m.restartAnalysis(); err != nil {
		logging.WithError(err).Error("restart analysis phase failed")
		return err
	}
	if err := m.restartRedo(); err != nil {
		logging.WithError(err).Error("restart redo phase failed")
		return err
	}
	m.redoComplete = true
	if err := m.restartUndo(); err != nil {
		logging.WithError(err).Error("restart undo phase failed")
		return err
	}
	return m.checkpointLocked()
}

// scanFrom opens a forward reader at lsn and calls visit for every record
// until the log ends, translating io.EOF into a clean nil return.
func (m *Manager) scanFrom(lsn primitives.LSN, visit func(*record.Record) error) error {
	r, err := m.log.NewReader(lsn)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
}

// promoteStatus implements the legal-transition rule an END_CHECKPOINT
// merge must obey: a RUNNING entry may be promoted to COMMITTING or (for
// a checkpointed ABORTING transaction) RECOVERY_ABORTING, but status never
// regresses once advanced past RUNNING.
func promoteStatus(current, checkpointed transaction.Status) transaction.Status {
	if current != transaction.Running {
		return current
	}
	switch checkpointed {
	case transaction.Committing:
		return transaction.Committing
	case transaction.Aborting, transaction.RecoveryAborting:
		return transaction.RecoveryAborting
	default:
		return current
	}
}

// restartAnalysis reads the master record, scans forward from the
// checkpoint begin, and rebuilds DPT/XT exactly as a running system would
// have had them at the moment of the crash.
func (m *Manager) restartAnalysis() error {
	start := time.Now()
	defer func() {
		metrics.RecoveryPhaseSeconds.WithLabelValues("analysis").Observe(time.Since(start).Seconds())
	}()

	beginLSN, err := m.log.ReadMaster()
	if err != nil {
		logging.WithComponent("recovery.restart").Error("analysis failed to read master record", zap.Error(err))
		return err
	}
	logging.WithComponent("recovery.restart").Info("analysis scanning from checkpoint begin", zap.Uint64("lsn", uint64(beginLSN)))

	ended := make(map[int64]bool)

	err = m.scanFrom(beginLSN, func(rec *record.Record) error {
		if rec.TxnID != 0 {
			e, ok := m.xt[rec.TxnID]
			if !ok {
				e = newXTEntry(m.factory(rec.TxnID))
				m.xt[rec.TxnID] = e
			}
			e.lastLSN = rec.LSN

			switch rec.Type {
			case record.CommitTxn:
				e.setStatus(transaction.Committing)
			case record.AbortTxn:
				e.setStatus(transaction.RecoveryAborting)
			case record.EndTxn:
				e.handle.Cleanup()
				e.setStatus(transaction.Complete)
				delete(m.xt, rec.TxnID)
				ended[rec.TxnID] = true
			}
		}

		switch rec.Type {
		case record.UpdatePage, record.UndoUpdatePage:
			m.dpt.InsertIfAbsent(rec.Page, rec.LSN)
		case record.FreePage, record.UndoAllocPage:
			if err := m.log.Flush(rec.LSN); err != nil {
				return err
			}
			m.dpt.Remove(rec.Page)
		case record.AllocPage, record.UndoFreePage:
			// no DPT change
		}

		if rec.Type == record.EndCheckpoint {
			for _, d := range rec.DPT {
				m.dpt.Set(d.Page, d.RecLSN)
			}
			for _, x := range rec.XT {
				if ended[x.TxnID] {
					continue
				}
				e, ok := m.xt[x.TxnID]
				if !ok {
					e = newXTEntry(m.factory(x.TxnID))
					m.xt[x.TxnID] = e
				}
				if x.LastLSN > e.lastLSN {
					e.lastLSN = x.LastLSN
				}
				e.setStatus(promoteStatus(e.status, transaction.Status(x.Status)))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for txnID, e := range m.xt {
		switch e.status {
		case transaction.Committing:
			e.handle.Cleanup()
			e.setStatus(transaction.Complete)
			if _, err := m.log.Append(&record.Record{Type: record.EndTxn, TxnID: txnID, PrevLSN: e.lastLSN, Timestamp: time.Now().Unix()}); err != nil {
				return err
			}
			delete(m.xt, txnID)
		case transaction.Running:
			e.setStatus(transaction.RecoveryAborting)
			lsn, err := m.log.Append(&record.Record{Type: record.AbortTxn, TxnID: txnID, PrevLSN: e.lastLSN, Timestamp: time.Now().Unix()})
			if err != nil {
				return err
			}
			e.lastLSN = lsn
		case transaction.RecoveryAborting:
			// leave as is
		}
	}

	metrics.DirtyPageTableSize.Set(float64(m.dpt.Len()))
	metrics.TransactionTableSize.Set(float64(len(m.xt)))
	logging.WithComponent("recovery.restart").Info("analysis complete",
		zap.Int("dirty_pages", m.dpt.Len()), zap.Int("active_txns", len(m.xt)))
	return nil
}

// allocationStyle reports whether t is redone unconditionally regardless
// of DPT/pageLSN state.
func allocationStyle(t record.Type) bool {
	switch t {
	case record.AllocPart, record.FreePart, record.UndoAllocPart, record.UndoFreePart,
		record.AllocPage, record.UndoFreePage:
		return true
	default:
		return false
	}
}

// pageModifying reports whether t is redone conditionally on the DPT and
// on-disk pageLSN.
func pageModifying(t record.Type) bool {
	switch t {
	case record.UpdatePage, record.UndoUpdatePage, record.FreePage, record.UndoAllocPage:
		return true
	default:
		return false
	}
}

// restartRedo replays every record the crashed process might not have
// flushed, starting from the earliest recLSN still in the DPT, then
// reconciles the DPT against what the buffer pool reports as actually
// dirty.
func (m *Manager) restartRedo() error {
	start := time.Now()
	defer func() {
		metrics.RecoveryPhaseSeconds.WithLabelValues("redo").Observe(time.Since(start).Seconds())
	}()

	redoStart, ok := m.dpt.Min()
	if ok {
		if err := m.scanFrom(redoStart, func(rec *record.Record) error {
			switch {
			case allocationStyle(rec.Type):
				return m.apply(rec)
			case pageModifying(rec.Type):
				recLSN, tracked := m.dpt.Get(rec.Page)
				if !tracked || recLSN > rec.LSN {
					return nil
				}
				onDisk, err := m.currentPageLSN(rec.Page)
				if err != nil {
					return err
				}
				if onDisk >= rec.LSN {
					return nil
				}
				return m.apply(rec)
			default:
				return nil
			}
		}); err != nil {
			return err
		}
	}

	dirty := make(map[primitives.PageID]bool)
	m.buffer.IterPages(func(page primitives.PageID, isDirty bool) {
		if isDirty {
			dirty[page] = true
		}
	})
	m.dpt.RetainOnly(dirty)

	metrics.DirtyPageTableSize.Set(float64(m.dpt.Len()))
	logging.WithComponent("recovery.restart").Info("redo complete", zap.Int("dirty_pages", m.dpt.Len()))
	return nil
}

// currentPageLSN reads a page's on-disk LSN stamp by fetching it through
// the buffer pool and immediately unpinning it clean.
func (m *Manager) currentPageLSN(page primitives.PageID) (primitives.LSN, error) {
	p, err := m.buffer.FetchPage(context.Background(), page)
	if err != nil {
		return 0, err
	}
	lsn := p.LSN()
	p.Unpin(false)
	return lsn, nil
}

// undoHeapItem is one pending chain-walk position in restart_undo's
// max-heap, keyed so the greatest LSN across every aborting transaction
// is always undone next.
type undoHeapItem struct {
	lsn   primitives.LSN
	txnID int64
}

type undoHeap []undoHeapItem

func (h undoHeap) Len() int            { return len(h) }
func (h undoHeap) Less(i, j int) bool  { return h[i].lsn > h[j].lsn }
func (h undoHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *undoHeap) Push(x interface{}) { *h = append(*h, x.(undoHeapItem)) }
func (h *undoHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// restartUndo rolls every RECOVERY_ABORTING transaction's chain back to
// its start, interleaving the walk across all of them by always undoing
// the globally greatest pending LSN next.
func (m *Manager) restartUndo() error {
	start := time.Now()
	defer func() {
		metrics.RecoveryPhaseSeconds.WithLabelValues("undo").Observe(time.Since(start).Seconds())
	}()

	h := &undoHeap{}
	for txnID, e := range m.xt {
		if e.lastLSN != primitives.NoLSN {
			heap.Push(h, undoHeapItem{lsn: e.lastLSN, txnID: txnID})
		}
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(undoHeapItem)
		e, ok := m.xt[top.txnID]
		if !ok {
			continue
		}

		next, err := m.undoStep(e, top.lsn)
		if err != nil {
			logging.WithError(err).Error("restart undo step failed", zap.Int64("tx_id", top.txnID), zap.Uint64("lsn", uint64(top.lsn)))
			return err
		}

		if next == primitives.NoLSN {
			if _, err := m.log.Append(&record.Record{Type: record.EndTxn, TxnID: top.txnID, PrevLSN: e.lastLSN, Timestamp: time.Now().Unix()}); err != nil {
				return err
			}
			e.handle.Cleanup()
			e.setStatus(transaction.Complete)
			delete(m.xt, top.txnID)
			continue
		}
		heap.Push(h, undoHeapItem{lsn: next, txnID: top.txnID})
	}

	metrics.TransactionTableSize.Set(float64(len(m.xt)))
	logging.WithComponent("recovery.restart").Info("undo complete")
	return nil
}
