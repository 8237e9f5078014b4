package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/pkg/concurrency/transaction"
)

func TestLogPageWriteTracksDirtyPage(t *testing.T) {
	mgr, store, cleanup := newTestManager(t)
	defer cleanup()

	part, err := store.AllocatePart()
	require.NoError(t, err)
	page, err := store.AllocatePage(part)
	require.NoError(t, err)

	txn := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(txn))

	lsn, err := mgr.LogPageWrite(txn.TransNum(), page, 0, []byte{0, 0}, []byte{1, 2})
	require.NoError(t, err)
	require.NotZero(t, lsn)

	recLSN, tracked := mgr.dpt.Get(page)
	require.True(t, tracked)
	require.Equal(t, lsn, recLSN)
}

func TestLogFreePageRemovesFromDirtyPageTable(t *testing.T) {
	mgr, store, cleanup := newTestManager(t)
	defer cleanup()

	part, err := store.AllocatePart()
	require.NoError(t, err)
	page, err := store.AllocatePage(part)
	require.NoError(t, err)

	txn := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(txn))
	_, err = mgr.LogPageWrite(txn.TransNum(), page, 0, []byte{0}, []byte{1})
	require.NoError(t, err)

	_, err = mgr.LogFreePage(txn.TransNum(), page)
	require.NoError(t, err)

	_, tracked := mgr.dpt.Get(page)
	require.False(t, tracked)
}

func TestAbortThenEndRollsBackPageWrite(t *testing.T) {
	mgr, store, cleanup := newTestManager(t)
	defer cleanup()

	part, err := store.AllocatePart()
	require.NoError(t, err)
	page, err := store.AllocatePage(part)
	require.NoError(t, err)

	before := []byte{9, 9, 9, 9}
	after := []byte{1, 2, 3, 4}

	txn := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(txn))
	_, err = mgr.LogPageWrite(txn.TransNum(), page, 0, before, after)
	require.NoError(t, err)

	// Simulate the write having actually reached the buffer pool, the way
	// a real executor would before ever rolling back.
	_, err = store.FetchPage(nil, page)
	require.NoError(t, err)
	require.NoError(t, store.WritePage(page, after))

	require.NoError(t, mgr.Abort(txn.TransNum()))
	require.NoError(t, mgr.End(txn.TransNum()))

	got, err := store.ReadPage(page)
	require.NoError(t, err)
	require.Equal(t, before, got[:len(before)])

	_, err = mgr.entry(txn.TransNum())
	require.Error(t, err, "End should remove the transaction from the table")
}

func TestSavepointRollbackUndoesOnlyLaterWrites(t *testing.T) {
	mgr, store, cleanup := newTestManager(t)
	defer cleanup()

	part, err := store.AllocatePart()
	require.NoError(t, err)
	page, err := store.AllocatePage(part)
	require.NoError(t, err)

	txn := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(txn))

	_, err = mgr.LogPageWrite(txn.TransNum(), page, 0, []byte{0, 0, 0, 0}, []byte{1, 1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, mgr.Savepoint(txn.TransNum(), "sp1"))
	_, err = mgr.LogPageWrite(txn.TransNum(), page, 0, []byte{1, 1, 1, 1}, []byte{2, 2, 2, 2})
	require.NoError(t, err)

	require.NoError(t, mgr.RollbackToSavepoint(txn.TransNum(), "sp1"))

	got, err := store.ReadPage(page)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1}, got[:4])
}

func TestRollbackToUnknownSavepointFails(t *testing.T) {
	mgr, _, cleanup := newTestManager(t)
	defer cleanup()

	txn := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(txn))
	err := mgr.RollbackToSavepoint(txn.TransNum(), "nope")
	require.Error(t, err)
}

func TestCheckpointWritesMasterRecord(t *testing.T) {
	mgr, store, cleanup := newTestManager(t)
	defer cleanup()

	part, err := store.AllocatePart()
	require.NoError(t, err)
	page, err := store.AllocatePage(part)
	require.NoError(t, err)

	txn := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(txn))
	_, err = mgr.LogPageWrite(txn.TransNum(), page, 0, []byte{0}, []byte{1})
	require.NoError(t, err)

	require.NoError(t, mgr.Checkpoint())

	masterLSN, err := mgr.log.ReadMaster()
	require.NoError(t, err)
	require.NotZero(t, masterLSN)
}

// TestRestartResolvesScenarioSixMixedCommitAndCrash exercises the worked
// restart scenario: one transaction committed but never ended, a second
// left running, a checkpoint taken, then a crash. Restart must end the
// first transaction outright, abort-and-undo the second, and leave the
// dirty page table holding only pages the buffer pool still reports dirty.
func TestRestartResolvesScenarioSixMixedCommitAndCrash(t *testing.T) {
	mgr, store, cleanup := newTestManager(t)
	defer cleanup()

	part, err := store.AllocatePart()
	require.NoError(t, err)
	p1, err := store.AllocatePage(part)
	require.NoError(t, err)
	p2, err := store.AllocatePage(part)
	require.NoError(t, err)

	before1, after1 := []byte{0, 0, 0, 0}, []byte{1, 2, 3, 4}
	before2, after2 := []byte{9, 9, 9, 9}, []byte{5, 6, 7, 8}

	t1 := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(t1))
	_, err = mgr.LogPageWrite(t1.TransNum(), p1, 0, before1, after1)
	require.NoError(t, err)
	_, err = mgr.Commit(t1.TransNum())
	require.NoError(t, err)

	t2 := transaction.NewSimpleHandle()
	require.NoError(t, mgr.Start(t2))
	_, err = mgr.LogPageWrite(t2.TransNum(), p2, 0, before2, after2)
	require.NoError(t, err)

	require.NoError(t, mgr.Checkpoint())

	// crash: neither transaction is ever End()ed; T2 is neither committed
	// nor aborted.

	require.NoError(t, mgr.Restart())

	require.Empty(t, mgr.xt, "restart must resolve every transaction in the table")

	got1, err := store.ReadPage(p1)
	require.NoError(t, err)
	require.Equal(t, after1, got1[:len(after1)], "T1 committed: redo leaves its after-image in place")

	got2, err := store.ReadPage(p2)
	require.NoError(t, err)
	require.Equal(t, before2, got2[:len(before2)], "T2 never committed: undo restores its before-image")

	require.Equal(t, 2, mgr.dpt.Len(), "both pages remain dirty in the buffer pool after redo")
}

func TestRestartWithNoDirtyPagesSkipsRedoScan(t *testing.T) {
	mgr, _, cleanup := newTestManager(t)
	defer cleanup()

	require.NoError(t, mgr.Checkpoint())
	require.NoError(t, mgr.Restart())
	require.Empty(t, mgr.xt)
	require.Equal(t, 0, mgr.dpt.Len())
}
