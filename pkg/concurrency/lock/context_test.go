package lock

import (
	"testing"

	"coredb/pkg/concurrency/transaction"
)

func dbName() ResourceName    { return ResourceName{"db"} }
func tableName() ResourceName { return ResourceName{"db", "table"} }
func page3Name() ResourceName { return ResourceName{"db", "table", "page3"} }
func page5Name() ResourceName { return ResourceName{"db", "table", "page5"} }

// countDescendantGrants returns how many of txn's grants are strict
// descendants of name, used to check hierarchy invariant (i) directly
// against the manager's ground truth rather than trusting the cached
// counter.
func countDescendantGrants(m *Manager, txn transaction.Handle, name ResourceName) int {
	n := 0
	for _, g := range m.LocksOf(txn) {
		if name.IsAncestorOf(g.Resource) {
			n++
		}
	}
	return n
}

// Scenario 3 (§8): T holds IX(db), IX(table), S(page3), X(page5).
// table.Escalate(T) collapses table's descendant locks into a single X
// at table, preserving IX(db), and the hierarchy invariant (descendant
// counter equals the actual descendant-lock count) holds throughout.
func TestContextEscalateCollapsesDescendants(t *testing.T) {
	cm := NewContextManager(NewManager())
	db := cm.Context(dbName())
	table := cm.Context(tableName())
	page3 := cm.Context(page3Name())
	page5 := cm.Context(page5Name())

	txn := newTxn()

	if err := db.Acquire(txn, IX); err != nil {
		t.Fatalf("db acquire IX: %v", err)
	}
	if err := table.Acquire(txn, IX); err != nil {
		t.Fatalf("table acquire IX: %v", err)
	}
	if err := page3.Acquire(txn, S); err != nil {
		t.Fatalf("page3 acquire S: %v", err)
	}
	if err := page5.Acquire(txn, X); err != nil {
		t.Fatalf("page5 acquire X: %v", err)
	}

	if err := table.Escalate(txn); err != nil {
		t.Fatalf("table escalate: %v", err)
	}

	if got := db.ExplicitLockType(txn); got != IX {
		t.Errorf("db explicit lock = %v, want IX", got)
	}
	if got := table.ExplicitLockType(txn); got != X {
		t.Errorf("table explicit lock = %v, want X", got)
	}
	if got := page3.ExplicitLockType(txn); got != NL {
		t.Errorf("page3 explicit lock = %v, want NL (released)", got)
	}
	if got := page5.ExplicitLockType(txn); got != NL {
		t.Errorf("page5 explicit lock = %v, want NL (released)", got)
	}

	table.mu.Lock()
	tableCounter := table.descendantLocks[txn.TransNum()]
	table.mu.Unlock()
	if tableCounter != 0 {
		t.Errorf("table descendant counter = %d, want 0", tableCounter)
	}

	db.mu.Lock()
	dbCounter := db.descendantLocks[txn.TransNum()]
	db.mu.Unlock()
	wantDB := countDescendantGrants(cm.manager, txn, dbName())
	if dbCounter != wantDB {
		t.Errorf("db descendant counter = %d, want %d (actual descendant grant count)", dbCounter, wantDB)
	}
}

func TestContextEscalateNoOpWhenAlreadyCoarse(t *testing.T) {
	cm := NewContextManager(NewManager())
	db := cm.Context(dbName())
	table := cm.Context(tableName())
	txn := newTxn()

	if err := db.Acquire(txn, IX); err != nil {
		t.Fatalf("db acquire IX: %v", err)
	}
	if err := table.Acquire(txn, X); err != nil {
		t.Fatalf("table acquire X: %v", err)
	}
	if err := table.Escalate(txn); err != nil {
		t.Fatalf("table escalate: %v", err)
	}
	if got := table.ExplicitLockType(txn); got != X {
		t.Errorf("table explicit lock = %v, want X unchanged", got)
	}
}

func TestContextAcquireRejectsIncompatibleParent(t *testing.T) {
	cm := NewContextManager(NewManager())
	db := cm.Context(dbName())
	table := cm.Context(tableName())
	txn := newTxn()

	if err := db.Acquire(txn, S); err != nil {
		t.Fatalf("db acquire S: %v", err)
	}
	if err := table.Acquire(txn, X); err == nil {
		t.Fatal("expected InvalidLock: S parent does not permit X child")
	}
}

func TestContextReleaseBlockedByDescendant(t *testing.T) {
	cm := NewContextManager(NewManager())
	db := cm.Context(dbName())
	table := cm.Context(tableName())
	page3 := cm.Context(page3Name())
	txn := newTxn()

	if err := db.Acquire(txn, IX); err != nil {
		t.Fatalf("db acquire IX: %v", err)
	}
	if err := table.Acquire(txn, IX); err != nil {
		t.Fatalf("table acquire IX: %v", err)
	}
	if err := page3.Acquire(txn, S); err != nil {
		t.Fatalf("page3 acquire S: %v", err)
	}
	if err := table.Release(txn); err == nil {
		t.Fatal("expected InvalidLock: descendant still holds S")
	}
}

func TestContextReadonlyRejectsAcquire(t *testing.T) {
	cm := NewContextManager(NewManager())
	cm.MarkReadonly(tableName())
	table := cm.Context(tableName())
	txn := newTxn()

	if err := table.Acquire(txn, S); err == nil {
		t.Fatal("expected UnsupportedOperation on readonly context")
	}
}

func TestEnsureSufficientAcquiresIntentChain(t *testing.T) {
	cm := NewContextManager(NewManager())
	page3 := cm.Context(page3Name())
	db := cm.Context(dbName())
	table := cm.Context(tableName())
	txn := newTxn()

	if err := EnsureSufficient(page3, txn, S); err != nil {
		t.Fatalf("ensure_sufficient: %v", err)
	}

	if got := db.ExplicitLockType(txn); got != IS {
		t.Errorf("db explicit lock = %v, want IS", got)
	}
	if got := table.ExplicitLockType(txn); got != IS {
		t.Errorf("table explicit lock = %v, want IS", got)
	}
	if got := page3.ExplicitLockType(txn); got != S {
		t.Errorf("page3 explicit lock = %v, want S", got)
	}
}

func TestEnsureSufficientIsNoOpWhenAlreadySufficient(t *testing.T) {
	cm := NewContextManager(NewManager())
	page3 := cm.Context(page3Name())
	txn := newTxn()

	if err := EnsureSufficient(page3, txn, S); err != nil {
		t.Fatalf("first ensure_sufficient: %v", err)
	}
	if err := EnsureSufficient(page3, txn, NL); err != nil {
		t.Fatalf("ensure_sufficient NL should be a no-op: %v", err)
	}
	if err := EnsureSufficient(page3, txn, S); err != nil {
		t.Fatalf("second ensure_sufficient should be a no-op, got error: %v", err)
	}
}
