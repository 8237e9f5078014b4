package lock

import (
	"sync"
	"time"

	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/dberrors"
	"coredb/pkg/logging"
	"coredb/pkg/metrics"

	"go.uber.org/zap"
)

// request is a pending (transaction, lock) pair in a resource's FIFO wait
// queue (§3's LockRequest), optionally carrying a release-set for
// AcquireAndRelease.
type request struct {
	txn        transaction.Handle
	lockType   LockType
	releaseSet []ResourceName
}

// resourceEntry is one resource's grant list (insertion order) and FIFO
// wait queue. Grounded on the teacher's LockTable (pageLocks) + WaitQueue
// (pageWaitQueue) pair, merged into a single per-resource record since the
// manager here is keyed by string resource name rather than by a
// collaborator-owned PageID.
type resourceEntry struct {
	name   ResourceName
	grants []*Grant
	queue  []*request
}

// Manager is the flat LockManager (§4.1): one mutex serializes all state
// changes; it never blocks with the mutex held. Blocking uses the
// transaction's own Waiter via the PrepareBlock/Block/Unblock discipline.
type Manager struct {
	mu        sync.Mutex
	resources map[string]*resourceEntry
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{resources: make(map[string]*resourceEntry)}
}

func (m *Manager) entry(resource ResourceName) *resourceEntry {
	key := resource.String()
	e, ok := m.resources[key]
	if !ok {
		e = &resourceEntry{name: resource}
		m.resources[key] = e
	}
	return e
}

func findGrant(e *resourceEntry, txnID int64) *Grant {
	for _, g := range e.grants {
		if g.TxnID == txnID {
			return g
		}
	}
	return nil
}

func findGrantIndex(e *resourceEntry, txnID int64) int {
	for i, g := range e.grants {
		if g.TxnID == txnID {
			return i
		}
	}
	return -1
}

func containsResource(set []ResourceName, name ResourceName) bool {
	for _, r := range set {
		if r.Equals(name) {
			return true
		}
	}
	return false
}

// compatibleAgainstOtherGrants tests typ against every grant on e held by
// a transaction other than txnID — the requester's own grant (if any) is
// always ignored, per §4.1's promote/acquire_and_release/queue-processing
// rules.
func compatibleAgainstOtherGrants(e *resourceEntry, txnID int64, typ LockType) bool {
	for _, g := range e.grants {
		if g.TxnID == txnID {
			continue
		}
		if !Compatible(typ, g.Type) {
			return false
		}
	}
	return true
}

// compatibleAgainstQueue additionally tests typ against every request
// already queued on e (other than the requester). Acquire, Promote, and
// AcquireAndRelease all use this alongside compatibleAgainstOtherGrants
// so an incoming request cannot jump a queued, less-compatible waiter of
// a different lock type (§4.1: "the queue participates in compatibility
// checks to prevent lock-type starvation").
func compatibleAgainstQueue(e *resourceEntry, txnID int64, typ LockType) bool {
	for _, r := range e.queue {
		if r.txn.TransNum() == txnID {
			continue
		}
		if !Compatible(typ, r.lockType) {
			return false
		}
	}
	return true
}

// installGrant records typ as held by req.txn on e: if the transaction
// already has a grant there (a promote, or an acquire_and_release whose
// target resource was itself in the release set), the existing Grant is
// mutated in place so its position in e.grants — and therefore its
// acquisition order relative to other holders — is preserved. Otherwise a
// fresh grant is appended.
func installGrant(e *resourceEntry, txnID int64, typ LockType) {
	if g := findGrant(e, txnID); g != nil {
		g.Type = typ
		return
	}
	e.grants = append(e.grants, &Grant{Resource: e.name, Type: typ, TxnID: txnID})
}

func removeGrant(e *resourceEntry, txnID int64) bool {
	idx := findGrantIndex(e, txnID)
	if idx < 0 {
		return false
	}
	e.grants = append(e.grants[:idx], e.grants[idx+1:]...)
	return true
}

// processQueue walks e's wait queue front-to-back. A head request whose
// lock type is compatible with every other current grant on e (the
// requester's own grant, if mutating one in place, is ignored) is dequeued
// and granted; any resources in its release set other than e itself are
// then released and their own queues processed recursively. The walk
// stops at the first incompatible head — by design (§9 Open Question b):
// this can starve a later, differently-typed compatible request, and that
// is not "optimized away".
func (m *Manager) processQueue(e *resourceEntry) {
	for len(e.queue) > 0 {
		head := e.queue[0]
		txnID := head.txn.TransNum()
		if !compatibleAgainstOtherGrants(e, txnID, head.lockType) {
			break
		}
		e.queue = e.queue[1:]
		installGrant(e, txnID, head.lockType)

		for _, name := range head.releaseSet {
			if name.Equals(e.name) {
				continue
			}
			other := m.entry(name)
			removeGrant(other, txnID)
			m.processQueue(other)
		}

		head.txn.Unblock()
	}
	metrics.QueueDepth.Set(float64(len(e.queue)))
	if len(e.queue) > 0 {
		logging.WithResource(e.name.String()).Debug("queue still blocked after processing", zap.Int("depth", len(e.queue)))
	}
}

// Acquire grants typ to txn on resource, blocking if an incompatible
// grant or queued request is in the way (§4.1).
func (m *Manager) Acquire(txn transaction.Handle, resource ResourceName, typ LockType) error {
	if typ == NL {
		return dberrors.InvalidLock("LockManager", "cannot explicitly acquire NL")
	}

	m.mu.Lock()
	e := m.entry(resource)
	txnID := txn.TransNum()

	if findGrant(e, txnID) != nil {
		m.mu.Unlock()
		return dberrors.DuplicateLockRequest("LockManager", resource.String())
	}

	if compatibleAgainstOtherGrants(e, txnID, typ) && compatibleAgainstQueue(e, txnID, typ) {
		installGrant(e, txnID, typ)
		m.mu.Unlock()
		logging.WithLock(txnID, resource.String()).Debug("lock granted", zap.Stringer("type", typ))
		return nil
	}

	e.queue = append(e.queue, &request{txn: txn, lockType: typ})
	metrics.QueueDepth.Set(float64(len(e.queue)))
	txn.PrepareBlock()
	m.mu.Unlock()

	start := time.Now()
	txn.Block()
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// Release drops txn's lock on resource and wakes any now-compatible
// waiters (§4.1).
func (m *Manager) Release(txn transaction.Handle, resource ResourceName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(resource)
	txnID := txn.TransNum()
	if !removeGrant(e, txnID) {
		return dberrors.NoLockHeld("LockManager", resource.String())
	}

	m.processQueue(e)
	return nil
}

// Promote upgrades txn's lock on resource to new, preserving the grant's
// acquisition position when granted immediately, or jumping to the front
// of the wait queue otherwise (§4.1).
func (m *Manager) Promote(txn transaction.Handle, resource ResourceName, newType LockType) error {
	m.mu.Lock()
	e := m.entry(resource)
	txnID := txn.TransNum()

	g := findGrant(e, txnID)
	if g == nil {
		m.mu.Unlock()
		return dberrors.NoLockHeld("LockManager", resource.String())
	}
	if g.Type == newType {
		m.mu.Unlock()
		return dberrors.DuplicateLockRequest("LockManager", resource.String())
	}
	if !Substitutable(newType, g.Type) {
		m.mu.Unlock()
		return dberrors.InvalidLock("LockManager", resource.String()+": "+newType.String()+" does not substitute "+g.Type.String())
	}

	if compatibleAgainstOtherGrants(e, txnID, newType) && compatibleAgainstQueue(e, txnID, newType) {
		g.Type = newType
		m.mu.Unlock()
		return nil
	}

	e.queue = append([]*request{{txn: txn, lockType: newType}}, e.queue...)
	metrics.QueueDepth.Set(float64(len(e.queue)))
	txn.PrepareBlock()
	m.mu.Unlock()

	start := time.Now()
	txn.Block()
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// AcquireAndRelease grants typ on resource and atomically releases every
// resource in releaseSet once granted (§4.1). Used by LockContext for
// SIX-promotion descendant cleanup and escalation.
func (m *Manager) AcquireAndRelease(txn transaction.Handle, resource ResourceName, typ LockType, releaseSet []ResourceName) error {
	m.mu.Lock()
	txnID := txn.TransNum()

	for _, name := range releaseSet {
		if findGrant(m.entry(name), txnID) == nil {
			m.mu.Unlock()
			return dberrors.NoLockHeld("LockManager", "release set entry "+name.String())
		}
	}

	target := m.entry(resource)
	inReleaseSet := containsResource(releaseSet, resource)
	if findGrant(target, txnID) != nil && !inReleaseSet {
		m.mu.Unlock()
		return dberrors.DuplicateLockRequest("LockManager", resource.String())
	}

	if compatibleAgainstOtherGrants(target, txnID, typ) && compatibleAgainstQueue(target, txnID, typ) {
		installGrant(target, txnID, typ)
		for _, name := range releaseSet {
			if name.Equals(resource) {
				continue
			}
			other := m.entry(name)
			removeGrant(other, txnID)
			m.processQueue(other)
		}
		m.mu.Unlock()
		return nil
	}

	e := target
	e.queue = append([]*request{{txn: txn, lockType: typ, releaseSet: releaseSet}}, e.queue...)
	metrics.QueueDepth.Set(float64(len(e.queue)))
	txn.PrepareBlock()
	m.mu.Unlock()

	start := time.Now()
	txn.Block()
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// GetLockType returns the lock txn explicitly holds on resource, or NL.
func (m *Manager) GetLockType(txn transaction.Handle, resource ResourceName) LockType {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := findGrant(m.entry(resource), txn.TransNum()); g != nil {
		return g.Type
	}
	return NL
}

// LocksOf returns every grant currently held by txn, across all resources.
func (m *Manager) LocksOf(txn transaction.Handle) []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()

	txnID := txn.TransNum()
	var out []Grant
	for _, e := range m.resources {
		if g := findGrant(e, txnID); g != nil {
			out = append(out, *g)
		}
	}
	return out
}

// LocksOn returns every grant currently held on resource, in acquisition
// order.
func (m *Manager) LocksOn(resource ResourceName) []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(resource)
	out := make([]Grant, len(e.grants))
	for i, g := range e.grants {
		out[i] = *g
	}
	return out
}
