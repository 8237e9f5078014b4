package lock

import (
	"sync"

	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/dberrors"
)

// ContextManager owns the tree of Context nodes layered over a flat
// Manager. Contexts identify their parent by name and look it up through
// the manager rather than holding a parent pointer, avoiding the
// mutual-ownership cycle the teacher's nested-class LockContext/
// LockManager pair has (see SPEC_FULL.md §9).
type ContextManager struct {
	manager *Manager

	mu     sync.Mutex
	byName map[string]*Context
}

// NewContextManager creates an empty context tree over manager.
func NewContextManager(manager *Manager) *ContextManager {
	return &ContextManager{manager: manager, byName: make(map[string]*Context)}
}

// Context returns the node for name, creating it (and, transitively, its
// ancestors) on first reference. A newly created node inherits readonly
// if its parent has childrenDisabled set.
func (cm *ContextManager) Context(name ResourceName) *Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.contextLocked(name)
}

func (cm *ContextManager) contextLocked(name ResourceName) *Context {
	key := name.String()
	if c, ok := cm.byName[key]; ok {
		return c
	}
	c := &Context{cm: cm, name: name, descendantLocks: make(map[int64]int)}
	if parentName, ok := name.Parent(); ok {
		parent := cm.contextLocked(parentName)
		c.readonly = parent.childrenDisabled
	}
	cm.byName[key] = c
	return c
}

// MarkReadonly marks name's context readonly directly.
func (cm *ContextManager) MarkReadonly(name ResourceName) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.contextLocked(name).readonly = true
}

// DisableChildren marks name's context so that every child created under
// it from now on starts out readonly — used for indices and temp tables.
func (cm *ContextManager) DisableChildren(name ResourceName) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.contextLocked(name).childrenDisabled = true
}

func (cm *ContextManager) incrementAncestorCounters(resource ResourceName, txnID int64) {
	pname, ok := resource.Parent()
	for ok {
		anc := cm.Context(pname)
		anc.mu.Lock()
		anc.descendantLocks[txnID]++
		anc.mu.Unlock()
		pname, ok = pname.Parent()
	}
}

func (cm *ContextManager) decrementAncestorCounters(resource ResourceName, txnID int64) {
	pname, ok := resource.Parent()
	for ok {
		anc := cm.Context(pname)
		anc.mu.Lock()
		if n := anc.descendantLocks[txnID]; n <= 1 {
			delete(anc.descendantLocks, txnID)
		} else {
			anc.descendantLocks[txnID] = n - 1
		}
		anc.mu.Unlock()
		pname, ok = pname.Parent()
	}
}

// Context is one node in the resource hierarchy. Owns: its immutable
// name, a transaction-id to descendant-lock-count map, and the
// readonly/childrenDisabled flags used for indices and temp tables.
type Context struct {
	cm   *ContextManager
	name ResourceName

	mu               sync.Mutex
	descendantLocks  map[int64]int
	readonly         bool
	childrenDisabled bool
}

func (c *Context) parent() (*Context, bool) {
	pname, ok := c.name.Parent()
	if !ok {
		return nil, false
	}
	return c.cm.Context(pname), true
}

// ancestorPathTopDown returns c's strict ancestors, root first.
func (c *Context) ancestorPathTopDown() []*Context {
	var bottomUp []*Context
	cur, ok := c.parent()
	for ok {
		bottomUp = append(bottomUp, cur)
		cur, ok = cur.parent()
	}
	out := make([]*Context, len(bottomUp))
	for i, a := range bottomUp {
		out[len(bottomUp)-1-i] = a
	}
	return out
}

// explicitOnPath reports whether c or any of its strict ancestors holds
// an explicit S or SIX lock.
func (c *Context) explicitOnPath(txn transaction.Handle) bool {
	isSLike := func(ctx *Context) bool {
		t := ctx.ExplicitLockType(txn)
		return t == S || t == SIX
	}
	if isSLike(c) {
		return true
	}
	cur, ok := c.parent()
	for ok {
		if isSLike(cur) {
			return true
		}
		cur, ok = cur.parent()
	}
	return false
}

// descendantGrants returns every grant txn holds on a strict descendant
// of c, found by filtering the manager's full grant list for this
// transaction (§4.2: "found by walking T's lock list and filtering
// descendants of this resource").
func (c *Context) descendantGrants(txn transaction.Handle) []Grant {
	var out []Grant
	for _, g := range c.cm.manager.LocksOf(txn) {
		if c.name.IsAncestorOf(g.Resource) {
			out = append(out, g)
		}
	}
	return out
}

func (c *Context) hasBlockingDescendant(txn transaction.Handle) bool {
	for _, g := range c.descendantGrants(txn) {
		if g.Type == S || g.Type == X {
			return true
		}
	}
	return false
}

func (c *Context) hasSIXAncestor(txn transaction.Handle) bool {
	cur, ok := c.parent()
	for ok {
		if cur.ExplicitLockType(txn) == SIX {
			return true
		}
		cur, ok = cur.parent()
	}
	return false
}

// ExplicitLockType returns the grant txn holds on exactly this resource,
// or NL.
func (c *Context) ExplicitLockType(txn transaction.Handle) LockType {
	return c.cm.manager.GetLockType(txn, c.name)
}

// EffectiveLockType folds in what txn's ancestor locks confer: any
// ancestor S, X, or SIX grant implies S, X, or S respectively at c, even
// if c itself holds no explicit lock. Intent-only ancestors confer
// nothing (§4.2).
func (c *Context) EffectiveLockType(txn transaction.Handle) LockType {
	own := c.ExplicitLockType(txn)

	inherited := NL
	cur, ok := c.parent()
	for ok && inherited != X {
		switch cur.ExplicitLockType(txn) {
		case X:
			inherited = X
		case S, SIX:
			inherited = S
		}
		cur, ok = cur.parent()
	}

	switch inherited {
	case X:
		return X
	case S:
		if own == X {
			return X
		}
		return S
	default:
		return own
	}
}

// Acquire takes typ on c for txn, after checking readonly, NL rejection,
// and that the parent's effective lock permits typ as a child (§4.2).
func (c *Context) Acquire(txn transaction.Handle, typ LockType) error {
	if c.readonly {
		return dberrors.UnsupportedOperation("LockContext", "acquire on readonly context "+c.name.String())
	}
	if typ == NL {
		return dberrors.InvalidLock("LockContext", "cannot explicitly acquire NL")
	}
	if parent, ok := c.parent(); ok {
		permitted := parent.EffectiveLockType(txn)
		if !ParentPermitsChild(permitted, typ) {
			return dberrors.InvalidLock("LockContext",
				"parent "+parent.name.String()+" holding "+permitted.String()+" does not permit child lock "+typ.String())
		}
	}
	if err := c.cm.manager.Acquire(txn, c.name, typ); err != nil {
		return err
	}
	c.cm.incrementAncestorCounters(c.name, txn.TransNum())
	return nil
}

// Release drops txn's lock on c, unless a descendant still holds an S or
// X lock through it (Open Question (c): descendants holding only intent
// locks never block a release — that case is not checked here).
func (c *Context) Release(txn transaction.Handle) error {
	if c.ExplicitLockType(txn) == NL {
		return dberrors.NoLockHeld("LockContext", c.name.String())
	}
	if c.hasBlockingDescendant(txn) {
		return dberrors.InvalidLock("LockContext", "descendant of "+c.name.String()+" still holds S or X")
	}
	if err := c.cm.manager.Release(txn, c.name); err != nil {
		return err
	}
	c.cm.decrementAncestorCounters(c.name, txn.TransNum())
	return nil
}

// Promote upgrades txn's lock on c to newType. Promoting to SIX from
// {IS, IX, S} atomically releases every S/IS lock txn holds on strict
// descendants of c, via a single AcquireAndRelease (§4.2).
func (c *Context) Promote(txn transaction.Handle, newType LockType) error {
	if c.readonly {
		return dberrors.UnsupportedOperation("LockContext", "promote on readonly context "+c.name.String())
	}
	current := c.ExplicitLockType(txn)
	if current == NL {
		return dberrors.NoLockHeld("LockContext", c.name.String())
	}
	if current == newType {
		return dberrors.DuplicateLockRequest("LockContext", c.name.String())
	}
	if !Substitutable(newType, current) {
		return dberrors.InvalidLock("LockContext",
			c.name.String()+": "+newType.String()+" does not substitute "+current.String())
	}

	if newType == SIX {
		if c.hasSIXAncestor(txn) {
			return dberrors.InvalidLock("LockContext", "SIX already held on an ancestor of "+c.name.String())
		}
		if current == IS || current == IX || current == S {
			descendants := c.descendantGrants(txn)
			releaseSet := make([]ResourceName, 0, len(descendants)+1)
			for _, g := range descendants {
				if g.Type == S || g.Type == IS {
					releaseSet = append(releaseSet, g.Resource)
				}
			}
			releaseSet = append(releaseSet, c.name)

			if err := c.cm.manager.AcquireAndRelease(txn, c.name, SIX, releaseSet); err != nil {
				return err
			}
			for _, name := range releaseSet {
				if name.Equals(c.name) {
					continue
				}
				c.cm.decrementAncestorCounters(name, txn.TransNum())
			}
			return nil
		}
	}

	return c.cm.manager.Promote(txn, c.name, newType)
}

// Escalate replaces every descendant lock txn holds through c, plus c's
// own lock, with a single S or X lock at c (§4.2). No-op if c already
// holds S or X with no locked descendants.
func (c *Context) Escalate(txn transaction.Handle) error {
	if c.readonly {
		return dberrors.UnsupportedOperation("LockContext", "escalate on readonly context "+c.name.String())
	}

	own := c.ExplicitLockType(txn)
	descendants := c.descendantGrants(txn)

	if len(descendants) == 0 {
		if own == S || own == X {
			return nil
		}
		if own == NL {
			return dberrors.NoLockHeld("LockContext", c.name.String())
		}
	}

	needX := own == IX || own == X || own == SIX
	if !needX {
		for _, g := range descendants {
			if g.Type == IX || g.Type == X || g.Type == SIX {
				needX = true
				break
			}
		}
	}
	target := S
	if needX {
		target = X
	}

	releaseSet := make([]ResourceName, 0, len(descendants)+1)
	for _, g := range descendants {
		releaseSet = append(releaseSet, g.Resource)
	}
	if own != NL {
		releaseSet = append(releaseSet, c.name)
	}

	if err := c.cm.manager.AcquireAndRelease(txn, c.name, target, releaseSet); err != nil {
		return err
	}
	for _, g := range descendants {
		c.cm.decrementAncestorCounters(g.Resource, txn.TransNum())
	}
	return nil
}
