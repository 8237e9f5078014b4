package lock

import (
	"coredb/pkg/concurrency/transaction"
	"coredb/pkg/dberrors"
)

// EnsureSufficient makes the least-permissive change so txn may perform
// need (S or X) at ctx, acquiring and promoting intent locks on every
// strict ancestor first so no intermediate state is illegal (§4.3).
//
// The ancestor step for need=S promotes an already-held IX ancestor to
// SIX only when an S-type lock is already held somewhere else on the
// path; this mirrors the distilled source's "if IX and there is an S
// somewhere on the path" guard, interpreted here as a property of
// existing grants on the path rather than of the node being visited.
func EnsureSufficient(ctx *Context, txn transaction.Handle, need LockType) error {
	if need == NL {
		return nil
	}
	if need != S && need != X {
		return dberrors.InvalidLock("LockUtil", "ensure_sufficient need must be S or X")
	}
	if Substitutable(ctx.EffectiveLockType(txn), need) {
		return nil
	}

	path := ctx.ancestorPathTopDown()

	switch need {
	case S:
		hasS := ctx.explicitOnPath(txn)
		for _, a := range path {
			switch a.ExplicitLockType(txn) {
			case NL:
				if err := a.Acquire(txn, IS); err != nil {
					return err
				}
			case IX:
				if hasS {
					if err := a.Promote(txn, SIX); err != nil {
						return err
					}
				}
			}
		}
		switch ctx.ExplicitLockType(txn) {
		case NL:
			return ctx.Acquire(txn, S)
		case IX:
			return ctx.Promote(txn, SIX)
		default:
			return ctx.Escalate(txn)
		}

	default: // X
		for _, a := range path {
			switch a.ExplicitLockType(txn) {
			case NL:
				if err := a.Acquire(txn, IX); err != nil {
					return err
				}
			case IS:
				if err := a.Promote(txn, IX); err != nil {
					return err
				}
			case S:
				if err := a.Promote(txn, SIX); err != nil {
					return err
				}
			}
		}
		switch ctx.ExplicitLockType(txn) {
		case NL:
			return ctx.Acquire(txn, X)
		case S:
			return ctx.Promote(txn, X)
		default:
			return ctx.Escalate(txn)
		}
	}
}
