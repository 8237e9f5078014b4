// Package lock implements the flat multigranularity LockManager and the
// LockContext hierarchy layered above it (§4.1-§4.3). Grounded on the
// teacher's pkg/concurrency/lock package — the resource-map-plus-FIFO-
// wait-queue shape of LockTable/WaitQueue survives, generalized from two
// lock types (Shared/Exclusive) to the full six-value multigranularity
// lattice, and from polling-retry-with-deadlock-detection to condition-
// variable blocking with no deadlock detection (see DESIGN.md).
package lock

// LockType is the closed set of lock modes a resource can be held under.
type LockType int

const (
	NL LockType = iota
	IS
	IX
	S
	SIX
	X
)

func (t LockType) String() string {
	switch t {
	case NL:
		return "NL"
	case IS:
		return "IS"
	case IX:
		return "IX"
	case S:
		return "S"
	case SIX:
		return "SIX"
	case X:
		return "X"
	default:
		return "?"
	}
}

// compatibility[a][b] reports whether a transaction holding a may coexist
// with a different transaction holding b on the same resource (§3).
var compatibility = [6][6]bool{
	NL:  {NL: true, IS: true, IX: true, S: true, SIX: true, X: true},
	IS:  {NL: true, IS: true, IX: true, S: true, SIX: true, X: false},
	IX:  {NL: true, IS: true, IX: true, S: false, SIX: false, X: false},
	S:   {NL: true, IS: true, IX: false, S: true, SIX: false, X: false},
	SIX: {NL: true, IS: true, IX: false, S: false, SIX: false, X: false},
	X:   {NL: true, IS: false, IX: false, S: false, SIX: false, X: false},
}

// Compatible reports whether a and b may be held simultaneously by two
// distinct transactions on the same resource. Symmetric by construction.
func Compatible(a, b LockType) bool {
	return compatibility[a][b]
}

// parentPermits[parent] is the set of child lock types that parent permits
// a descendant to be locked under (§3's parent-permits-child relation):
// IS/S need parent ∈ {IS, IX}, S also under S; IX/X need parent ∈ {IX,
// SIX}; SIX needs parent = IX (never SIX, to keep SIX-under-SIX out of
// the table rather than special-cased); NL needs nothing (listed under
// every parent, and also short-circuited by the child==NL case in
// ParentPermitsChild).
var parentPermits = [6]map[LockType]bool{
	NL:  {NL: true},
	IS:  {NL: true, IS: true, S: true},
	IX:  {NL: true, IS: true, IX: true, S: true, SIX: true, X: true},
	S:   {NL: true, S: true},
	SIX: {NL: true, IX: true, X: true},
	X:   {NL: true},
}

// ParentPermitsChild reports whether a resource whose parent is locked
// with `parent` may itself be locked with `child` by the same transaction.
func ParentPermitsChild(parent, child LockType) bool {
	if child == NL {
		return true
	}
	return parentPermits[parent][child]
}

// substitutes[have] is the set of lock types `have` can stand in for, used
// to validate promotions (§3's substitutability relation: "B covers A").
var substitutes = [6]map[LockType]bool{
	NL:  {NL: true},
	IS:  {IS: true},
	IX:  {IX: true, IS: true},
	S:   {S: true, IS: true},
	SIX: {SIX: true, S: true, IX: true, IS: true},
	X:   {X: true, SIX: true, S: true, IX: true, IS: true},
}

// Substitutable reports whether `have` covers the capabilities of `want`,
// i.e. a transaction already holding `have` needs no stronger lock to get
// the capabilities `want` would grant.
func Substitutable(have, want LockType) bool {
	return substitutes[have][want]
}

// Grant is a concrete lock held by a transaction on a resource.
type Grant struct {
	Resource ResourceName
	Type     LockType
	TxnID    int64
}
