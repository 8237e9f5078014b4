// Package primitives holds the small value types shared across the lock,
// log, recovery, and execution packages: transaction identifiers, log
// sequence numbers, and page identifiers.
package primitives

import (
	"fmt"

	"go.uber.org/atomic"
)

// LSN is a Log Sequence Number: a monotonically increasing position in the
// write-ahead log. LSN 0 is reserved to mean "no record" / "start of log".
type LSN uint64

// NoLSN is the sentinel LSN meaning "no prior record" / "chain terminus".
const NoLSN LSN = 0

func (l LSN) String() string {
	return fmt.Sprintf("LSN(%d)", uint64(l))
}

var txnCounter atomic.Int64

// TransactionID identifies a transaction for the lifetime of the process.
// Identity is by pointer, matching the teacher's map-keyed-by-pointer idiom
// in pkg/concurrency/transaction; two TransactionIDs with the same numeric
// value are never allocated within one process lifetime.
type TransactionID struct {
	id int64
}

// NewTransactionID allocates a fresh, process-unique transaction id.
func NewTransactionID() *TransactionID {
	return &TransactionID{id: txnCounter.Add(1)}
}

// NewTransactionIDFromValue rebuilds a TransactionID with a specific numeric
// value, used only when replaying a log whose records carry raw ids.
func NewTransactionIDFromValue(id int64) *TransactionID {
	return &TransactionID{id: id}
}

func (tid *TransactionID) ID() int64 { return tid.id }

func (tid *TransactionID) String() string {
	return fmt.Sprintf("TXN-%d", tid.id)
}

func (tid *TransactionID) Equals(other *TransactionID) bool {
	if tid == nil || other == nil {
		return tid == other
	}
	return tid.id == other.id
}

// PartitionID identifies a disk space manager partition (one per table or
// index file); opaque beyond equality and numeric conversion.
type PartitionID uint32

// PageID identifies a single page within a partition. The disk space
// manager and buffer pool are external collaborators (see pkg/storage);
// this type is the shared key the core uses to talk about "which page".
type PageID struct {
	Part PartitionID
	Page uint32
}

func (p PageID) PartNum() PartitionID { return p.Part }

func (p PageID) String() string {
	return fmt.Sprintf("Page(%d:%d)", p.Part, p.Page)
}

// ResourceName is an ordered path of string segments from the database
// root to a resource (e.g. {"db", "table42", "page7"}). Equality is by
// value, following the distilled spec's ResourceName entity.
type ResourceName []string

// Child returns the resource name one level below this one.
func (r ResourceName) Child(segment string) ResourceName {
	out := make(ResourceName, len(r)+1)
	copy(out, r)
	out[len(r)] = segment
	return out
}

// Parent returns the resource name one level above this one, and whether
// this resource has a parent at all (the root does not).
func (r ResourceName) Parent() (ResourceName, bool) {
	if len(r) <= 1 {
		return nil, false
	}
	return r[:len(r)-1], true
}

func (r ResourceName) Equals(other ResourceName) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether r names a resource strictly above other in
// the hierarchy — i.e. other's path extends r's.
func (r ResourceName) IsAncestorOf(other ResourceName) bool {
	if len(other) <= len(r) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

func (r ResourceName) String() string {
	out := ""
	for i, s := range r {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
