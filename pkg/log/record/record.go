// Package record defines the closed set of ARIES log record kinds and
// their binary wire format: a length-prefixed, type-tagged payload ending
// in an xxhash checksum. Grounded on the teacher's pkg/log/record/record.go
// (the [Size:4][Type:1][TID:8][PrevLSN:8][Timestamp:8][payload] layout,
// big-endian field writes, length-prefixed image encoding), expanded from
// nine record kinds to the full ARIES taxonomy this recovery manager needs,
// and with a trailing checksum so a torn or corrupted write is detectable
// rather than silently misread.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"coredb/pkg/primitives"
)

// Type is the closed set of ARIES log record kinds.
type Type uint8

const (
	Master Type = iota
	BeginCheckpoint
	EndCheckpoint
	CommitTxn
	AbortTxn
	EndTxn
	UpdatePage
	AllocPage
	FreePage
	AllocPart
	FreePart

	// Compensation log records. Each undoes exactly one of the
	// forward-path types above, named for the action it compensates (not
	// the action it performs): UndoUpdatePage reapplies a before-image;
	// UndoAllocPage compensates ALLOC_PAGE, so its physical effect is to
	// free the page; UndoFreePage compensates FREE_PAGE, so its physical
	// effect is to re-allocate it. UndoAllocPart/UndoFreePart are the
	// partition-level equivalents.
	UndoUpdatePage
	UndoAllocPage
	UndoFreePage
	UndoAllocPart
	UndoFreePart
)

func (t Type) String() string {
	switch t {
	case Master:
		return "MASTER"
	case BeginCheckpoint:
		return "BEGIN_CHECKPOINT"
	case EndCheckpoint:
		return "END_CHECKPOINT"
	case CommitTxn:
		return "COMMIT_TXN"
	case AbortTxn:
		return "ABORT_TXN"
	case EndTxn:
		return "END_TXN"
	case UpdatePage:
		return "UPDATE_PAGE"
	case AllocPage:
		return "ALLOC_PAGE"
	case FreePage:
		return "FREE_PAGE"
	case AllocPart:
		return "ALLOC_PART"
	case FreePart:
		return "FREE_PART"
	case UndoUpdatePage:
		return "UNDO_UPDATE_PAGE"
	case UndoAllocPage:
		return "UNDO_ALLOC_PAGE"
	case UndoFreePage:
		return "UNDO_FREE_PAGE"
	case UndoAllocPart:
		return "UNDO_ALLOC_PART"
	case UndoFreePart:
		return "UNDO_FREE_PART"
	default:
		return "UNKNOWN"
	}
}

// IsCLR reports whether t is a compensation log record.
func (t Type) IsCLR() bool {
	return t >= UndoUpdatePage
}

// IsPageModifying reports whether redo/analysis should key t by page id
// and recLSN (as opposed to allocation-style records, which redo
// unconditionally per §4.6).
func (t Type) IsPageModifying() bool {
	switch t {
	case UpdatePage, UndoUpdatePage, FreePage, UndoAllocPage:
		return true
	default:
		return false
	}
}

// DPTEntry is one (page, recLSN) pair carried by an END_CHECKPOINT record.
type DPTEntry struct {
	Page   primitives.PageID
	RecLSN primitives.LSN
}

// XTEntry is one transaction's checkpointed state carried by an
// END_CHECKPOINT record.
type XTEntry struct {
	TxnID       int64
	LastLSN     primitives.LSN
	Status      int32
	UndoNextLSN primitives.LSN
}

// Record is a single WAL entry. It is a flat struct rather than a Go sum
// type — following the teacher's LogRecord — with only the fields
// relevant to Type populated.
type Record struct {
	LSN       primitives.LSN // set by the reader from the record's file offset, never serialized
	Type      Type
	TxnID     int64 // 0 means "no transaction" (valid ids start at 1)
	PrevLSN   primitives.LSN
	Timestamp int64 // unix seconds

	// MASTER
	CheckpointLSN primitives.LSN

	// UPDATE_PAGE / UNDO_UPDATE_PAGE
	Page   primitives.PageID
	Offset uint16
	Before []byte
	After  []byte

	// ALLOC_PAGE / FREE_PAGE / UNDO_ALLOC_PAGE / UNDO_FREE_PAGE reuse Page.

	// ALLOC_PART / FREE_PART / UNDO_ALLOC_PART / UNDO_FREE_PART
	Partition primitives.PartitionID

	// CLRs
	UndoNextLSN primitives.LSN

	// END_CHECKPOINT
	DPT []DPTEntry
	XT  []XTEntry
}

const (
	lengthPrefixBytes = 4
	checksumBytes     = 8
)

// Serialize renders r in the wire format
//
//	[Size:4][Type:1][TxnID:8][PrevLSN:8][Timestamp:8][payload][Checksum:8]
//
// Size covers the whole record including itself; Checksum is the xxhash
// of everything between Size and Checksum.
func (r *Record) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	if err := writeFields(&buf,
		byte(r.Type),
		uint64(r.TxnID), //nolint:gosec // transaction ids never exceed int64 range in practice
		uint64(r.PrevLSN),
		uint64(r.Timestamp),
	); err != nil {
		return nil, err
	}

	if err := r.serializePayload(&buf); err != nil {
		return nil, err
	}

	payload := buf.Bytes()
	sum := xxhash.Sum64(payload)

	result := make([]byte, lengthPrefixBytes+len(payload)+checksumBytes)
	binary.BigEndian.PutUint32(result, uint32(len(result))) //nolint:gosec
	copy(result[lengthPrefixBytes:], payload)
	binary.BigEndian.PutUint64(result[lengthPrefixBytes+len(payload):], sum)
	return result, nil
}

func (r *Record) serializePayload(buf *bytes.Buffer) error {
	switch r.Type {
	case Master:
		return writeFields(buf, uint64(r.CheckpointLSN))
	case BeginCheckpoint, CommitTxn, AbortTxn, EndTxn:
		return nil
	case EndCheckpoint:
		return r.serializeCheckpointBody(buf)
	case UpdatePage:
		if err := writePageID(buf, r.Page); err != nil {
			return err
		}
		if err := writeFields(buf, uint64(r.Offset)); err != nil {
			return err
		}
		if err := writeImage(buf, r.Before); err != nil {
			return err
		}
		return writeImage(buf, r.After)
	case AllocPage, FreePage:
		return writePageID(buf, r.Page)
	case AllocPart, FreePart:
		return writeFields(buf, uint32(r.Partition))
	case UndoUpdatePage:
		if err := writePageID(buf, r.Page); err != nil {
			return err
		}
		if err := writeFields(buf, uint64(r.Offset), uint64(r.UndoNextLSN)); err != nil {
			return err
		}
		return writeImage(buf, r.After)
	case UndoAllocPage, UndoFreePage:
		if err := writePageID(buf, r.Page); err != nil {
			return err
		}
		return writeFields(buf, uint64(r.UndoNextLSN))
	case UndoAllocPart, UndoFreePart:
		return writeFields(buf, uint32(r.Partition), uint64(r.UndoNextLSN))
	default:
		return fmt.Errorf("record: unknown type %v", r.Type)
	}
}

func (r *Record) serializeCheckpointBody(buf *bytes.Buffer) error {
	if err := writeFields(buf, uint32(len(r.DPT))); err != nil { //nolint:gosec
		return err
	}
	for _, e := range r.DPT {
		if err := writePageID(buf, e.Page); err != nil {
			return err
		}
		if err := writeFields(buf, uint64(e.RecLSN)); err != nil {
			return err
		}
	}
	if err := writeFields(buf, uint32(len(r.XT))); err != nil { //nolint:gosec
		return err
	}
	for _, e := range r.XT {
		if err := writeFields(buf, uint64(e.TxnID), uint64(e.LastLSN), uint32(e.Status), uint64(e.UndoNextLSN)); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize parses data (as produced by Serialize, including the
// length prefix) into a Record, verifying the trailing checksum.
// Corruption is reported as an error; the caller (the log manager's
// reader) is responsible for escalating that to the fatal conditions
// named in §7.
func Deserialize(data []byte) (*Record, error) {
	if len(data) < lengthPrefixBytes+checksumBytes+1+8+8+8 {
		return nil, fmt.Errorf("record: truncated record (%d bytes)", len(data))
	}

	payload := data[lengthPrefixBytes : len(data)-checksumBytes]
	wantSum := binary.BigEndian.Uint64(data[len(data)-checksumBytes:])
	if gotSum := xxhash.Sum64(payload); gotSum != wantSum {
		return nil, fmt.Errorf("record: checksum mismatch: got %x want %x", gotSum, wantSum)
	}

	reader := bytes.NewReader(payload)
	r := &Record{}
	var typ byte
	var txnID, prevLSN, timestamp uint64
	if err := readFields(reader, &typ, &txnID, &prevLSN, &timestamp); err != nil {
		return nil, err
	}
	r.Type = Type(typ)
	r.TxnID = int64(txnID) //nolint:gosec
	r.PrevLSN = primitives.LSN(prevLSN)
	r.Timestamp = int64(timestamp) //nolint:gosec

	if err := r.deserializePayload(reader); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Record) deserializePayload(reader *bytes.Reader) error {
	switch r.Type {
	case Master:
		var v uint64
		if err := readFields(reader, &v); err != nil {
			return err
		}
		r.CheckpointLSN = primitives.LSN(v)
		return nil
	case BeginCheckpoint, CommitTxn, AbortTxn, EndTxn:
		return nil
	case EndCheckpoint:
		return r.deserializeCheckpointBody(reader)
	case UpdatePage:
		page, err := readPageID(reader)
		if err != nil {
			return err
		}
		r.Page = page
		var offset uint64
		if err := readFields(reader, &offset); err != nil {
			return err
		}
		r.Offset = uint16(offset) //nolint:gosec
		if r.Before, err = readImage(reader); err != nil {
			return err
		}
		r.After, err = readImage(reader)
		return err
	case AllocPage, FreePage:
		page, err := readPageID(reader)
		if err != nil {
			return err
		}
		r.Page = page
		return nil
	case AllocPart, FreePart:
		var part uint32
		if err := readFields(reader, &part); err != nil {
			return err
		}
		r.Partition = primitives.PartitionID(part)
		return nil
	case UndoUpdatePage:
		page, err := readPageID(reader)
		if err != nil {
			return err
		}
		r.Page = page
		var offset, undoNext uint64
		if err := readFields(reader, &offset, &undoNext); err != nil {
			return err
		}
		r.Offset = uint16(offset) //nolint:gosec
		r.UndoNextLSN = primitives.LSN(undoNext)
		r.After, err = readImage(reader)
		return err
	case UndoAllocPage, UndoFreePage:
		page, err := readPageID(reader)
		if err != nil {
			return err
		}
		r.Page = page
		var undoNext uint64
		if err := readFields(reader, &undoNext); err != nil {
			return err
		}
		r.UndoNextLSN = primitives.LSN(undoNext)
		return nil
	case UndoAllocPart, UndoFreePart:
		var part uint32
		var undoNext uint64
		if err := readFields(reader, &part, &undoNext); err != nil {
			return err
		}
		r.Partition = primitives.PartitionID(part)
		r.UndoNextLSN = primitives.LSN(undoNext)
		return nil
	default:
		return fmt.Errorf("record: unknown type %v", r.Type)
	}
}

func (r *Record) deserializeCheckpointBody(reader *bytes.Reader) error {
	var dptLen uint32
	if err := readFields(reader, &dptLen); err != nil {
		return err
	}
	r.DPT = make([]DPTEntry, dptLen)
	for i := range r.DPT {
		page, err := readPageID(reader)
		if err != nil {
			return err
		}
		var recLSN uint64
		if err := readFields(reader, &recLSN); err != nil {
			return err
		}
		r.DPT[i] = DPTEntry{Page: page, RecLSN: primitives.LSN(recLSN)}
	}

	var xtLen uint32
	if err := readFields(reader, &xtLen); err != nil {
		return err
	}
	r.XT = make([]XTEntry, xtLen)
	for i := range r.XT {
		var txnID, lastLSN, undoNext uint64
		var status uint32
		if err := readFields(reader, &txnID, &lastLSN, &status, &undoNext); err != nil {
			return err
		}
		r.XT[i] = XTEntry{
			TxnID:       int64(txnID), //nolint:gosec
			LastLSN:     primitives.LSN(lastLSN),
			Status:      int32(status), //nolint:gosec
			UndoNextLSN: primitives.LSN(undoNext),
		}
	}
	return nil
}

func writeFields(buf *bytes.Buffer, values ...any) error {
	for _, v := range values {
		if err := binary.Write(buf, binary.BigEndian, v); err != nil {
			return fmt.Errorf("record: write field: %w", err)
		}
	}
	return nil
}

func readFields(r *bytes.Reader, ptrs ...any) error {
	for _, p := range ptrs {
		if err := binary.Read(r, binary.BigEndian, p); err != nil {
			return fmt.Errorf("record: read field: %w", err)
		}
	}
	return nil
}

func writePageID(buf *bytes.Buffer, p primitives.PageID) error {
	return writeFields(buf, uint32(p.Part), p.Page)
}

func readPageID(r *bytes.Reader) (primitives.PageID, error) {
	var part, page uint32
	if err := readFields(r, &part, &page); err != nil {
		return primitives.PageID{}, err
	}
	return primitives.PageID{Part: primitives.PartitionID(part), Page: page}, nil
}

// writeImage serializes a byte slice as [length:4][data:length]; a nil
// image writes only a zero length.
func writeImage(buf *bytes.Buffer, image []byte) error {
	if err := writeFields(buf, uint32(len(image))); err != nil { //nolint:gosec
		return err
	}
	if len(image) > 0 {
		buf.Write(image)
	}
	return nil
}

func readImage(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := readFields(r, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	image := make([]byte, length)
	if _, err := io.ReadFull(r, image); err != nil {
		return nil, fmt.Errorf("record: read image: %w", err)
	}
	return image, nil
}
