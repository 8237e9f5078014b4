// Package log owns write-ahead log file mechanics only: sequential append
// with LSNs assigned as byte offsets, buffered flush-to-durable, forward
// scan from an LSN, and in-place rewrite of the fixed-location master
// record. It has no notion of dirty pages, transaction status, or restart —
// that belongs to pkg/recovery. Grounded on the teacher's
// pkg/log/wal/writer.go (buffered Write assigning LSN = current offset,
// Force(lsn) flush-if-needed) and pkg/log/wal/reader.go (header-then-body
// ReadNext, sequential ReadAll), split out of the teacher's single WAL type
// the way the teacher itself already splits writer/reader — recovery state
// that the teacher folds into WAL (dirtyPages, activeTxns) moves to
// pkg/recovery instead.
package log

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coredb/pkg/config"
	"coredb/pkg/dberrors"
	"coredb/pkg/log/record"
	"coredb/pkg/logging"
	"coredb/pkg/metrics"
	"coredb/pkg/primitives"

	"go.uber.org/zap"
)

// masterRecordBytes is the fixed-size slot at the start of the log file
// holding the master record (a single LSN, per the distilled spec: "MASTER
// holds one 8-byte LSN, is rewritten in place at a fixed location").
const masterRecordBytes = 8

// maxRecordBytes bounds a single record's serialized size, following the
// teacher's MaxLogRecordSize sanity check in LogReader — a length prefix
// far past this is corruption, not a legitimately large record.
const maxRecordBytes = 10 * 1024 * 1024

// Manager owns one log file: the master slot, and an append-only record
// stream starting at masterRecordBytes. All append/flush state is guarded
// by mu; a second, independent file handle is opened per Reader for
// concurrent scanning (mirroring the teacher's separate LogWriter/LogReader
// handles onto the same path).
type Manager struct {
	mu sync.Mutex

	path string
	file *os.File

	buf        []byte
	bufferedAt primitives.LSN // file offset the start of buf corresponds to
	nextLSN    primitives.LSN // offset the next Append will be written at
	flushedLSN primitives.LSN

	bufferBytes int

	flushMu   sync.Mutex
	flushCond *sync.Cond
}

// Open creates or reopens the log file named by cfg.LogDir, initializing
// the master slot on first use.
func Open(cfg config.Config) (*Manager, error) {
	path := filepath.Join(cfg.LogDir, "wal.log")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "Open", "log")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "Open", "log")
	}

	m := &Manager{
		path:        path,
		file:        file,
		bufferBytes: cfg.LogWriteBufferBytes,
	}
	m.flushCond = sync.NewCond(&m.flushMu)

	if info.Size() < masterRecordBytes {
		if _, err := file.WriteAt(make([]byte, masterRecordBytes), 0); err != nil {
			file.Close()
			return nil, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "Open", "log")
		}
		m.nextLSN = masterRecordBytes
	} else {
		m.nextLSN = primitives.LSN(info.Size()) //nolint:gosec
	}
	m.bufferedAt = m.nextLSN
	m.flushedLSN = m.nextLSN

	return m, nil
}

// WriteMaster overwrites the fixed master slot to point at lsn, per the
// checkpoint protocol (§4.6: "overwrite the master record to point at the
// begin-LSN"). Always fsynced before returning.
func (m *Manager) WriteMaster(lsn primitives.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf [masterRecordBytes]byte
	binary.BigEndian.PutUint64(buf[:], uint64(lsn))
	if _, err := m.file.WriteAt(buf[:], 0); err != nil {
		return dberrors.Wrap(err, dberrors.CodeCorruptedLog, "WriteMaster", "log")
	}
	if err := m.file.Sync(); err != nil {
		return dberrors.Wrap(err, dberrors.CodeCorruptedLog, "WriteMaster", "log")
	}
	return nil
}

// ReadMaster returns the LSN currently stored in the master slot, or
// primitives.NoLSN if the log has never been checkpointed. A missing file
// or truncated slot is the fatal condition named in §7.
func (m *Manager) ReadMaster() (primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf [masterRecordBytes]byte
	n, err := m.file.ReadAt(buf[:], 0)
	if err != nil && err != io.EOF {
		return 0, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "ReadMaster", "log")
	}
	if n < masterRecordBytes {
		return 0, dberrors.Fatal(dberrors.CodeMissingMaster, "log", "master slot truncated")
	}
	return primitives.LSN(binary.BigEndian.Uint64(buf[:])), nil
}

// Append serializes rec, assigns it the next LSN (the byte offset it will
// occupy once flushed), and buffers it. The record is not guaranteed
// durable until a subsequent Flush covers its LSN.
func (m *Manager) Append(rec *record.Record) (primitives.LSN, error) {
	data, err := rec.Serialize()
	if err != nil {
		return 0, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "Append", "log")
	}
	if len(data) > maxRecordBytes {
		return 0, dberrors.Fatal(dberrors.CodeCorruptedLog, "log", fmt.Sprintf("record of %d bytes exceeds sanity bound", len(data)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.nextLSN
	m.buf = append(m.buf, data...)
	m.nextLSN += primitives.LSN(len(data)) //nolint:gosec

	logging.WithLSN(uint64(lsn)).Debug("log record appended", zap.Stringer("type", rec.Type))

	if len(m.buf) >= m.bufferBytes {
		if err := m.flushLocked(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

// flushLocked writes the buffered bytes to disk and fsyncs. Caller must
// hold m.mu.
func (m *Manager) flushLocked() error {
	if len(m.buf) == 0 {
		return nil
	}
	start := time.Now()
	if _, err := m.file.WriteAt(m.buf, int64(m.bufferedAt)); err != nil { //nolint:gosec
		return dberrors.Wrap(err, dberrors.CodeCorruptedLog, "Flush", "log")
	}
	if err := m.file.Sync(); err != nil {
		return dberrors.Wrap(err, dberrors.CodeCorruptedLog, "Flush", "log")
	}
	metrics.LogFlushSeconds.Observe(time.Since(start).Seconds())

	m.bufferedAt += primitives.LSN(len(m.buf)) //nolint:gosec
	m.buf = m.buf[:0]

	m.flushMu.Lock()
	m.flushedLSN = m.bufferedAt
	m.flushCond.Broadcast()
	m.flushMu.Unlock()
	return nil
}

// Flush forces every buffered record up to and including lsn to durable
// storage, blocking callers racing to flush a later point in the log
// behind the writer that gets there first — mirroring the teacher's
// WAL.Force, itself grounded in LogWriter.Force's flush-if-needed check.
func (m *Manager) Flush(lsn primitives.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lsn < m.bufferedAt {
		return nil
	}
	return m.flushLocked()
}

// LastLSN returns the offset the next Append will occupy.
func (m *Manager) LastLSN() primitives.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLSN
}

// FlushedLSN returns the highest LSN known durable.
func (m *Manager) FlushedLSN() primitives.LSN {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	return m.flushedLSN
}

// Close flushes any buffered records and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	err := m.flushLocked()
	m.mu.Unlock()
	if closeErr := m.file.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Reader scans the durable portion of the log sequentially from a given
// LSN, grounded on the teacher's LogReader (header-then-body ReadNext,
// LSN assigned from the read offset rather than stored in the record).
type Reader struct {
	file   *os.File
	reader *bufio.Reader
	offset primitives.LSN
}

// NewReader opens an independent read handle onto the log positioned at
// from, which must be masterRecordBytes or a previously returned LSN.
func (m *Manager) NewReader(from primitives.LSN) (*Reader, error) {
	file, err := os.Open(m.path)
	if err != nil {
		return nil, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "NewReader", "log")
	}
	start := from
	if start < masterRecordBytes {
		start = masterRecordBytes
	}
	if _, err := file.Seek(int64(start), io.SeekStart); err != nil { //nolint:gosec
		file.Close()
		return nil, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "NewReader", "log")
	}
	return &Reader{file: file, reader: bufio.NewReader(file), offset: start}, nil
}

// Next reads and deserializes the record at the reader's current position,
// advancing past it. Returns io.EOF when there is nothing further to read.
func (r *Reader) Next() (*record.Record, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r.reader, sizeBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, dberrors.Wrap(err, dberrors.CodeCorruptedLog, "Next", "log")
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size < 4 || int(size) > maxRecordBytes {
		return nil, dberrors.Fatal(dberrors.CodeCorruptedLog, "log", fmt.Sprintf("implausible record size %d at offset %d", size, r.offset))
	}

	body := make([]byte, size)
	copy(body, sizeBuf[:])
	if _, err := io.ReadFull(r.reader, body[4:]); err != nil {
		return nil, dberrors.Fatal(dberrors.CodeUnterminatedLog, "log", fmt.Sprintf("truncated record at offset %d: %v", r.offset, err))
	}

	rec, err := record.Deserialize(body)
	if err != nil {
		return nil, dberrors.Fatal(dberrors.CodeCorruptedLog, "log", fmt.Sprintf("record at offset %d: %v", r.offset, err))
	}
	rec.LSN = r.offset
	r.offset += primitives.LSN(size) //nolint:gosec
	return rec, nil
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}
