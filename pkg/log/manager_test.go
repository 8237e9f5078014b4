package log

import (
	"io"
	"os"
	"testing"

	"coredb/pkg/config"
	"coredb/pkg/log/record"
	"coredb/pkg/primitives"
)

func newTestManager(t *testing.T) (*Manager, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "coredb_log_test_*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	cfg := config.Default()
	cfg.LogDir = dir
	cfg.LogWriteBufferBytes = 4096

	m, err := Open(cfg)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("open log: %v", err)
	}
	return m, func() {
		m.Close()
		os.RemoveAll(dir)
	}
}

func TestOpenInitializesMasterSlot(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()

	lsn, err := m.ReadMaster()
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	if lsn != primitives.NoLSN {
		t.Errorf("master LSN = %v, want NoLSN on a fresh log", lsn)
	}
	if got := m.LastLSN(); got != masterRecordBytes {
		t.Errorf("first append LSN = %v, want %d (past the master slot)", got, masterRecordBytes)
	}
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()

	lsn1, err := m.Append(&record.Record{Type: record.BeginCheckpoint, TxnID: 0})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	lsn2, err := m.Append(&record.Record{Type: record.BeginCheckpoint, TxnID: 0})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if lsn2 <= lsn1 {
		t.Fatalf("lsn2 (%v) should be greater than lsn1 (%v)", lsn2, lsn1)
	}
}

func TestFlushPersistsToFileReadByIndependentReader(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()

	rec := &record.Record{Type: record.CommitTxn, TxnID: 5, PrevLSN: 0}
	lsn, err := m.Append(rec)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Flush(lsn); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := m.WriteMaster(lsn); err != nil {
		t.Fatalf("write master: %v", err)
	}

	reader, err := m.NewReader(masterRecordBytes)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer reader.Close()

	got, err := reader.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.TxnID != 5 || got.LSN != lsn {
		t.Errorf("read back record = %+v, want TxnID=5 LSN=%v", got, lsn)
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after last record, got %v", err)
	}

	masterLSN, err := m.ReadMaster()
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	if masterLSN != lsn {
		t.Errorf("master LSN = %v, want %v", masterLSN, lsn)
	}
}

func TestReaderScansMultipleRecordsInOrder(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()

	var lsns []primitives.LSN
	for i := int64(1); i <= 5; i++ {
		lsn, err := m.Append(&record.Record{Type: record.CommitTxn, TxnID: i})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		lsns = append(lsns, lsn)
	}
	if err := m.Flush(lsns[len(lsns)-1]); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reader, err := m.NewReader(masterRecordBytes)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer reader.Close()

	for i, wantLSN := range lsns {
		got, err := reader.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if got.LSN != wantLSN || got.TxnID != int64(i+1) {
			t.Errorf("record %d = %+v, want LSN=%v TxnID=%d", i, got, wantLSN, i+1)
		}
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
