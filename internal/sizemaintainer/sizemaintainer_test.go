package sizemaintainer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/audiofs/audiofs/internal/cachestore"
)

func newTestStore(t *testing.T) *cachestore.Store {
	t.Helper()
	s, err := cachestore.New(&cachestore.Config{Directory: t.TempDir(), Logger: zap.NewNop().Sugar()})
	if err != nil {
		t.Fatalf("cachestore.New() error = %v", err)
	}
	return s
}

func promote(t *testing.T, s *cachestore.Store, fp string, size int) {
	t.Helper()
	slot, err := s.Reserve(fp)
	if err != nil {
		t.Fatalf("Reserve(%q) error = %v", fp, err)
	}
	if _, err := slot.Writer().Write(make([]byte, size)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := s.Promote(slot); err != nil {
		t.Fatalf("Promote(%q) error = %v", fp, err)
	}
}

func TestSweepEvictsLRUUnpinnedOverBudget(t *testing.T) {
	store := newTestStore(t)
	promote(t, store, "old", 100)
	time.Sleep(5 * time.Millisecond)
	promote(t, store, "new", 100)

	m, err := New(&Config{Store: store, Logger: zap.NewNop().Sugar(), BudgetBytes: 150, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.sweep(context.Background())

	if store.TotalReadyBytes() != 100 {
		t.Fatalf("TotalReadyBytes() = %d, want 100 (one entry evicted)", store.TotalReadyBytes())
	}
	if state, _, _ := store.Probe("old"); state != cachestore.StateAbsent {
		t.Fatalf("older entry state = %v, want evicted (StateAbsent)", state)
	}
	if state, _, _ := store.Probe("new"); state != cachestore.StateReady {
		t.Fatalf("newer entry state = %v, want StateReady (kept)", state)
	}
}

func TestSweepSkipsPinnedEntries(t *testing.T) {
	store := newTestStore(t)
	promote(t, store, "fp1", 100)

	handle, err := store.Acquire("fp1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer handle.Close()

	m, err := New(&Config{Store: store, Logger: zap.NewNop().Sugar(), BudgetBytes: 0, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.sweep(context.Background())

	if state, _, _ := store.Probe("fp1"); state != cachestore.StateReady {
		t.Fatalf("pinned entry state = %v, want StateReady (never evicted while pinned)", state)
	}
}

func TestSweepSkipsExcludedAndUndersizedEntries(t *testing.T) {
	store := newTestStore(t)
	promote(t, store, "excluded", 1000)
	promote(t, store, "tiny", 10)

	m, err := New(&Config{
		Store:            store,
		Logger:           zap.NewNop().Sugar(),
		BudgetBytes:      0,
		MinEvictableSize: 100,
		ExclusionList:    []string{"excluded"},
		SweepInterval:    time.Hour,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.sweep(context.Background())

	if state, _, _ := store.Probe("excluded"); state != cachestore.StateReady {
		t.Fatalf("excluded entry state = %v, want StateReady", state)
	}
	if state, _, _ := store.Probe("tiny"); state != cachestore.StateReady {
		t.Fatalf("undersized entry state = %v, want StateReady (below MinEvictableSize)", state)
	}
}

func TestSweepNoopUnderBudget(t *testing.T) {
	store := newTestStore(t)
	promote(t, store, "fp1", 10)

	m, err := New(&Config{Store: store, Logger: zap.NewNop().Sugar(), BudgetBytes: 1000, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.sweep(context.Background())

	if state, _, _ := store.Probe("fp1"); state != cachestore.StateReady {
		t.Fatalf("entry state under budget = %v, want StateReady", state)
	}
}

func TestKickTriggersImmediateSweep(t *testing.T) {
	store := newTestStore(t)
	promote(t, store, "fp1", 100)

	m, err := New(&Config{Store: store, Logger: zap.NewNop().Sugar(), BudgetBytes: 0, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	m.Kick()

	deadline := time.After(time.Second)
	for {
		if state, _, _ := store.Probe("fp1"); state == cachestore.StateAbsent {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Kick did not trigger an eviction sweep within 1s")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-runDone
}

func TestEvictionLogPathRecordsEvictions(t *testing.T) {
	store := newTestStore(t)
	promote(t, store, "old", 100)
	time.Sleep(5 * time.Millisecond)
	promote(t, store, "new", 100)

	logPath := filepath.Join(t.TempDir(), "evictions.jsonl")
	m, err := New(&Config{
		Store: store, Logger: zap.NewNop().Sugar(),
		BudgetBytes: 150, SweepInterval: time.Hour,
		EvictionLogPath: logPath,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer m.Close()

	m.sweep(context.Background())

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile(%q) error = %v", logPath, err)
	}
	record := string(contents)
	if !strings.Contains(record, `"fingerprint":"old"`) {
		t.Fatalf("eviction log = %q, want a record naming the evicted fingerprint", record)
	}
	if !strings.Contains(record, `"bytes":100`) {
		t.Fatalf("eviction log = %q, want a record with the evicted byte size", record)
	}
	if !strings.Contains(record, `"age"`) {
		t.Fatalf("eviction log = %q, want a record with the entry's age", record)
	}
}

func TestEvictionLogPathEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	promote(t, store, "fp1", 100)

	m, err := New(&Config{Store: store, Logger: zap.NewNop().Sugar(), BudgetBytes: 0, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.sweep(context.Background())

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v, want nil for an unconfigured eviction log sink", err)
	}
}
