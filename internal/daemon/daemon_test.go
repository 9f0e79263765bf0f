package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/report"
	"github.com/mstride/historyd/internal/store"
	"github.com/mstride/historyd/internal/syncstate"
)

// testHarness bundles a running daemon with its store and a channel of
// merge outcomes.
type testHarness struct {
	db      *store.DB
	daemon  *Daemon
	tracker *syncstate.Tracker
	spool   string
	results chan *merge.Result
	cancel  context.CancelFunc
}

// startTestDaemon spins up a daemon over a fresh store and waits for it
// to become ready.
func startTestDaemon(t *testing.T) *testHarness {
	t.Helper()

	tmpDir := t.TempDir()
	spoolDir := filepath.Join(tmpDir, "spool")

	db, err := store.Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	merger := merge.New(db, nil, quiet)
	tracker := syncstate.New([]string{"tapping"})

	d, err := New(db, merger, tracker, &Config{
		SpoolDir:         spoolDir,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           quiet,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	results := make(chan *merge.Result, 10)
	d.SetNotify(func(res *merge.Result, err error) {
		if err == nil {
			results <- res
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Start(ctx) }()
	t.Cleanup(cancel)

	select {
	case <-d.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for daemon readiness")
	}

	return &testHarness{db: db, daemon: d, tracker: tracker, spool: spoolDir, results: results, cancel: cancel}
}

func testTapRecord(t *testing.T, ts time.Time) report.Record {
	t.Helper()
	data, err := json.Marshal(report.TapPayload{LeftTapCount: 30, RightTapCount: 31})
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return report.Record{TaskID: "tapping", Date: ts, TZSeconds: 0, ClientData: data}
}

func waitForResult(t *testing.T, h *testHarness) *merge.Result {
	t.Helper()
	select {
	case res := <-h.results:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout waiting for merge result")
		return nil
	}
}

// TestDaemon_DeliverMerges tests the direct delivery path end to end:
// queue, merge, marker advance.
func TestDaemon_DeliverMerges(t *testing.T) {
	h := startTestDaemon(t)

	ts := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	h.daemon.Deliver([]report.Record{testTapRecord(t, ts)})

	res := waitForResult(t, h)
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1", res.Created)
	}

	latest := h.tracker.Latest()
	if latest == nil || !latest.Equal(ts) {
		t.Errorf("tracker marker = %v, want %v", latest, ts)
	}

	count, err := h.db.ItemCount(context.Background())
	if err != nil {
		t.Fatalf("ItemCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("item count = %d, want 1", count)
	}
}

// TestDaemon_SpoolPickup tests that a batch file dropped into the spool
// is merged and then removed.
func TestDaemon_SpoolPickup(t *testing.T) {
	h := startTestDaemon(t)

	batch := &report.Batch{
		FetchedAt: time.Now(),
		Records:   []report.Record{testTapRecord(t, time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))},
	}
	path, err := report.WriteBatchFile(h.spool, batch)
	if err != nil {
		t.Fatalf("WriteBatchFile() failed: %v", err)
	}

	res := waitForResult(t, h)
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1", res.Created)
	}

	// The merged spool file is cleaned up shortly after the merge.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Merged spool file was not removed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestDaemon_SweepsExistingSpool tests that batches already sitting in
// the spool at startup are merged without any file event.
func TestDaemon_SweepsExistingSpool(t *testing.T) {
	tmpDir := t.TempDir()
	spoolDir := filepath.Join(tmpDir, "spool")

	batch := &report.Batch{
		FetchedAt: time.Now(),
		Records: []report.Record{{
			TaskID:    "walking",
			Date:      time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
			TZSeconds: 0,
		}},
	}
	if _, err := report.WriteBatchFile(spoolDir, batch); err != nil {
		t.Fatalf("WriteBatchFile() failed: %v", err)
	}

	db, err := store.Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	d, err := New(db, merge.New(db, nil, quiet), syncstate.New([]string{"walking"}), &Config{
		SpoolDir: spoolDir,
		Logger:   quiet,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	results := make(chan *merge.Result, 1)
	d.SetNotify(func(res *merge.Result, err error) {
		if err == nil {
			results <- res
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	select {
	case res := <-results:
		if res.Created != 1 {
			t.Errorf("Created = %d, want 1", res.Created)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout waiting for startup sweep merge")
	}
}

// TestDaemon_ReadyExactlyOnce tests that the ready channel closes once
// and stays closed.
func TestDaemon_ReadyExactlyOnce(t *testing.T) {
	h := startTestDaemon(t)

	for i := 0; i < 2; i++ {
		select {
		case <-h.daemon.Ready():
		default:
			t.Fatal("Ready() channel not closed")
		}
	}
}

// TestDaemon_SeedsMarkerFromStore tests that an existing store seeds the
// sync marker before readiness is signaled.
func TestDaemon_SeedsMarkerFromStore(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := store.Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	ts := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	ctx := context.Background()
	err = db.RunAtomic(ctx, func(tx *store.Tx) error {
		it := store.NewItem(store.KindTap, "tapping")
		it.Title = "Tap Test"
		it.Timestamp = ts
		it.ReportDate = ts
		it.DateBucket = "2026-03-14"
		return tx.InsertItem(ctx, it)
	})
	if err != nil {
		t.Fatalf("InsertItem() failed: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	tracker := syncstate.New([]string{"tapping"})
	d, err := New(db, merge.New(db, nil, quiet), tracker, &Config{
		SpoolDir: filepath.Join(tmpDir, "spool"),
		Logger:   quiet,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(runCtx) }()

	select {
	case <-d.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for readiness")
	}

	latest := tracker.Latest()
	if latest == nil || !latest.Equal(ts) {
		t.Errorf("marker after load = %v, want %v", latest, ts)
	}
}
