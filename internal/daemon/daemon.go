package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mstride/historyd/internal/dashboard"
	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/report"
	"github.com/mstride/historyd/internal/store"
	"github.com/mstride/historyd/internal/syncstate"
)

// Config holds configuration for the daemon.
type Config struct {
	// SpoolDir is the directory the report source drops batch files in.
	SpoolDir string

	// DebounceInterval is how long to wait before processing spool
	// changes. This batches rapid drops together.
	DebounceInterval time.Duration

	// PurgeInterval is how often to purge report metadata older than
	// the current day.
	PurgeInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		PurgeInterval:    6 * time.Hour,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Notify is the merge completion callback. res is nil when err is non-nil.
type Notify func(res *merge.Result, err error)

// queuedBatch is one unit of work for the merge worker. path names the
// spool file the batch came from, removed after a successful merge;
// directly delivered batches have no path.
type queuedBatch struct {
	records []report.Record
	path    string
}

// Daemon owns every write to the history store. All merges for a store
// instance run serialized on its single merge worker, so concurrently
// arriving report batches can never interleave their writes.
type Daemon struct {
	db      *store.DB
	merger  merge.Merger
	tracker *syncstate.Tracker
	dash    *dashboard.Server
	config  *Config

	watcher       *SpoolWatcher
	changeQueue   map[string]time.Time // filepath -> queued-at
	changeQueueMu sync.Mutex

	batches chan queuedBatch
	notify  Notify

	ready     chan struct{}
	readyOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The store must already be open (use store.OpenWithRecovery so a corrupt
// store gets its one destroy-and-recreate retry before the daemon sees
// it). Use Start() to begin watching and merging.
func New(db *store.DB, merger merge.Merger, tracker *syncstate.Tracker, config *Config) (*Daemon, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if merger == nil {
		return nil, fmt.Errorf("merger cannot be nil")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SpoolDir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 200 * time.Millisecond
	}
	if config.PurgeInterval <= 0 {
		config.PurgeInterval = 6 * time.Hour
	}

	watcher, err := NewSpoolWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		db:          db,
		merger:      merger,
		tracker:     tracker,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		batches:     make(chan queuedBatch, 100),
		ready:       make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// SetDashboard attaches a dashboard server for event broadcasts.
// Must be called before Start.
func (d *Daemon) SetDashboard(s *dashboard.Server) {
	d.dash = s
}

// SetNotify attaches a merge completion callback.
// Must be called before Start.
func (d *Daemon) SetNotify(fn Notify) {
	d.notify = fn
}

// Ready returns a channel closed once the store marker is loaded and the
// daemon accepts work. Closed exactly once per process lifetime.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Deliver queues a batch of report records for merging. It never blocks
// the caller: completion is reported asynchronously through the Notify
// callback and the dashboard broadcasts.
func (d *Daemon) Deliver(records []report.Record) {
	if len(records) == 0 {
		return
	}
	select {
	case d.batches <- queuedBatch{records: records}:
	case <-d.ctx.Done():
	default:
		d.config.Logger.Printf("WARNING: merge queue full, dropping batch of %d records", len(records))
	}
}

// FetchSpecs tells the report source what to fetch next, judged at now.
func (d *Daemon) FetchSpecs(now time.Time) []syncstate.FetchSpec {
	return d.tracker.Query(now)
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Seed the sync marker from the store and signal readiness
// 2. Sweep batches already sitting in the spool
// 3. Watch the spool for new batch files, debounced
// 4. Merge queued batches one at a time
// 5. Periodically purge report metadata from prior days
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// A failed marker load is non-fatal: the tracker stays empty and the
	// next sync just fetches a wider window.
	if err := d.tracker.Load(d.ctx, d.db); err != nil {
		d.config.Logger.Printf("WARNING: %v", err)
	}

	d.signalReady()

	d.purgeReportLog()

	if err := os.MkdirAll(d.config.SpoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	d.sweepSpool()

	if err := d.watcher.Start(d.config.SpoolDir); err != nil {
		return fmt.Errorf("failed to start spool watcher: %w", err)
	}

	d.config.Logger.Printf("Watching spool: %s", d.config.SpoolDir)

	d.wg.Add(4)
	go d.watchSpoolEvents()
	go d.processChangeQueue()
	go d.mergeWorker()
	go d.purgeLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// signalReady closes the ready channel and broadcasts store readiness,
// exactly once.
func (d *Daemon) signalReady() {
	d.readyOnce.Do(func() {
		close(d.ready)
		if d.dash != nil {
			d.dash.BroadcastStoreReady()
		}
		d.config.Logger.Println("Store ready")
	})
}

// sweepSpool queues every batch file already sitting in the spool.
// Unreadable files are skipped with a warning inside ReadAllBatchFiles.
func (d *Daemon) sweepSpool() {
	batches, err := report.ReadAllBatchFiles(d.config.SpoolDir)
	if err != nil {
		d.config.Logger.Printf("WARNING: failed to sweep spool: %v", err)
		return
	}
	if len(batches) == 0 {
		return
	}

	d.config.Logger.Printf("Queueing %d spooled batches", len(batches))
	for _, batch := range batches {
		b := queuedBatch{records: batch.Records}
		select {
		case d.batches <- b:
		case <-d.ctx.Done():
			return
		}
	}
}

// watchSpoolEvents monitors spool events and queues changes.
func (d *Daemon) watchSpoolEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if event.Op == OpDelete {
				continue
			}

			d.config.Logger.Printf("Spool event: %s %s", event.Op, event.Path)
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a spool file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains spool files that have settled for at least
// the debounce interval and queues their batches for merging.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges reads settled spool files and queues their
// records. Read failures are logged and the file is dropped from the
// queue; the next write event re-queues it.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		delete(d.changeQueue, path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		batch, err := report.ReadBatchFile(path)
		if err != nil {
			d.config.Logger.Printf("WARNING: skipping unreadable batch %s: %v", path, err)
			continue
		}

		select {
		case d.batches <- queuedBatch{records: batch.Records, path: path}:
		case <-d.ctx.Done():
			return
		default:
			d.config.Logger.Printf("WARNING: merge queue full, leaving batch %s in spool", path)
			d.changeQueue[path] = now
		}
	}
}

// mergeWorker is the single writer: it merges queued batches one at a
// time so no two batches ever interleave their store writes.
func (d *Daemon) mergeWorker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case b := <-d.batches:
			d.runMerge(b)
		}
	}
}

// runMerge merges one batch and reports the outcome.
func (d *Daemon) runMerge(b queuedBatch) {
	res, err := d.merger.Merge(d.ctx, b.records)
	if err != nil {
		// The batch rolled back whole; the sync marker was not advanced,
		// so the next sync cycle re-fetches and retries naturally.
		d.config.Logger.Printf("Merge failed (%d records): %v", len(b.records), err)
		if d.dash != nil {
			d.dash.BroadcastMergeFailed(dashboard.MergeFailedData{
				Records: len(b.records),
				Error:   err.Error(),
			})
		}
		if d.notify != nil {
			d.notify(nil, err)
		}
		return
	}

	if !res.LatestItem.IsZero() {
		d.tracker.Advance(res.LatestItem)
	}

	if b.path != "" {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			d.config.Logger.Printf("WARNING: failed to remove merged batch %s: %v", b.path, err)
		}
	}

	if d.dash != nil {
		d.dash.BroadcastMergeComplete(dashboard.MergeCompleteData{
			Records:  len(b.records),
			Created:  res.Created,
			Updated:  res.Updated,
			Skipped:  res.Skipped,
			Failed:   res.Failed,
			Days:     res.Days,
			Duration: res.Duration,
		})
	}
	if d.notify != nil {
		d.notify(res, nil)
	}
}

// purgeLoop periodically purges report metadata from prior days.
func (d *Daemon) purgeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.purgeReportLog()
		}
	}
}

// purgeReportLog drops cached report metadata older than today. Purge
// failures are non-fatal; the next cycle retries.
func (d *Daemon) purgeReportLog() {
	today := time.Now().Format("2006-01-02")
	n, err := d.db.PurgeReportLogBefore(d.ctx, today)
	if err != nil {
		d.config.Logger.Printf("WARNING: report log purge failed: %v", err)
		return
	}
	if n > 0 {
		d.config.Logger.Printf("Purged %d report log entries older than %s", n, today)
	}
}
