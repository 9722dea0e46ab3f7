// Package daemon runs the background sync service.
//
// The daemon:
//  1. Runs a sync cycle on a fixed interval
//  2. Watches the inbox directory and imports dropped .apkg files
//  3. Wakes queued upload retries when the backend becomes reachable
//  4. Handles graceful shutdown
//
// It owns no data of its own: the engine drains the store's mutation log,
// the importer writes through the store, and the network monitor only pokes
// the engine's error queue. One daemon runs per data directory, enforced by
// the pidfile lock.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/leitnerhq/leitner/internal/apkg"
	"github.com/leitnerhq/leitner/internal/netmon"
	"github.com/leitnerhq/leitner/internal/sync"
)

// Config holds daemon tuning.
type Config struct {
	// SyncInterval is how often a full sync cycle runs.
	SyncInterval time.Duration

	// DebounceInterval is how long a dropped package must sit quiet before
	// its import starts. Copies into the inbox arrive as bursts of writes,
	// and importing a half-copied zip fails.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// NewLogger returns a daemon logger writing to a size-rotated file. An empty
// path falls back to stderr.
func NewLogger(path string) *log.Logger {
	if path == "" {
		return log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}, "[daemon] ", log.LstdFlags)
}

// Daemon orchestrates the sync schedule, the inbox watcher, and the network
// monitor.
type Daemon struct {
	engine   *sync.Engine
	importer *apkg.Importer
	monitor  *netmon.Monitor
	inboxDir string
	config   *Config

	watcher      *fsnotify.Watcher
	syncRequests chan struct{}

	importQueue map[string]time.Time
	importMu    stdsync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a daemon. The monitor may be nil when no sync endpoint is
// configured; everything else is required. Zero config fields take
// defaults. Use Start to begin operation.
func New(engine *sync.Engine, importer *apkg.Importer, monitor *netmon.Monitor, inboxDir string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if importer == nil {
		return nil, fmt.Errorf("importer cannot be nil")
	}
	if inboxDir == "" {
		return nil, fmt.Errorf("inboxDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = def.SyncInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:       engine,
		importer:     importer,
		monitor:      monitor,
		inboxDir:     inboxDir,
		config:       config,
		watcher:      watcher,
		syncRequests: make(chan struct{}, 1),
		importQueue:  make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon attempts one sync immediately; failure there means offline
// mode, not a startup error. Packages already sitting in the inbox are
// queued for import before watching begins.
//
// Start blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Initial sync attempt. The backend may be unreachable; queued work
	// stays in the mutation log and the network monitor wakes retries.
	if _, _, err := d.engine.Sync(d.ctx); err != nil {
		d.config.Logger.Printf("Initial sync failed, continuing offline: %v", err)
	}

	if err := os.MkdirAll(d.inboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}
	if err := d.watcher.Add(d.inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}
	d.scanInbox()
	d.config.Logger.Printf("Watching inbox: %s", d.inboxDir)

	if d.monitor != nil {
		d.monitor.OnReachable = func() {
			d.engine.Queue().RetryAll()
		}
		if err := d.monitor.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start network monitor: %w", err)
		}
	}

	d.wg.Add(3)
	go d.watchInboxEvents()
	go d.processImportQueue()
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. The monitor stops first so no
// retry wakes after teardown begins; the engine itself is closed by
// whoever owns it, after Stop returns.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	if d.monitor != nil {
		d.monitor.Stop()
	}
	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// RequestSync asks the sync loop to run a cycle soon. Multiple requests
// before the loop gets there collapse into one.
func (d *Daemon) RequestSync() {
	select {
	case d.syncRequests <- struct{}{}:
	default:
	}
}

// scanInbox queues packages that arrived while the daemon was down.
func (d *Daemon) scanInbox() {
	entries, err := os.ReadDir(d.inboxDir)
	if err != nil {
		d.config.Logger.Printf("Error scanning inbox: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isPackage(entry.Name()) {
			continue
		}
		d.queueImport(filepath.Join(d.inboxDir, entry.Name()))
	}
}

// watchInboxEvents monitors filesystem events and queues package imports.
func (d *Daemon) watchInboxEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			// Create covers files moved into the inbox, Write covers copies
			// in progress. Renames to .imported fall outside the mask.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isPackage(event.Name) {
				continue
			}
			d.config.Logger.Printf("Inbox event: %s %s", event.Op, event.Name)
			d.queueImport(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func isPackage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".apkg")
}

// queueImport records the file with a timestamp; the processing loop picks
// it up once it has been quiet for a full debounce interval.
func (d *Daemon) queueImport(path string) {
	d.importMu.Lock()
	defer d.importMu.Unlock()

	d.importQueue[path] = time.Now()
}

// processImportQueue imports queued packages once their writes settle.
func (d *Daemon) processImportQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, path := range d.takeSettled() {
				d.importPackage(path)
			}
		}
	}
}

// takeSettled removes and returns queue entries older than the debounce
// interval.
func (d *Daemon) takeSettled() []string {
	d.importMu.Lock()
	defer d.importMu.Unlock()

	var ready []string
	now := time.Now()
	for path, queuedAt := range d.importQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.importQueue, path)
	}
	return ready
}

// importPackage runs one import and renames the file out of the watch set
// so it is not imported again on the next daemon start. Failed files stay
// put: replacing them with a fixed copy re-queues them.
func (d *Daemon) importPackage(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	d.config.Logger.Printf("Importing %s", filepath.Base(path))
	res, err := d.importer.Import(d.ctx, path)
	if err != nil {
		d.config.Logger.Printf("Error importing %s: %v", filepath.Base(path), err)
		return
	}
	d.config.Logger.Printf("Imported %s: %d decks, %d cards, %d media files (%d skipped)",
		filepath.Base(path), res.Decks, res.Cards, res.MediaFiles, res.SkippedCards+res.SkippedMedia)

	if err := os.Rename(path, path+".imported"); err != nil {
		d.config.Logger.Printf("Error renaming imported package: %v", err)
	}

	// The imported records sit in the mutation log; upload them now rather
	// than waiting out the interval.
	d.RequestSync()
}

// syncLoop runs sync cycles on the interval and on demand. All cycles run
// here, one at a time; the mutation log has a single drain writer.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		case <-d.syncRequests:
		}

		drain, pull, err := d.engine.Sync(d.ctx)
		if err != nil {
			d.config.Logger.Printf("Sync failed: %v", err)
			continue
		}
		if drain.Total > 0 || pull.Applied > 0 {
			d.config.Logger.Printf("Sync complete: %d uploaded, %d failed, %d conflicts, %d pulled",
				drain.Uploaded, drain.Failed, drain.Conflicts, pull.Applied)
		}
	}
}
