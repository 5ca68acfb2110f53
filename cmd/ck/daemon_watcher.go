package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debouncer coalesces bursts of triggers into one callback after a quiet
// period. SQLite commits touch the db, wal, and shm files in quick
// succession; git checkout rewrites HEAD more than once.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// fileWatcher monitors the database file for external writers and
// .git/HEAD for branch switches, via fsnotify or a polling fallback.
type fileWatcher struct {
	watcher     *fsnotify.Watcher
	dbDebounce  *debouncer
	gitDebounce *debouncer

	dbPath   string
	dbDir    string
	headPath string

	pollingMode  bool
	pollInterval time.Duration
	lastDBMod    time.Time
	lastDBSize   int64
	lastHeadMod  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newFileWatcher prepares a watcher for dbPath and headPath. headPath may
// be empty when the workspace is not a git repository. onDBChange and
// onBranchChange fire after debouncing. fsnotify failures degrade to
// polling instead of refusing to start.
func newFileWatcher(dbPath, headPath string, onDBChange, onBranchChange func()) (*fileWatcher, error) {
	fw := &fileWatcher{
		dbPath:       dbPath,
		dbDir:        filepath.Dir(dbPath),
		headPath:     headPath,
		dbDebounce:   newDebouncer(500*time.Millisecond, onDBChange),
		gitDebounce:  newDebouncer(500*time.Millisecond, onBranchChange),
		pollInterval: 5 * time.Second,
	}

	if stat, err := os.Stat(dbPath); err == nil {
		fw.lastDBMod = stat.ModTime()
		fw.lastDBSize = stat.Size()
	}
	if headPath != "" {
		if stat, err := os.Stat(headPath); err == nil {
			fw.lastHeadMod = stat.ModTime()
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fw.pollingMode = true
		return fw, nil
	}
	fw.watcher = watcher

	// Watching the directory catches create/rename, which a direct file
	// watch misses when the file is replaced.
	if err := watcher.Add(fw.dbDir); err != nil {
		_ = watcher.Close()
		fw.watcher = nil
		fw.pollingMode = true
		return fw, nil
	}
	_ = watcher.Add(dbPath)
	if headPath != "" {
		_ = watcher.Add(headPath)
	}
	return fw, nil
}

// Start begins monitoring until the context is canceled or Close is called.
func (fw *fileWatcher) Start(ctx context.Context, log *daemonLogger) {
	ctx, cancel := context.WithCancel(ctx)
	fw.cancel = cancel

	if fw.pollingMode {
		log.log("fsnotify unavailable, polling every %v", fw.pollInterval)
		fw.startPolling(ctx)
		return
	}

	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		for {
			select {
			case event, ok := <-fw.watcher.Events:
				if !ok {
					return
				}
				switch {
				case event.Name == fw.dbPath && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) != 0:
					fw.dbDebounce.Trigger()
				case event.Name == fw.dbPath && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					// Replaced file needs a fresh watch entry.
					_ = fw.watcher.Remove(fw.dbPath)
					_ = fw.watcher.Add(fw.dbPath)
					fw.dbDebounce.Trigger()
				case fw.headPath != "" && event.Name == fw.headPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0:
					// git rewrites HEAD on checkout; re-add in case it
					// was replaced rather than written in place.
					_ = fw.watcher.Add(fw.headPath)
					fw.gitDebounce.Trigger()
				}

			case err, ok := <-fw.watcher.Errors:
				if !ok {
					return
				}
				log.log("watcher error: %v", err)

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (fw *fileWatcher) startPolling(ctx context.Context) {
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		ticker := time.NewTicker(fw.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if stat, err := os.Stat(fw.dbPath); err == nil {
					if !stat.ModTime().Equal(fw.lastDBMod) || stat.Size() != fw.lastDBSize {
						fw.lastDBMod = stat.ModTime()
						fw.lastDBSize = stat.Size()
						fw.dbDebounce.Trigger()
					}
				}
				if fw.headPath != "" {
					if stat, err := os.Stat(fw.headPath); err == nil {
						if !stat.ModTime().Equal(fw.lastHeadMod) {
							fw.lastHeadMod = stat.ModTime()
							fw.gitDebounce.Trigger()
						}
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the watcher goroutines and drops pending debounced calls.
func (fw *fileWatcher) Close() error {
	if fw.cancel != nil {
		fw.cancel()
	}
	fw.wg.Wait()
	fw.dbDebounce.Cancel()
	fw.gitDebounce.Cancel()
	if fw.watcher != nil {
		return fw.watcher.Close()
	}
	return nil
}
