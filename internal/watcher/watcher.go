// Package watcher turns vault file changes into sync cycles. An
// fsnotify watch covers every non-ignored directory under the vault
// root; events pass through the scanner's ignore rules, a debouncer
// coalesces bursts, and each surviving batch triggers one incremental
// sync.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/index"
	"github.com/vaultrag/vaultrag/internal/scanner"
)

// DefaultDebounce is the quiet window before a burst of changes
// triggers a sync.
const DefaultDebounce = 2 * time.Second

// Op classifies a coalesced file event.
type Op int

const (
	// OpCreate marks a new file or directory.
	OpCreate Op = iota
	// OpModify marks a changed file.
	OpModify
	// OpDelete marks a removed file or directory.
	OpDelete
	// OpRename marks a file or directory moved away from its path.
	OpRename
	// OpIgnoreChange marks a .ragignore edit. The scanner rules were
	// already reloaded; the following sync reconciles newly ignored
	// and unignored files.
	OpIgnoreChange
)

// String returns the operation name used in logs.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpIgnoreChange:
		return "ignore_change"
	default:
		return "unknown"
	}
}

// Event is one coalesced vault change. Path is vault-relative in
// POSIX form.
type Event struct {
	Path string
	Op   Op
}

// Syncer runs one incremental cycle. *index.Syncer satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (index.SyncResult, error)
}

// Config wires a Watcher.
type Config struct {
	// Scanner provides the vault root and the ignore rules events are
	// filtered through. Required.
	Scanner *scanner.Scanner

	// Syncer runs a cycle per change batch. Required.
	Syncer Syncer

	// Debounce is the quiet window; DefaultDebounce when zero.
	Debounce time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Watcher reacts to vault changes by scheduling incremental syncs.
// A Watcher runs once; create a new one to watch again.
type Watcher struct {
	scanner   *scanner.Scanner
	syncer    Syncer
	debouncer *Debouncer
	logger    *slog.Logger

	// dirs tracks watched directories by relative path so delete and
	// rename events can be classified after the entry is gone. Only
	// the Run goroutine touches it.
	dirs map[string]struct{}
}

// New validates the config and builds a Watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Scanner == nil {
		return nil, errors.ValidationError("watcher requires a scanner", nil)
	}
	if cfg.Syncer == nil {
		return nil, errors.ValidationError("watcher requires a syncer", nil)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		scanner:   cfg.Scanner,
		syncer:    cfg.Syncer,
		debouncer: NewDebouncer(debounce),
		logger:    logger.With("component", "watcher"),
		dirs:      make(map[string]struct{}),
	}, nil
}

// Run watches the vault until ctx is done. Sync cycles run on their
// own goroutine so a slow cycle never backs up event intake.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.IOError("failed to start filesystem watcher", err)
	}
	defer fsw.Close()

	if err := w.watchTree(fsw, w.scanner.Root()); err != nil {
		w.debouncer.Stop()
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.consumeBatches(ctx)
	}()
	defer func() {
		w.debouncer.Stop()
		<-done
	}()

	w.logger.Info("watching_vault",
		slog.String("root", w.scanner.Root()),
		slog.Int("directories", len(w.dirs)+1),
		slog.Duration("debounce", w.debouncer.window))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent filters one fsnotify event through the scanner rules
// and feeds survivors to the debouncer. Chmod-only events are dropped.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(w.scanner.Root(), event.Name)
	if err != nil {
		return
	}
	relPosix := scanner.NormalizePath(rel)
	if relPosix == "." || relPosix == "" {
		return
	}

	if relPosix == scanner.RagignoreFile {
		w.reloadRules()
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		w.handleCreate(fsw, event.Name, relPosix)
	case event.Op.Has(fsnotify.Write):
		if w.scanner.Indexable(relPosix) {
			w.add(Event{Path: relPosix, Op: OpModify})
		}
	case event.Op.Has(fsnotify.Remove):
		w.handleGone(relPosix, OpDelete)
	case event.Op.Has(fsnotify.Rename):
		w.handleGone(relPosix, OpRename)
	}
}

func (w *Watcher) handleCreate(fsw *fsnotify.Watcher, absPath, relPosix string) {
	info, err := os.Stat(absPath)
	if err != nil {
		// Already gone again; the remove event follows.
		return
	}

	if info.IsDir() {
		if w.scanner.SkipDir(relPosix) {
			return
		}
		// A directory moved into the vault arrives as a single event,
		// so watch its subtree and let one sync pick up the contents.
		if err := w.watchTree(fsw, absPath); err != nil {
			w.logger.Warn("watch_subtree_failed",
				slog.String("path", relPosix),
				slog.String("error", err.Error()))
		}
		w.add(Event{Path: relPosix, Op: OpCreate})
		return
	}

	if w.scanner.Indexable(relPosix) {
		w.add(Event{Path: relPosix, Op: OpCreate})
	}
}

// handleGone classifies a removed or renamed-away path. The entry no
// longer exists on disk, so directories are recognized by the watch
// set instead of a stat.
func (w *Watcher) handleGone(relPosix string, op Op) {
	if _, ok := w.dirs[relPosix]; ok {
		w.forgetTree(relPosix)
		w.add(Event{Path: relPosix, Op: op})
		return
	}
	if w.scanner.Indexable(relPosix) {
		w.add(Event{Path: relPosix, Op: op})
	}
}

// reloadRules re-reads .ragignore and schedules a reconciliation sync
// so newly ignored files leave the index and unignored ones enter it.
func (w *Watcher) reloadRules() {
	if err := w.scanner.Reload(); err != nil {
		w.logger.Warn("ragignore_reload_failed",
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("ignore_rules_reloaded")
	w.add(Event{Path: scanner.RagignoreFile, Op: OpIgnoreChange})
}

func (w *Watcher) add(event Event) {
	w.logger.Debug("file_event",
		slog.String("path", event.Path),
		slog.String("op", event.Op.String()))
	w.debouncer.Add(event)
}

// watchTree registers root and every non-ignored directory below it.
func (w *Watcher) watchTree(fsw *fsnotify.Watcher, root string) error {
	vaultRoot := w.scanner.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("watch_entry_skipped",
				slog.String("path", path),
				slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(vaultRoot, path)
		if err != nil {
			return nil
		}
		relPosix := scanner.NormalizePath(rel)
		if relPosix != "." && w.scanner.SkipDir(relPosix) {
			return filepath.SkipDir
		}

		if err := fsw.Add(path); err != nil {
			return err
		}
		if relPosix != "." {
			w.dirs[relPosix] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return errors.IOError("failed to watch vault directories", err).
			WithDetail("root", root)
	}
	return nil
}

// forgetTree drops a directory and everything under it from the watch
// set; fsnotify releases the kernel watches itself.
func (w *Watcher) forgetTree(relPosix string) {
	delete(w.dirs, relPosix)
	prefix := relPosix + "/"
	for dir := range w.dirs {
		if strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
		}
	}
}

// consumeBatches turns debounced batches into sync cycles, one at a
// time.
func (w *Watcher) consumeBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.runSync(ctx, batch)
		}
	}
}

func (w *Watcher) runSync(ctx context.Context, batch []Event) {
	w.logger.Info("vault_changed", slog.Int("events", len(batch)))

	result, err := w.syncer.Sync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.GetCode(err) == errors.ErrCodeSyncInProgress {
			// Another writer holds the collection lock. Requeue the
			// batch for the next window instead of losing the changes.
			for _, event := range batch {
				w.debouncer.Add(event)
			}
			w.logger.Debug("sync_busy_requeued", slog.Int("events", len(batch)))
			return
		}
		w.logger.Error("watch_sync_failed", slog.String("error", err.Error()))
		return
	}

	w.logger.Info("watch_sync_complete",
		slog.Int("added", result.Added),
		slog.Int("modified", result.Modified),
		slog.Int("deleted", result.Deleted),
		slog.Int("skipped", result.Skipped))
}
