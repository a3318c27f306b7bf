package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vaultrag/vaultrag/internal/chunk"
	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/scanner"
	"github.com/vaultrag/vaultrag/internal/store"
)

// defaultHashWorkers bounds the state-hashing pool.
const defaultHashWorkers = 4

// vaultCheckSample is how many registry paths are probed on disk when
// deciding whether the registry still matches the vault.
const vaultCheckSample = 5

// Syncer drives scan -> diff -> chunk -> upsert/delete -> registry
// update cycles against one collection.
type Syncer struct {
	scanner  *scanner.Scanner
	chunker  *chunk.MarkdownChunker
	store    store.VectorStore
	registry *Registry
	lock     *SyncLock
	tracker  *FileTracker
	logger   *slog.Logger

	hashWorkers int
	progress    ProgressFunc
}

// SyncerOption tunes optional syncer behavior.
type SyncerOption func(*Syncer)

// WithProgress installs a progress callback for interactive callers.
func WithProgress(fn ProgressFunc) SyncerOption {
	return func(s *Syncer) { s.progress = fn }
}

// WithHashWorkers sets the size of the state-hashing pool.
func WithHashWorkers(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.hashWorkers = n
		}
	}
}

// NewSyncer wires a syncer over an opened scanner, chunker, store, and
// registry. The lock scopes single-writer discipline to the registry's
// collection.
func NewSyncer(sc *scanner.Scanner, chunker *chunk.MarkdownChunker, vs store.VectorStore, reg *Registry, lock *SyncLock, logger *slog.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		scanner:     sc,
		chunker:     chunker,
		store:       vs,
		registry:    reg,
		lock:        lock,
		tracker:     NewFileTracker(),
		logger:      logger,
		hashWorkers: defaultHashWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncOptions scope one cycle.
type SyncOptions struct {
	// IncludePaths restricts the cycle to files under these POSIX
	// prefixes. Files outside the scope are left untouched, registry
	// entries included.
	IncludePaths []string
	// ForceReindex rebuilds from scratch: the whole collection, or just
	// the scoped subset when IncludePaths is set.
	ForceReindex bool
}

// Sync performs an incremental cycle. When the registry no longer
// matches the vault (different root, or sampled paths missing on disk)
// the cycle is promoted to a full resync.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	return s.SyncWithOptions(ctx, SyncOptions{})
}

// FullSync clears the registry and the store, then syncs everything.
func (s *Syncer) FullSync(ctx context.Context) (SyncResult, error) {
	return s.SyncWithOptions(ctx, SyncOptions{ForceReindex: true})
}

// SyncWithOptions performs one cycle under the given scope.
func (s *Syncer) SyncWithOptions(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	if err := s.lock.Acquire(); err != nil {
		return SyncResult{}, err
	}
	defer s.lock.Release()

	if opts.ForceReindex {
		return s.fullSyncLocked(ctx, opts.IncludePaths)
	}
	if s.vaultChanged() {
		s.logger.Info("vault_changed_full_resync",
			slog.String("registry_vault", s.registry.VaultPath()),
			slog.String("current_vault", s.scanner.Root()))
		return s.fullSyncLocked(ctx, opts.IncludePaths)
	}
	return s.syncLocked(ctx, opts.IncludePaths)
}

func (s *Syncer) fullSyncLocked(ctx context.Context, includePaths []string) (SyncResult, error) {
	if len(includePaths) == 0 {
		s.registry.Clear()
		if err := s.store.Clear(ctx); err != nil {
			return SyncResult{}, err
		}
		return s.syncLocked(ctx, nil)
	}

	// Scoped rebuild: evict just the in-scope entries, leave the rest
	// of the collection alone.
	within := scanner.IncludeFilter(includePaths)
	for _, rp := range s.registry.Paths() {
		if !within(rp) {
			continue
		}
		if err := s.store.DeleteByRelativePath(ctx, rp); err != nil {
			return SyncResult{}, err
		}
		s.registry.RemoveFileInfo(rp)
	}
	return s.syncLocked(ctx, includePaths)
}

// vaultChanged reports whether the registry's view no longer matches
// the vault on disk: a different recorded root, or registered paths
// (sampled, at most vaultCheckSample) missing from the filesystem.
func (s *Syncer) vaultChanged() bool {
	recorded := s.registry.VaultPath()
	if recorded != "" && recorded != s.scanner.Root() {
		return true
	}

	paths := s.registry.Paths()
	if len(paths) == 0 {
		return false
	}
	sample := len(paths)
	if sample > vaultCheckSample {
		sample = vaultCheckSample
	}
	missing := 0
	for _, rp := range paths[:sample] {
		if _, err := os.Stat(scanner.ResolveOnDisk(s.scanner.Root(), rp)); err != nil {
			missing++
		}
	}
	return missing == sample
}

func (s *Syncer) syncLocked(ctx context.Context, includePaths []string) (SyncResult, error) {
	var result SyncResult

	s.report("scan", 0, 0)
	files, err := s.scanner.Scan(ctx)
	if err != nil {
		return result, err
	}
	s.report("scan", len(files), len(files))

	registryFiles := s.registry.Files()
	if len(includePaths) > 0 {
		// A scoped cycle must diff only within its scope: out-of-scope
		// registry entries would otherwise be seen as deletions.
		within := scanner.IncludeFilter(includePaths)

		scoped := files[:0]
		for _, f := range files {
			if within(f.RelativePath) {
				scoped = append(scoped, f)
			}
		}
		files = scoped

		scopedEntries := make(map[string]RegistryEntry)
		for rp, entry := range registryFiles {
			if within(rp) {
				scopedEntries[rp] = entry
			}
		}
		registryFiles = scopedEntries
	}

	states, fileMap := s.collectStates(ctx, files, &result)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	changes := s.tracker.DetectChanges(states, registryFiles)
	sort.Strings(changes.Deleted)

	s.logger.Info("sync_changes_detected",
		slog.Int("added", len(changes.Added)),
		slog.Int("modified", len(changes.Modified)),
		slog.Int("deleted", len(changes.Deleted)),
		slog.Int("unchanged", len(changes.Unchanged)))

	totalOps := len(changes.Added) + len(changes.Modified) + len(changes.Deleted)
	done := 0
	s.report("apply", done, totalOps)

	for _, fs := range changes.Added {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		count, err := s.processFile(ctx, fs, fileMap[fs.RelativePath])
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("add %s: %v", fs.RelativePath, err))
		} else {
			result.Added++
			result.TotalChunks += count
		}
		done++
		s.report("apply", done, totalOps)
	}

	for _, fs := range changes.Modified {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		count, err := s.processFile(ctx, fs, fileMap[fs.RelativePath])
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("modify %s: %v", fs.RelativePath, err))
		} else {
			result.Modified++
			result.TotalChunks += count
		}
		done++
		s.report("apply", done, totalOps)
	}

	for _, rp := range changes.Deleted {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.deleteFile(ctx, rp); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", rp, err))
		} else {
			result.Deleted++
		}
		done++
		s.report("apply", done, totalOps)
	}

	result.Skipped = len(changes.Unchanged)

	s.registry.SetVaultPath(s.scanner.Root())
	if err := s.registry.Save(); err != nil {
		// The store already holds this cycle's writes; roll the
		// in-memory registry back to the disk state so the next cycle
		// re-syncs the delta instead of trusting unsaved entries.
		s.registry.Reload()
		return result, err
	}

	s.logger.Info("sync_complete", slog.String("result", result.String()))
	return result, nil
}

// collectStates stats and hashes current files on a bounded pool.
// Per-file failures are recorded on the result and the file skipped.
func (s *Syncer) collectStates(ctx context.Context, files []scanner.ScannedFile, result *SyncResult) ([]FileState, map[string]scanner.ScannedFile) {
	type stateOrErr struct {
		state FileState
		err   error
		file  scanner.ScannedFile
	}

	out := make([]stateOrErr, len(files))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.hashWorkers)

	var mu sync.Mutex
	hashed := 0
	s.report("hash", 0, len(files))

	for i, f := range files {
		select {
		case <-gctx.Done():
		case sem <- struct{}{}:
			g.Go(func() error {
				defer func() { <-sem }()
				state, err := s.tracker.GetFileState(f.Path, f.RelativePath)
				out[i] = stateOrErr{state: state, err: err, file: f}
				mu.Lock()
				hashed++
				s.report("hash", hashed, len(files))
				mu.Unlock()
				return nil
			})
		}
	}
	// Individual hash errors are collected, never group failures.
	_ = g.Wait()

	states := make([]FileState, 0, len(files))
	fileMap := make(map[string]scanner.ScannedFile, len(files))
	for _, r := range out {
		if r.file.Path == "" {
			continue
		}
		if r.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("state %s: %v", r.file.RelativePath, r.err))
			continue
		}
		states = append(states, r.state)
		fileMap[r.state.RelativePath] = r.file
	}
	return states, fileMap
}

// processFile runs the per-file pipeline: read, chunk, upsert, evict
// overflow, update the registry entry. The ordering within one file is
// fixed: upsert precedes overflow deletion precedes registry update.
func (s *Syncer) processFile(ctx context.Context, fs FileState, file scanner.ScannedFile) (int, error) {
	raw, err := os.ReadFile(file.Path)
	if err != nil {
		return 0, errors.IOError("failed to read file", err).
			WithDetail("relative_path", fs.RelativePath)
	}

	chunks := s.chunker.Chunk(string(raw), file.Name, file.Metadata())

	oldCount := 0
	if entry, ok := s.registry.Get(fs.RelativePath); ok {
		oldCount = entry.ChunkCount
	}

	count, err := s.store.UpsertChunks(ctx, chunks, fs.RelativePath)
	if err != nil {
		return 0, err
	}

	if oldCount > count {
		if err := s.store.DeleteChunksByPrefix(ctx, fs.RelativePath, count); err != nil {
			return 0, err
		}
	}

	s.registry.UpdateFileInfo(fs.RelativePath, fs.ContentHash, fs.Mtime, count)
	return count, nil
}

func (s *Syncer) deleteFile(ctx context.Context, relativePath string) error {
	if err := s.store.DeleteByRelativePath(ctx, relativePath); err != nil {
		return err
	}
	s.registry.RemoveFileInfo(relativePath)
	return nil
}

func (s *Syncer) report(stage string, done, total int) {
	if s.progress != nil {
		s.progress(stage, done, total)
	}
}
