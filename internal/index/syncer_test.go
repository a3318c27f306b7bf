package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/chunk"
	"github.com/vaultrag/vaultrag/internal/errors"
	"github.com/vaultrag/vaultrag/internal/scanner"
	"github.com/vaultrag/vaultrag/internal/store"
)

// fakeStore is an in-memory VectorStore that logs mutations so tests
// can assert call ordering.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]store.Row
	ops     []string
	failRP  map[string]error
	cleared int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:   make(map[string]store.Row),
		failRP: make(map[string]error),
	}
}

func (f *fakeStore) UpsertChunks(_ context.Context, chunks []chunk.Chunk, relativePath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failRP[relativePath]; err != nil {
		return 0, err
	}
	for i, c := range chunks {
		id := store.ChunkID(relativePath, i)
		f.rows[id] = store.Row{ID: id, Text: c.Text, Metadata: c.Metadata}
	}
	f.ops = append(f.ops, "upsert "+relativePath)
	return len(chunks), nil
}

func (f *fakeStore) Query(context.Context, string, int, ...store.QueryOption) ([]store.Row, error) {
	return nil, nil
}

func (f *fakeStore) All(context.Context) ([]store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Row, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeStore) DeleteByRelativePath(_ context.Context, relativePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.rows {
		if rp, _, ok := store.SplitChunkID(id); ok && rp == relativePath {
			delete(f.rows, id)
		}
	}
	f.ops = append(f.ops, "delete_file "+relativePath)
	return nil
}

func (f *fakeStore) DeleteChunksByPrefix(_ context.Context, relativePath string, fromIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := fromIndex; i < fromIndex+store.MaxChunksPerFile; i++ {
		delete(f.rows, store.ChunkID(relativePath, i))
	}
	f.ops = append(f.ops, fmt.Sprintf("delete_prefix %s %d", relativePath, fromIndex))
	return nil
}

func (f *fakeStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = make(map[string]store.Row)
	f.cleared++
	f.ops = append(f.ops, "clear")
	return nil
}

func (f *fakeStore) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

func (f *fakeStore) Name() string { return "fake" }
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) snapshot() map[string]store.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]store.Row, len(f.rows))
	for id, row := range f.rows {
		out[id] = row
	}
	return out
}

func (f *fakeStore) idsWithPrefix(relativePath string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	prefix := store.ChunkIDPrefix(relativePath)
	for id := range f.rows {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeStore) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

var _ store.VectorStore = (*fakeStore)(nil)

type syncEnv struct {
	vault  string
	data   string
	store  *fakeStore
	reg    *Registry
	syncer *Syncer
}

// newSyncEnv wires a syncer over a temp vault and a fake store. The
// chunker uses a small minimum so short test sections stay separate.
func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()
	env := &syncEnv{
		vault: t.TempDir(),
		data:  t.TempDir(),
		store: newFakeStore(),
	}
	env.reg = LoadRegistry(filepath.Join(env.data, "vault.json"), nil)
	env.rebuild(t)
	return env
}

// rebuild recreates the syncer over the current registry, picking up
// files added to the vault since construction.
func (e *syncEnv) rebuild(t *testing.T) {
	t.Helper()
	sc, err := scanner.New(scanner.Options{Root: e.vault}, nil)
	require.NoError(t, err)
	chunker := chunk.NewMarkdownChunkerWithOptions(chunk.MarkdownChunkerOptions{MinChunkSize: 10})
	lock := NewSyncLock(filepath.Join(e.data, "vault.lock"))
	e.syncer = NewSyncer(sc, chunker, e.store, e.reg, lock, nil)
}

func (e *syncEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	writeVaultFile(t, e.vault, rel, content)
}

// touch sets a distinct mtime so float-second comparisons never
// collide across rapid writes.
func (e *syncEnv) touch(t *testing.T, rel string, at time.Time) {
	t.Helper()
	p := filepath.Join(e.vault, filepath.FromSlash(rel))
	require.NoError(t, os.Chtimes(p, at, at))
}

// assertCoherent checks that the registry and the store describe the
// same row set: every entry owns exactly chunk_count contiguous ids and
// the store holds nothing else.
func assertCoherent(t *testing.T, fs *fakeStore, reg *Registry) {
	t.Helper()
	byFile := make(map[string]map[int]bool)
	for id := range fs.snapshot() {
		rp, idx, ok := store.SplitChunkID(id)
		require.True(t, ok, "unparseable id %q", id)
		if byFile[rp] == nil {
			byFile[rp] = make(map[int]bool)
		}
		byFile[rp][idx] = true
	}
	for rp, entry := range reg.Files() {
		idxs := byFile[rp]
		require.Len(t, idxs, entry.ChunkCount, "chunk count mismatch for %s", rp)
		for i := 0; i < entry.ChunkCount; i++ {
			assert.True(t, idxs[i], "missing %s::chunk_%d", rp, i)
		}
		delete(byFile, rp)
	}
	assert.Empty(t, byFile, "store rows with no registry entry")
}

const twoSectionNote = "## X\ntext\n## Y\ntext2\n"

func TestSyncer_NewFile(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/a.md", twoSectionNote)

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Modified)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 2, result.TotalChunks)
	assert.Empty(t, result.Errors)

	rows := env.store.snapshot()
	assert.Contains(t, rows, "notes/a.md::chunk_0")
	assert.Contains(t, rows, "notes/a.md::chunk_1")

	entry, ok := env.reg.Get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, 2, entry.ChunkCount)

	assertCoherent(t, env.store, env.reg)
}

func TestSyncer_UnchangedTreeIsIdempotent(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/a.md", twoSectionNote)
	env.write(t, "b.md", "# B\n\nIntro body text here.\n")

	first, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Added)

	second, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 0, second.Modified)
	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, 2, second.Skipped)

	// The second cycle must not touch the store at all.
	var upserts int
	for _, op := range env.store.opLog() {
		if strings.HasPrefix(op, "upsert ") {
			upserts++
		}
	}
	assert.Equal(t, 2, upserts)
}

func TestSyncer_TouchOnlySkips(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/a.md", twoSectionNote)

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)
	before, ok := env.reg.Get("notes/a.md")
	require.True(t, ok)

	// New mtime, identical bytes.
	env.touch(t, "notes/a.md", time.Now().Add(time.Hour))

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 0, result.Modified)
	assert.Equal(t, 1, result.Skipped)

	// The hash short-circuit leaves the registry entry untouched, so
	// the stored mtime stays stale on purpose.
	after, ok := env.reg.Get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, before.Mtime, after.Mtime)
	assert.Equal(t, before.LastSynced, after.LastSynced)
}

func TestSyncer_ShrinkEvictsOverflowChunks(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/a.md", twoSectionNote)

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	env.write(t, "notes/a.md", "## X\ntext\n")
	env.touch(t, "notes/a.md", time.Now().Add(time.Hour))

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 1, result.TotalChunks)

	rows := env.store.snapshot()
	assert.Contains(t, rows, "notes/a.md::chunk_0")
	assert.NotContains(t, rows, "notes/a.md::chunk_1")

	entry, ok := env.reg.Get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, 1, entry.ChunkCount)

	// Upserts precede the overflow delete for the same file.
	ops := env.store.opLog()
	lastUpsert, overflow := -1, -1
	for i, op := range ops {
		switch op {
		case "upsert notes/a.md":
			lastUpsert = i
		case "delete_prefix notes/a.md 1":
			overflow = i
		}
	}
	require.GreaterOrEqual(t, overflow, 0, "overflow delete never issued")
	assert.Less(t, lastUpsert, overflow)

	assertCoherent(t, env.store, env.reg)
}

func TestSyncer_DeleteRemovesFile(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/a.md", twoSectionNote)
	env.write(t, "keep.md", "# Keep\n\nStays around.\n")

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(env.vault, "notes", "a.md")))

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, env.store.idsWithPrefix("notes/a.md"))

	_, ok := env.reg.Get("notes/a.md")
	assert.False(t, ok)

	assertCoherent(t, env.store, env.reg)
}

func TestSyncer_RoundTripRestoresRows(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/a.md", twoSectionNote)

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	want := make(map[string]string)
	for id, row := range env.store.snapshot() {
		want[id] = row.Text
	}

	env.write(t, "notes/a.md", "## X\nchanged\n")
	env.touch(t, "notes/a.md", time.Now().Add(time.Hour))
	_, err = env.syncer.Sync(context.Background())
	require.NoError(t, err)

	env.write(t, "notes/a.md", twoSectionNote)
	env.touch(t, "notes/a.md", time.Now().Add(2*time.Hour))
	_, err = env.syncer.Sync(context.Background())
	require.NoError(t, err)

	got := make(map[string]string)
	for id, row := range env.store.snapshot() {
		got[id] = row.Text
	}
	assert.Equal(t, want, got)
}

func TestSyncer_PerFileErrorIsolation(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "good.md", "# Good\n\nHealthy content.\n")
	env.write(t, "bad.md", "# Bad\n\nThis upsert will fail.\n")
	env.store.failRP["bad.md"] = errors.VectorStoreError("backend unavailable", nil)

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err, "per-file failures never abort the cycle")

	assert.Equal(t, 1, result.Added)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "bad.md")

	// The failed file gets no registry entry, so the next cycle
	// retries it.
	_, ok := env.reg.Get("bad.md")
	assert.False(t, ok)
	assert.Empty(t, env.store.idsWithPrefix("bad.md"))

	delete(env.store.failRP, "bad.md")

	retry, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Added)
	assert.Equal(t, 1, retry.Skipped)
	assert.Empty(t, retry.Errors)

	assertCoherent(t, env.store, env.reg)
}

func TestSyncer_VaultPathMismatchPromotesFullResync(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n\nContent lives here.\n")

	env.reg.SetVaultPath("/somewhere/else")
	env.reg.UpdateFileInfo("ghost.md", "deadbeef", 1.0, 3)
	require.NoError(t, env.reg.Save())

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, env.store.cleared, "expected promotion to a full resync")
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Deleted, "promotion clears the registry instead of diffing it")

	_, ok := env.reg.Get("ghost.md")
	assert.False(t, ok)
	assert.Equal(t, env.syncer.scanner.Root(), env.reg.VaultPath())
}

func TestSyncer_AllRegisteredFilesMissingPromotesFullResync(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "new.md", "# New\n\nFresh content.\n")

	// Same root, but every registered path is gone from disk.
	env.reg.SetVaultPath(env.syncer.scanner.Root())
	env.reg.UpdateFileInfo("gone1.md", "h1", 1.0, 1)
	env.reg.UpdateFileInfo("gone2.md", "h2", 1.0, 1)
	require.NoError(t, env.reg.Save())

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, env.store.cleared)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Deleted)
}

func TestSyncer_PartiallyMissingFilesStayIncremental(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "present.md", "# Present\n\nStill on disk.\n")

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	// One registered path missing while another survives is ordinary
	// deletion, not a vault swap.
	env.reg.UpdateFileInfo("missing.md", "h1", 1.0, 1)
	require.NoError(t, env.reg.Save())

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, env.store.cleared)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Skipped)
}

func TestSyncer_FullSyncRebuildsEverything(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n\nAlpha body.\n")
	env.write(t, "b.md", "# B\n\nBeta body.\n")

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	env.write(t, "c.md", "# C\n\nGamma body.\n")

	result, err := env.syncer.FullSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, env.store.cleared)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 3, env.reg.Len())

	assertCoherent(t, env.store, env.reg)
}

func TestSyncer_ScopedSyncTouchesOnlyIncludedPaths(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "projects/p.md", "# P\n\nProject body.\n")
	env.write(t, "archive/old.md", "# Old\n\nArchive body.\n")

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	env.write(t, "projects/p.md", "# P\n\nRevised project body.\n")
	env.write(t, "archive/old.md", "# Old\n\nRevised archive body.\n")
	env.touch(t, "projects/p.md", time.Now().Add(time.Hour))
	env.touch(t, "archive/old.md", time.Now().Add(time.Hour))

	result, err := env.syncer.SyncWithOptions(context.Background(),
		SyncOptions{IncludePaths: []string{"projects"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 0, result.Deleted)

	// The out-of-scope edit stays pending for the next full cycle.
	full, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, full.Modified)
	assert.Equal(t, 1, full.Skipped)
}

func TestSyncer_ScopedSyncDoesNotDeleteOutsideScope(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "projects/p.md", "# P\n\nBody.\n")
	env.write(t, "archive/old.md", "# Old\n\nBody.\n")

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(env.vault, "archive", "old.md")))

	result, err := env.syncer.SyncWithOptions(context.Background(),
		SyncOptions{IncludePaths: []string{"projects"}})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 1, result.Skipped)
	_, ok := env.reg.Get("archive/old.md")
	assert.True(t, ok, "out-of-scope registry entries survive a scoped cycle")

	full, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, full.Deleted)
}

func TestSyncer_ScopedForceReindexRebuildsSubset(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "projects/p.md", twoSectionNote)
	env.write(t, "archive/old.md", "# Old\n\nBody.\n")

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	result, err := env.syncer.SyncWithOptions(context.Background(), SyncOptions{
		IncludePaths: []string{"projects"},
		ForceReindex: true,
	})
	require.NoError(t, err)

	// Only the scoped subset is rebuilt; the collection is never
	// cleared wholesale.
	assert.Equal(t, 0, env.store.cleared)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 2, result.TotalChunks)

	assert.NotEmpty(t, env.store.idsWithPrefix("archive/old.md"))
	_, ok := env.reg.Get("archive/old.md")
	assert.True(t, ok)

	assertCoherent(t, env.store, env.reg)
}

func TestSyncer_LockContention(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n\nBody.\n")

	other := NewSyncLock(filepath.Join(env.data, "vault.lock"))
	require.NoError(t, other.Acquire())
	defer other.Release()

	_, err := env.syncer.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSyncInProgress, errors.GetCode(err))
}

func TestSyncer_RegistrySaveFailureRollsBack(t *testing.T) {
	vault := t.TempDir()
	data := t.TempDir()
	writeVaultFile(t, vault, "a.md", "# A\n\nBody text.\n")

	// A directory squatting on the registry path makes the final
	// rename fail no matter what.
	regPath := filepath.Join(data, "vault.json")
	require.NoError(t, os.MkdirAll(regPath, 0o755))

	sc, err := scanner.New(scanner.Options{Root: vault}, nil)
	require.NoError(t, err)
	fs := newFakeStore()
	reg := LoadRegistry(regPath, nil)
	syncer := NewSyncer(sc, chunk.NewMarkdownChunker(), fs, reg,
		NewSyncLock(filepath.Join(data, "vault.lock")), nil)

	_, err = syncer.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRegistryCorrupt, errors.GetCode(err))

	// In-memory registry rolled back to the (empty) disk state; the
	// store keeps the cycle's rows and the next sync retries.
	assert.Equal(t, 0, reg.Len())
	count, err := fs.Count(context.Background())
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestSyncer_CanceledContext(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n\nBody.\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.syncer.Sync(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSyncer_ProgressStages(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "a.md", "# A\n\nBody one.\n")
	env.write(t, "b.md", "# B\n\nBody two.\n")

	var mu sync.Mutex
	stages := make(map[string][][2]int)
	env.rebuild(t)
	env.syncer.progress = func(stage string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		stages[stage] = append(stages[stage], [2]int{done, total})
	}

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	require.Contains(t, stages, "scan")
	require.Contains(t, stages, "hash")
	require.Contains(t, stages, "apply")

	applies := stages["apply"]
	last := applies[len(applies)-1]
	assert.Equal(t, last[1], last[0], "final apply report is done == total")
	assert.Equal(t, 2, last[1])
}

func TestSyncer_EmptyVault(t *testing.T) {
	env := newSyncEnv(t)

	result, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SyncResult{}, result)
	assert.Equal(t, env.syncer.scanner.Root(), env.reg.VaultPath())
}

func TestSyncer_ChunkMetadataCarriesFileIdentity(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "notes/a.md", "# Title\n\nParagraph of note text.\n")

	_, err := env.syncer.Sync(context.Background())
	require.NoError(t, err)

	rows := env.store.snapshot()
	row, ok := rows["notes/a.md::chunk_0"]
	require.True(t, ok)
	assert.Equal(t, "notes/a.md", row.Metadata["relative_path"])
	assert.Equal(t, "notes", row.Metadata["folder_path"])
	assert.Equal(t, "a.md", row.Metadata["source"])
}

func TestSyncer_HashErrorIsCollected(t *testing.T) {
	env := newSyncEnv(t)
	env.write(t, "ok.md", "# OK\n\nReadable.\n")

	var result SyncResult
	files := []scanner.ScannedFile{
		{Path: filepath.Join(env.vault, "ok.md"), RelativePath: "ok.md", Name: "ok.md"},
		{Path: filepath.Join(env.vault, "vanished.md"), RelativePath: "vanished.md", Name: "vanished.md"},
	}

	states, fileMap := env.syncer.collectStates(context.Background(), files, &result)

	require.Len(t, states, 1)
	assert.Equal(t, "ok.md", states[0].RelativePath)
	assert.Contains(t, fileMap, "ok.md")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "vanished.md")
}

func TestSyncResult_JSONShape(t *testing.T) {
	result := SyncResult{Added: 1, Modified: 2, Deleted: 3, Skipped: 4, TotalChunks: 9, Errors: []string{"x"}}

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, float64(1), doc["added"])
	assert.Equal(t, float64(2), doc["modified"])
	assert.Equal(t, float64(3), doc["deleted"])
	assert.Equal(t, float64(4), doc["skipped"])
	assert.Equal(t, float64(9), doc["total_chunks"])
	assert.Equal(t, []any{"x"}, doc["errors"])

	assert.Equal(t, "added=1 modified=2 deleted=3 skipped=4 chunks=9 errors=1", result.String())
}
