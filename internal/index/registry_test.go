package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/errors"
)

func TestRegistry_MissingFileLoadsEmpty(t *testing.T) {
	reg := LoadRegistry(filepath.Join(t.TempDir(), "registries", "vault.json"), nil)

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, "", reg.VaultPath())
}

func TestRegistry_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registries", "vault.json")

	reg := LoadRegistry(path, nil)
	reg.SetVaultPath("/vaults/main")
	reg.UpdateFileInfo("notes/a.md", "abc123", 1700000000.5, 2)
	reg.UpdateFileInfo("b.md", "def456", 1700000001.0, 1)
	require.NoError(t, reg.Save())

	loaded := LoadRegistry(path, nil)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, "/vaults/main", loaded.VaultPath())

	entry, ok := loaded.Get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, "abc123", entry.ContentHash)
	assert.Equal(t, 1700000000.5, entry.Mtime)
	assert.Equal(t, 2, entry.ChunkCount)

	// last_synced is a parseable RFC3339 stamp.
	_, err := time.Parse(time.RFC3339, entry.LastSynced)
	assert.NoError(t, err)
}

func TestRegistry_OnDiskSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")

	reg := LoadRegistry(path, nil)
	reg.SetVaultPath("/vaults/main")
	reg.UpdateFileInfo("a.md", "hash", 123.0, 3)
	require.NoError(t, reg.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, float64(1), doc["version"])
	assert.Equal(t, "/vaults/main", doc["vault_path"])

	files, ok := doc["files"].(map[string]any)
	require.True(t, ok)
	entry, ok := files["a.md"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hash", entry["content_hash"])
	assert.Equal(t, 123.0, entry["mtime"])
	assert.Equal(t, float64(3), entry["chunk_count"])
	assert.Contains(t, entry, "last_synced")
}

func TestRegistry_CorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	reg := LoadRegistry(path, nil)
	assert.Equal(t, 0, reg.Len())

	// A save afterwards replaces the corrupt file with a valid one.
	reg.UpdateFileInfo("a.md", "h", 1.0, 1)
	require.NoError(t, reg.Save())
	assert.Equal(t, 1, LoadRegistry(path, nil).Len())
}

func TestRegistry_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")

	reg := LoadRegistry(path, nil)
	reg.UpdateFileInfo("a.md", "h", 1.0, 1)
	require.NoError(t, reg.Save())

	// No temp files may survive a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vault.json", entries[0].Name())
}

func TestRegistry_SaveFailsOnUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.json")
	// A directory squatting on the registry path defeats the final
	// rename regardless of process privileges.
	require.NoError(t, os.MkdirAll(path, 0o755))

	reg := LoadRegistry(path, nil)
	reg.UpdateFileInfo("a.md", "h", 1.0, 1)

	err := reg.Save()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRegistryCorrupt, errors.GetCode(err))
}

func TestRegistry_ClearPreservesVaultPath(t *testing.T) {
	reg := LoadRegistry(filepath.Join(t.TempDir(), "vault.json"), nil)
	reg.SetVaultPath("/vaults/main")
	reg.UpdateFileInfo("a.md", "h", 1.0, 1)

	reg.Clear()

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, "/vaults/main", reg.VaultPath())
}

func TestRegistry_RemoveFileInfo(t *testing.T) {
	reg := LoadRegistry(filepath.Join(t.TempDir(), "vault.json"), nil)
	reg.UpdateFileInfo("a.md", "h", 1.0, 1)

	assert.True(t, reg.RemoveFileInfo("a.md"))
	assert.False(t, reg.RemoveFileInfo("a.md"))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_PathsSorted(t *testing.T) {
	reg := LoadRegistry(filepath.Join(t.TempDir(), "vault.json"), nil)
	reg.UpdateFileInfo("z.md", "h", 1.0, 1)
	reg.UpdateFileInfo("a.md", "h", 1.0, 1)
	reg.UpdateFileInfo("m/n.md", "h", 1.0, 1)

	assert.Equal(t, []string{"a.md", "m/n.md", "z.md"}, reg.Paths())
}

func TestRegistry_ReloadRollsBackUnsavedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")

	reg := LoadRegistry(path, nil)
	reg.UpdateFileInfo("saved.md", "h1", 1.0, 1)
	require.NoError(t, reg.Save())

	reg.UpdateFileInfo("unsaved.md", "h2", 2.0, 1)
	require.Equal(t, 2, reg.Len())

	reg.Reload()
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("saved.md")
	assert.True(t, ok)
	_, ok = reg.Get("unsaved.md")
	assert.False(t, ok)
}
