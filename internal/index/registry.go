package index

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// RegistryVersion is the current registry schema version. The field is
// reserved for migrations; mismatched versions load as-is today.
const RegistryVersion = 1

// RegistryEntry records the last-synced identity of one file.
type RegistryEntry struct {
	ContentHash string  `json:"content_hash"`
	Mtime       float64 `json:"mtime"`
	ChunkCount  int     `json:"chunk_count"`
	LastSynced  string  `json:"last_synced"`
}

// registryData is the on-disk JSON document.
type registryData struct {
	Version   int                      `json:"version"`
	VaultPath string                   `json:"vault_path,omitempty"`
	Files     map[string]RegistryEntry `json:"files"`
}

// Registry is the durable map of relative path to last-synced state,
// one file per collection. It is a single-writer resource owned by the
// Syncer; concurrent syncs are excluded by SyncLock.
type Registry struct {
	path   string
	data   registryData
	logger *slog.Logger
}

// LoadRegistry reads the registry at path. A missing file yields an
// empty registry. A corrupt file also yields an empty registry (the
// vault-path mismatch then promotes the next sync to a full resync).
func LoadRegistry(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:   path,
		logger: logger,
		data:   emptyRegistryData(),
	}
	r.loadFromDisk()
	return r
}

func emptyRegistryData() registryData {
	return registryData{
		Version: RegistryVersion,
		Files:   make(map[string]RegistryEntry),
	}
}

func (r *Registry) loadFromDisk() {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("registry_read_failed",
				slog.String("path", r.path),
				slog.String("error", err.Error()))
		}
		r.data = emptyRegistryData()
		return
	}

	var data registryData
	if err := json.Unmarshal(raw, &data); err != nil {
		r.logger.Warn("registry_corrupted",
			slog.String("path", r.path),
			slog.String("error", err.Error()))
		r.data = emptyRegistryData()
		return
	}
	if data.Files == nil {
		data.Files = make(map[string]RegistryEntry)
	}
	r.data = data
}

// Save writes the registry atomically: tempfile in the same directory,
// then rename.
func (r *Registry) Save() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.RegistryCorruptionError("failed to create registry directory", err).
			WithDetail("path", r.path)
	}

	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return errors.RegistryCorruptionError("failed to encode registry", err).
			WithDetail("path", r.path)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return errors.RegistryCorruptionError("failed to create registry tempfile", err).
			WithDetail("path", r.path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.RegistryCorruptionError("failed to write registry", err).
			WithDetail("path", r.path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.RegistryCorruptionError("failed to close registry tempfile", err).
			WithDetail("path", r.path)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return errors.RegistryCorruptionError("failed to replace registry", err).
			WithDetail("path", r.path)
	}
	return nil
}

// Reload discards in-memory state and re-reads the file. Used to roll
// back after a failed save.
func (r *Registry) Reload() {
	r.loadFromDisk()
}

// Files returns the live entry map. Callers must treat it as read-only.
func (r *Registry) Files() map[string]RegistryEntry {
	return r.data.Files
}

// Get returns the entry for a relative path.
func (r *Registry) Get(relativePath string) (RegistryEntry, bool) {
	e, ok := r.data.Files[relativePath]
	return e, ok
}

// UpdateFileInfo records a file's synced identity and chunk count.
func (r *Registry) UpdateFileInfo(relativePath, contentHash string, mtime float64, chunkCount int) {
	r.data.Files[relativePath] = RegistryEntry{
		ContentHash: contentHash,
		Mtime:       mtime,
		ChunkCount:  chunkCount,
		LastSynced:  time.Now().Format(time.RFC3339),
	}
}

// RemoveFileInfo drops a file's entry. Returns true when it existed.
func (r *Registry) RemoveFileInfo(relativePath string) bool {
	if _, ok := r.data.Files[relativePath]; !ok {
		return false
	}
	delete(r.data.Files, relativePath)
	return true
}

// Clear drops all file entries, preserving the vault path.
func (r *Registry) Clear() {
	vaultPath := r.data.VaultPath
	r.data = emptyRegistryData()
	r.data.VaultPath = vaultPath
}

// VaultPath returns the absolute root last synced into this registry.
func (r *Registry) VaultPath() string {
	return r.data.VaultPath
}

// SetVaultPath records the vault root.
func (r *Registry) SetVaultPath(vaultPath string) {
	r.data.VaultPath = vaultPath
}

// Paths returns all registered relative paths, sorted.
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.data.Files))
	for rp := range r.data.Files {
		paths = append(paths, rp)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	return len(r.data.Files)
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}
