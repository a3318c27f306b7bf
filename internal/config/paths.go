package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default data directory (~/.vaultrag).
// Falls back to a temp directory if the home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vaultrag")
	}
	return filepath.Join(home, ".vaultrag")
}

// ResolvedDataDir returns the configured data directory, or the default.
func (c *Config) ResolvedDataDir() string {
	if c.Store.DataDir != "" {
		return c.Store.DataDir
	}
	return DefaultDataDir()
}

// RegistriesDir returns the directory holding sync registries.
func (c *Config) RegistriesDir() string {
	return filepath.Join(c.ResolvedDataDir(), "registries")
}

// RegistryPath returns the registry file for a collection.
func (c *Config) RegistryPath(collection string) string {
	return filepath.Join(c.RegistriesDir(), collection+".json")
}

// RegistryLockPath returns the sync lock file for a collection.
func (c *Config) RegistryLockPath(collection string) string {
	return filepath.Join(c.RegistriesDir(), collection+".lock")
}

// CollectionsDir returns the directory holding local vector collections.
func (c *Config) CollectionsDir() string {
	return filepath.Join(c.ResolvedDataDir(), "collections")
}

// CollectionDir returns the on-disk directory for a local collection.
func (c *Config) CollectionDir(collection string) string {
	return filepath.Join(c.CollectionsDir(), collection)
}

// ChatDBPath returns the SQLite database file for chat history.
func (c *Config) ChatDBPath() string {
	return filepath.Join(c.ResolvedDataDir(), "chat.db")
}

// EnsureDataDirs creates the data directory tree if missing.
func (c *Config) EnsureDataDirs() error {
	for _, dir := range []string{
		c.ResolvedDataDir(),
		c.RegistriesDir(),
		c.CollectionsDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
