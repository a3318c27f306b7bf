package index

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// hashBlockSize is the read block size for streaming MD5.
const hashBlockSize = 8 * 1024

// FileTracker computes file states and classifies them against the
// registry's view of the vault.
type FileTracker struct{}

// NewFileTracker creates a FileTracker.
func NewFileTracker() *FileTracker {
	return &FileTracker{}
}

// GetFileState stats and hashes one file. The relative path is taken as
// given (already POSIX- and NFC-normalized by the scanner).
func (t *FileTracker) GetFileState(path, relativePath string) (FileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileState{}, errors.IOError("failed to stat file", err).
			WithDetail("path", path)
	}

	hash, err := hashFile(path)
	if err != nil {
		return FileState{}, err
	}

	return FileState{
		RelativePath: relativePath,
		Mtime:        float64(info.ModTime().UnixNano()) / 1e9,
		ContentHash:  hash,
	}, nil
}

// hashFile streams the file through MD5 in fixed-size blocks.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.IOError("failed to open file for hashing", err).
			WithDetail("path", path)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashBlockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.IOError("failed to read file for hashing", err).
				WithDetail("path", path)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DetectChanges classifies current files against registry entries.
//
// A file whose mtime equals the recorded mtime is unchanged without a
// hash comparison; a file whose hash matches despite a new mtime is
// also unchanged (touch-only edit). Everything else present in both is
// modified. Registry keys absent from current are deleted.
func (t *FileTracker) DetectChanges(current []FileState, registry map[string]RegistryEntry) ChangeSet {
	var cs ChangeSet

	currentKeys := make(map[string]struct{}, len(current))
	for _, fs := range current {
		currentKeys[fs.RelativePath] = struct{}{}

		entry, known := registry[fs.RelativePath]
		switch {
		case !known:
			cs.Added = append(cs.Added, fs)
		case fs.Mtime == entry.Mtime:
			cs.Unchanged = append(cs.Unchanged, fs)
		case fs.ContentHash == entry.ContentHash:
			cs.Unchanged = append(cs.Unchanged, fs)
		default:
			cs.Modified = append(cs.Modified, fs)
		}
	}

	for rp := range registry {
		if _, ok := currentKeys[rp]; !ok {
			cs.Deleted = append(cs.Deleted, rp)
		}
	}

	return cs
}
