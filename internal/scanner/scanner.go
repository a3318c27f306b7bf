// Package scanner discovers Markdown files in a vault directory.
//
// The scanner walks the vault root recursively, applying ignore rules
// (built-in directory set, dot-prefixed components, config globs, and an
// optional .ragignore file) and an extension filter. Results are sorted
// by (folder_path, filename) so repeated scans of an unchanged vault
// produce identical output.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// DefaultMaxFileSize is the maximum file size scanned when the config
// does not set a limit.
const DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB

// ScannedFile describes one indexable file found in the vault.
type ScannedFile struct {
	// Path is the absolute path on disk.
	Path string

	// RelativePath is the vault-root-relative path with forward slashes,
	// NFC-normalized.
	RelativePath string

	// Name is the base filename.
	Name string

	// FolderPath is the relative directory holding the file ("" at root).
	FolderPath string
}

// Metadata returns the per-file metadata merged into every chunk.
func (f ScannedFile) Metadata() map[string]any {
	return map[string]any{
		"source":        f.Name,
		"folder_path":   f.FolderPath,
		"relative_path": f.RelativePath,
	}
}

// Options configures a scan.
type Options struct {
	// Root is the vault root directory. Required.
	Root string

	// Extensions lists indexable extensions (with leading dot).
	// Defaults to [".md"].
	Extensions []string

	// IncludePaths restricts results to files whose relative path starts
	// with one of these POSIX prefixes. Empty means the whole vault.
	IncludePaths []string

	// IgnoreGlobs adds doublestar patterns on top of the built-in set.
	IgnoreGlobs []string

	// MaxFileSize skips files larger than this many bytes (0 = default).
	MaxFileSize int64
}

// Scanner enumerates vault files honoring ignore rules.
type Scanner struct {
	opts   Options
	ignore atomic.Pointer[ignoreRules]
	logger *slog.Logger
}

// New creates a Scanner for the given options. The vault root must exist
// and be a directory. A .ragignore file at the root is loaded if present.
func New(opts Options, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Root == "" {
		return nil, errors.ValidationError("vault root is required", nil)
	}

	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.IOError("failed to resolve vault root", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, errors.IOError("failed to stat vault root", err).
			WithDetail("path", absRoot).
			WithSuggestion("Check that the vault path exists and is readable")
	}
	if !info.IsDir() {
		return nil, errors.ValidationError("vault root is not a directory", nil).
			WithDetail("path", absRoot)
	}
	opts.Root = absRoot

	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".md"}
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	rules, err := newIgnoreRules(absRoot, opts.IgnoreGlobs)
	if err != nil {
		return nil, err
	}

	s := &Scanner{
		opts:   opts,
		logger: logger,
	}
	s.ignore.Store(rules)
	return s, nil
}

// Root returns the absolute vault root.
func (s *Scanner) Root() string {
	return s.opts.Root
}

// Reload re-reads the vault's .ragignore. Long-running watchers call
// this when the ignore file changes; scans already underway finish
// with the rules they started with.
func (s *Scanner) Reload() error {
	rules, err := newIgnoreRules(s.opts.Root, s.opts.IgnoreGlobs)
	if err != nil {
		return err
	}
	s.ignore.Store(rules)
	return nil
}

// SkipDir reports whether a vault-relative directory (POSIX form)
// is excluded from scans.
func (s *Scanner) SkipDir(relPosix string) bool {
	return s.ignore.Load().SkipDir(relPosix)
}

// Indexable reports whether a vault-relative file path (POSIX form)
// would be picked up by Scan: a configured extension and not ignored.
func (s *Scanner) Indexable(relPosix string) bool {
	return s.matchesExtension(relPosix) && !s.ignore.Load().SkipFile(relPosix)
}

// Scan walks the vault and returns all indexable files sorted by
// (FolderPath, Name). Unreadable entries are skipped with a warning;
// only the walk itself failing is an error.
func (s *Scanner) Scan(ctx context.Context) ([]ScannedFile, error) {
	var files []ScannedFile

	includes := normalizeIncludePaths(s.opts.IncludePaths)
	rules := s.ignore.Load()

	err := filepath.WalkDir(s.opts.Root, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			s.logger.Warn("scan_entry_skipped",
				slog.String("path", path),
				slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(s.opts.Root, path)
		if err != nil {
			return nil
		}
		relPosix := NormalizePath(rel)

		if d.IsDir() {
			if relPosix == "." {
				return nil
			}
			if rules.SkipDir(relPosix) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinked files are not followed.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if !s.matchesExtension(relPosix) {
			return nil
		}
		if rules.SkipFile(relPosix) {
			return nil
		}
		if len(includes) > 0 && !hasIncludePrefix(relPosix, includes) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > s.opts.MaxFileSize {
			s.logger.Warn("scan_file_too_large",
				slog.String("relative_path", relPosix),
				slog.Int64("size", info.Size()),
				slog.Int64("limit", s.opts.MaxFileSize))
			return nil
		}

		files = append(files, ScannedFile{
			Path:         path,
			RelativePath: relPosix,
			Name:         filepath.Base(path),
			FolderPath:   folderOf(relPosix),
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.IOError("vault scan failed", err).
			WithDetail("root", s.opts.Root)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].FolderPath != files[j].FolderPath {
			return files[i].FolderPath < files[j].FolderPath
		}
		return files[i].Name < files[j].Name
	})

	s.logger.Debug("scan_complete",
		slog.String("root", s.opts.Root),
		slog.Int("files", len(files)))

	return files, nil
}

// matchesExtension reports whether the relative path carries one of the
// configured extensions (case-insensitive).
func (s *Scanner) matchesExtension(relPosix string) bool {
	ext := strings.ToLower(filepath.Ext(relPosix))
	for _, want := range s.opts.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// NormalizePath converts a relative path to POSIX separators and NFC
// Unicode form. Registry keys and chunk ids use this form so vaults
// synced across macOS (NFD filenames) and Linux stay consistent.
func NormalizePath(rel string) string {
	return norm.NFC.String(filepath.ToSlash(rel))
}

// DenormalizePath returns the NFD form of a normalized relative path.
// Used to resolve on-disk names on filesystems that store decomposed
// Unicode when the NFC form does not exist.
func DenormalizePath(relPosix string) string {
	return norm.NFD.String(relPosix)
}

// ResolveOnDisk returns the absolute path for a normalized relative path,
// falling back to the NFD form when the NFC name is absent.
func ResolveOnDisk(root, relPosix string) string {
	p := filepath.Join(root, filepath.FromSlash(relPosix))
	if _, err := os.Stat(p); err == nil {
		return p
	}
	alt := filepath.Join(root, filepath.FromSlash(DenormalizePath(relPosix)))
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return p
}

// normalizeIncludePaths cleans include prefixes to POSIX form without
// leading "./" or trailing slashes.
func normalizeIncludePaths(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = filepath.ToSlash(p)
		p = strings.TrimPrefix(p, "./")
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, norm.NFC.String(p))
		}
	}
	return out
}

// hasIncludePrefix reports whether relPosix falls under any include
// prefix. A prefix matches the directory itself or anything below it.
func hasIncludePrefix(relPosix string, prefixes []string) bool {
	for _, p := range prefixes {
		if relPosix == p || strings.HasPrefix(relPosix, p+"/") {
			return true
		}
	}
	return false
}

// IncludeFilter compiles include prefixes into a predicate over
// normalized relative paths. A filter built from no prefixes admits
// everything.
func IncludeFilter(prefixes []string) func(relPosix string) bool {
	cleaned := normalizeIncludePaths(prefixes)
	if len(cleaned) == 0 {
		return func(string) bool { return true }
	}
	return func(relPosix string) bool {
		return hasIncludePrefix(relPosix, cleaned)
	}
}

// folderOf returns the POSIX directory of a relative path, "" at root.
func folderOf(relPosix string) string {
	dir := filepath.ToSlash(filepath.Dir(relPosix))
	if dir == "." {
		return ""
	}
	return dir
}
