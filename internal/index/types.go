// Package index keeps a vector store collection consistent with the
// files in a vault.
//
// The FileTracker computes per-file identity (mtime + MD5), the
// Registry durably records what was last synced, and the Syncer drives
// scan -> diff -> chunk -> upsert/delete -> registry update cycles.
package index

import "fmt"

// FileState is the on-disk identity of one file within a sync cycle.
type FileState struct {
	RelativePath string
	// Mtime is the modification time in float seconds, matching the
	// registry encoding.
	Mtime float64
	// ContentHash is the 32-char MD5 hex digest of the file bytes.
	ContentHash string
}

// ChangeSet classifies current files against the registry.
type ChangeSet struct {
	Added     []FileState
	Modified  []FileState
	Deleted   []string
	Unchanged []FileState
}

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	Added       int      `json:"added"`
	Modified    int      `json:"modified"`
	Deleted     int      `json:"deleted"`
	Skipped     int      `json:"skipped"`
	TotalChunks int      `json:"total_chunks"`
	Errors      []string `json:"errors"`
}

// String renders the result the way the CLI reports it.
func (r SyncResult) String() string {
	return fmt.Sprintf("added=%d modified=%d deleted=%d skipped=%d chunks=%d errors=%d",
		r.Added, r.Modified, r.Deleted, r.Skipped, r.TotalChunks, len(r.Errors))
}

// ProgressFunc reports sync progress for interactive callers.
// stage is one of "scan", "hash", "apply"; done/total count files.
type ProgressFunc func(stage string, done, total int)
