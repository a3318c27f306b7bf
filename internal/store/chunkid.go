package store

import (
	"fmt"
	"strconv"
	"strings"
)

const chunkIDSeparator = "::chunk_"

// ChunkID builds the deterministic id for index i of a file:
// "<relative_path>::chunk_<i>". The index is 0-based and dense, so the
// same file always maps to the same id set.
func ChunkID(relativePath string, index int) string {
	return fmt.Sprintf("%s%s%d", relativePath, chunkIDSeparator, index)
}

// ChunkIDPrefix returns the id prefix shared by all chunks of a file.
func ChunkIDPrefix(relativePath string) string {
	return relativePath + chunkIDSeparator
}

// SplitChunkID decomposes a chunk id into its relative path and index.
// ok is false when the id does not follow the chunk id format.
func SplitChunkID(id string) (relativePath string, index int, ok bool) {
	i := strings.LastIndex(id, chunkIDSeparator)
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+len(chunkIDSeparator):])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}
