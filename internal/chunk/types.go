package chunk

// Chunk size defaults. Sizes are rune counts, not byte counts.
const (
	DefaultMinChunkSize = 200  // Shorter tails merge into the previous chunk
	DefaultMaxChunkSize = 1500 // Longer sections split on blank-line boundaries
	DefaultChunkLevel   = 2    // Header level that opens a new chunk (## = 2)
)

// Chunk is a retrievable unit of vault text
type Chunk struct {
	Text     string
	Metadata map[string]any
}

// HeaderMark records one ATX header and its breadcrumb at scan time
type HeaderMark struct {
	Position    int      // Byte offset of the header line start
	EndPosition int      // Byte offset past the header line, before the newline
	Level       int      // 1-6
	Title       string   // Header text with surrounding whitespace trimmed
	Path        []string // Ancestor titles ending with this header
}

// MarkdownChunkerOptions configures the markdown chunker behavior
type MarkdownChunkerOptions struct {
	MinChunkSize int // Minimum chunk size in runes (default: DefaultMinChunkSize)
	MaxChunkSize int // Maximum chunk size in runes (default: DefaultMaxChunkSize)
	ChunkLevel   int // Header level that opens a new chunk (default: DefaultChunkLevel)
}
