package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Matches headers: # Title, ## Title, etc.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+?)\s*$`)

// MarkdownChunker implements header-based markdown chunking.
// Chunks anchor at headers whose level is at most ChunkLevel; deeper
// sub-headers fold into the pending chunk. Fenced code blocks are
// replaced with placeholders before any size accounting, so splitting
// and merging can never cut through one. Placeholders are restored on
// the emitted chunks, which is the one case where a chunk may exceed
// MaxChunkSize.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

// NewMarkdownChunker creates a markdown chunker with default options
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom options
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MinChunkSize == 0 {
		opts.MinChunkSize = DefaultMinChunkSize
	}
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.ChunkLevel == 0 {
		opts.ChunkLevel = DefaultChunkLevel
	}
	return &MarkdownChunker{options: opts}
}

// Options returns the effective chunker options
func (c *MarkdownChunker) Options() MarkdownChunkerOptions {
	return c.options
}

// Chunk splits markdown text into header-anchored semantic chunks.
// source is the originating file name; extra is merged into every
// chunk's metadata. A document with no headers emits a single chunk
// holding the whole body. Empty or whitespace-only documents emit
// nothing. A malformed frontmatter block is kept as body text.
func (c *MarkdownChunker) Chunk(text, source string, extra map[string]any) []Chunk {
	fm, body, _ := ExtractFrontmatter(text)

	if strings.TrimSpace(body) == "" {
		return nil
	}

	protected, blocks := protectCodeBlocks(body)
	marks := extractHeaderMarks(protected)

	var chunks []Chunk
	if len(marks) == 0 {
		meta := map[string]any{
			"source":      source,
			"header_path": "",
			"headers":     []string{},
		}
		for k, v := range extra {
			meta[k] = v
		}
		if fm != nil {
			meta["frontmatter"] = fm.Metadata()
		}
		chunks = []Chunk{{Text: strings.TrimSpace(protected), Metadata: meta}}
	} else {
		chunks = c.assemble(protected, marks, source, extra, fm)
	}

	for i := range chunks {
		chunks[i].Text = restoreCodeBlocks(chunks[i].Text, blocks)
	}
	return chunks
}

// pendingChunk accumulates a chunk-level section plus any deeper
// sub-sections until the next chunk boundary
type pendingChunk struct {
	text    string
	meta    map[string]any
	headers []string
}

// assemble walks the header marks and packs sections into chunks.
// All sizes here are measured on placeholder-protected text.
func (c *MarkdownChunker) assemble(protected string, marks []HeaderMark, source string, extra map[string]any, fm *Frontmatter) []Chunk {
	var chunks []Chunk
	var pend *pendingChunk

	emit := func(text string, p *pendingChunk) {
		meta := make(map[string]any, len(p.meta)+1)
		for k, v := range p.meta {
			meta[k] = v
		}
		meta["headers"] = append([]string(nil), p.headers...)
		chunks = append(chunks, Chunk{Text: text, Metadata: meta})
	}

	flush := func(p *pendingChunk) {
		if runeLen(p.text) > c.options.MaxChunkSize {
			for _, piece := range splitByParagraphs(p.text, c.options.MaxChunkSize) {
				emit(piece, p)
			}
			return
		}
		emit(p.text, p)
	}

	for i, mark := range marks {
		end := len(protected)
		if i+1 < len(marks) {
			end = marks[i+1].Position
		}
		sectionText := strings.TrimSpace(protected[mark.Position:end])

		// Sections with no content beyond their own title are skipped
		if sectionText == "" || sectionText == mark.Title {
			continue
		}

		meta := map[string]any{
			"source":      source,
			"header_path": renderHeaderPath(mark.Path),
			"level":       mark.Level,
		}
		for k, v := range extra {
			meta[k] = v
		}
		if fm != nil {
			meta["frontmatter"] = fm.Metadata()
		}

		switch {
		case mark.Level <= c.options.ChunkLevel:
			if pend != nil {
				flush(pend)
			}
			pend = &pendingChunk{text: sectionText, meta: meta, headers: []string{mark.Title}}
		case pend != nil:
			// Deeper sub-header folds into the pending chunk
			pend.text += "\n\n" + sectionText
			pend.headers = append(pend.headers, mark.Title)
		default:
			// Document opens below the chunk level
			pend = &pendingChunk{text: sectionText, meta: meta, headers: []string{mark.Title}}
		}
	}

	if pend == nil {
		return chunks
	}

	switch size := runeLen(pend.text); {
	case size < c.options.MinChunkSize && len(chunks) > 0:
		last := &chunks[len(chunks)-1]
		merged := last.Text + "\n\n" + pend.text
		if runeLen(merged) <= c.options.MaxChunkSize {
			last.Text = merged
			if prev, ok := last.Metadata["headers"].([]string); ok {
				last.Metadata["headers"] = append(prev, pend.headers...)
			}
		} else {
			emit(pend.text, pend)
		}
	case size > c.options.MaxChunkSize:
		for _, piece := range splitByParagraphs(pend.text, c.options.MaxChunkSize) {
			emit(piece, pend)
		}
	default:
		emit(pend.text, pend)
	}

	return chunks
}

// extractHeaderMarks scans all ATX headers and tracks the breadcrumb
// for each. A six-slot stack holds the active title per level; setting
// level L clears every deeper slot, and the path is the non-empty
// slots in order.
func extractHeaderMarks(text string) []HeaderMark {
	var marks []HeaderMark
	var stack [6]string

	for _, m := range headerPattern.FindAllStringSubmatchIndex(text, -1) {
		level := m[3] - m[2]
		title := strings.TrimSpace(text[m[4]:m[5]])

		stack[level-1] = title
		for i := level; i < 6; i++ {
			stack[i] = ""
		}

		path := make([]string, 0, level)
		for _, t := range stack {
			if t != "" {
				path = append(path, t)
			}
		}

		marks = append(marks, HeaderMark{
			Position:    m[0],
			EndPosition: m[1],
			Level:       level,
			Title:       title,
			Path:        path,
		})
	}

	return marks
}

// renderHeaderPath joins breadcrumb titles as "# h1 > ## h2 > ...".
// Hash depth is the position in the compacted path, not the header's
// original level.
func renderHeaderPath(path []string) string {
	parts := make([]string, len(path))
	for i, title := range path {
		parts[i] = strings.Repeat("#", i+1) + " " + title
	}
	return strings.Join(parts, " > ")
}

// codeBlock pairs a protected fenced block with its placeholder
type codeBlock struct {
	placeholder string
	original    string
}

// protectCodeBlocks replaces each fenced code block with a placeholder
// token. The opening fence is a run of three or more backticks; the
// block closes at the next run of at least the same length. Fences with
// no closing run are left as-is.
func protectCodeBlocks(text string) (string, []codeBlock) {
	var blocks []codeBlock
	var out strings.Builder
	written := 0
	search := 0

	for {
		rel := strings.Index(text[search:], "```")
		if rel < 0 {
			break
		}
		start := search + rel

		fenceLen := 3
		for start+fenceLen < len(text) && text[start+fenceLen] == '`' {
			fenceLen++
		}
		fence := text[start : start+fenceLen]

		// The info string runs to the end of the opening line
		nl := strings.IndexByte(text[start+fenceLen:], '\n')
		if nl < 0 {
			break
		}
		bodyStart := start + fenceLen + nl + 1

		rel = strings.Index(text[bodyStart:], fence)
		if rel < 0 {
			search = start + fenceLen
			continue
		}
		end := bodyStart + rel + fenceLen

		out.WriteString(text[written:start])
		placeholder := fmt.Sprintf("__CODE_BLOCK_%d__", len(blocks))
		blocks = append(blocks, codeBlock{placeholder: placeholder, original: text[start:end]})
		out.WriteString(placeholder)
		written = end
		search = end
	}

	if written == 0 {
		return text, nil
	}
	out.WriteString(text[written:])
	return out.String(), blocks
}

// restoreCodeBlocks swaps placeholders back for their original blocks
func restoreCodeBlocks(text string, blocks []codeBlock) string {
	for _, b := range blocks {
		text = strings.ReplaceAll(text, b.placeholder, b.original)
	}
	return text
}

// splitByParagraphs greedily packs blank-line paragraphs into pieces
// of at most maxSize runes. A single paragraph longer than maxSize
// stays whole.
func splitByParagraphs(text string, maxSize int) []string {
	paragraphs := strings.Split(text, "\n\n")

	var pieces []string
	var current []string
	size := 0

	for _, para := range paragraphs {
		paraSize := runeLen(para)
		if size+paraSize+2 > maxSize && len(current) > 0 {
			pieces = append(pieces, strings.Join(current, "\n\n"))
			current = nil
			size = 0
		}
		current = append(current, para)
		size += paraSize + 2
	}

	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, "\n\n"))
	}
	return pieces
}

// runeLen measures chunk size in runes rather than bytes
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
