package chunk

import (
	"regexp"
	"strings"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// frontmatterScanWindow bounds how far into a document the closing
// fence of a frontmatter block may appear.
const frontmatterScanWindow = 64 * 1024

var (
	// Matches a frontmatter block at the start of a document: ---\n...\n---\n
	frontmatterPattern = regexp.MustCompile(`(?s)\A---\s*\n(.*?)\n?---\s*\n`)

	// Matches just the opening fence line
	frontmatterOpenPattern = regexp.MustCompile(`\A---\s*\n`)
)

// Frontmatter holds the fields read from a YAML frontmatter block
type Frontmatter struct {
	Raw        string
	Tags       []string
	CreateDate string
	Extra      map[string]string
}

// Metadata renders the frontmatter fields carried on every chunk
func (f *Frontmatter) Metadata() map[string]any {
	return map[string]any{
		"tags":        f.Tags,
		"create_date": f.CreateDate,
	}
}

// ParseFrontmatter reads tags, the create date, and loose key/value
// pairs from a raw frontmatter block. Parsing is line-oriented, not
// full YAML: list items accumulate into Tags, "create:" is captured
// as CreateDate, and any other "key: value" line lands in Extra.
func ParseFrontmatter(raw string) *Frontmatter {
	fm := &Frontmatter{Raw: raw, Extra: make(map[string]string)}

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)

		if after, ok := strings.CutPrefix(line, "- "); ok {
			fm.Tags = append(fm.Tags, strings.TrimSpace(after))
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "create":
			fm.CreateDate = value
		case "tags":
			// List items are handled above; an inline value is dropped
		default:
			fm.Extra[key] = value
		}
	}

	return fm
}

// ExtractFrontmatter splits a document into its frontmatter block and
// body. A document that opens with --- but never closes the fence
// within the first 64 KiB is returned whole as the body, alongside a
// parse error the caller may log and ignore.
func ExtractFrontmatter(text string) (*Frontmatter, string, error) {
	window := text
	if len(window) > frontmatterScanWindow {
		window = window[:frontmatterScanWindow]
	}

	m := frontmatterPattern.FindStringSubmatchIndex(window)
	if m == nil {
		if frontmatterOpenPattern.MatchString(window) {
			return nil, text, errors.ParseError("frontmatter has no closing --- fence", nil)
		}
		return nil, text, nil
	}

	return ParseFrontmatter(window[m[2]:m[3]]), text[m[1]:], nil
}
