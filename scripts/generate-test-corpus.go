//go:build ignore

// Package main generates a synthetic Markdown vault for benchmarking
// sync and retrieval against realistic note shapes.
// Usage: go run scripts/generate-test-corpus.go -notes 1000 -output testdata/bench-vault
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numNotes  = flag.Int("notes", 1000, "Number of notes to generate")
	outputDir = flag.String("output", "testdata/bench-vault", "Output vault directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// noteTemplate is a topic note: frontmatter, nested headings, a list,
// a code fence, and wikilinks, the mix real vaults accumulate.
var noteTemplate = `---
tags: [%s, %s]
created: %s
---

# %s

%s

## Background

%s The details link back to [[%s]] and the weekly review.

%s

## Current Approach

%s

- %s comes first, everything else waits
- Keep the %s under version control
- Revisit after the next %s cycle

### Commands

` + "```bash" + `
%s --verbose --target %s
%s status | grep -i %s
` + "```" + `

## Open Threads

%s See also [[%s]].
`

// journalTemplate is a daily note: shallow structure, short sections.
var journalTemplate = `---
tags: [journal]
---

# %s

## Log

%s

## Done

- %s
- Reviewed notes on [[%s]]

## Tomorrow

%s
`

// referenceTemplate is a long flat reference note that exercises the
// chunker's size-based splitting rather than its heading logic.
var referenceTemplate = `# %s Reference

%s

%s

%s

%s
`

// Word pools for note topics and filler prose.
var (
	topics = []string{
		"gardening", "espresso", "homelab", "woodworking", "reading",
		"running", "backups", "networking", "fermentation", "climbing",
		"photography", "cycling", "astronomy", "birdwatching", "baking",
		"soldering", "budgeting", "languages", "chess", "camping",
	}
	subjects = []string{
		"the irrigation timer", "the grinder burrs", "the reverse proxy",
		"the dovetail jig", "the reading backlog", "the interval plan",
		"the restic repository", "the VLAN layout", "the starter culture",
		"the finger strength board", "the film scanner", "the derailleur",
		"the telescope mount", "the feeder camera", "the proofing basket",
		"the flux pen", "the envelope sheet", "the flashcard deck",
		"the opening repertoire", "the tent footprint",
	}
	tools = []string{
		"rsync", "restic", "kubectl", "systemctl", "ffmpeg",
		"git", "make", "docker", "curl", "sqlite3",
	}
	sentences = []string{
		"It took three attempts before the setup behaved the same way twice.",
		"Most of the complexity lives in the edge cases nobody documents.",
		"The quick fix from last month is now the permanent solution.",
		"Switching the order of the first two steps removed the whole failure mode.",
		"Measured twice, logged the numbers, and the drift is real.",
		"The upstream docs disagree with what the tool actually does.",
		"A smaller batch size made the whole pipeline noticeably calmer.",
		"Keeping a plain text log beats every app tried so far.",
		"The seasonal timing matters more than the technique.",
		"Half the maintenance burden disappeared after the simplification pass.",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	dirs := []string{"notes", "journal", "reference"}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(*outputDir, dir), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating directory %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d notes in %s...\n", *numNotes, *outputDir)

	topicNotes := *numNotes * 60 / 100
	journalNotes := *numNotes * 30 / 100
	referenceNotes := *numNotes - topicNotes - journalNotes

	generated := 0
	for i := 0; i < topicNotes; i++ {
		if err := generateTopicNote(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating note %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < journalNotes; i++ {
		if err := generateJournalNote(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating journal %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < referenceNotes; i++ {
		if err := generateReferenceNote(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating reference %d: %v\n", i, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d notes.\n", generated)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// paragraph builds filler prose from the sentence pool.
func paragraph(rng *rand.Rand, sentenceCount int) string {
	parts := make([]string, sentenceCount)
	for i := range parts {
		parts[i] = pick(rng, sentences)
	}
	return strings.Join(parts, " ")
}

func noteDate(rng *rand.Rand) time.Time {
	days := rng.Intn(3 * 365)
	return time.Now().AddDate(0, 0, -days)
}

func generateTopicNote(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)
	other := pick(rng, topics)
	subject := pick(rng, subjects)
	tool := pick(rng, tools)
	title := capitalize(topic) + " Setup"

	content := fmt.Sprintf(noteTemplate,
		topic, other, noteDate(rng).Format("2006-01-02"),
		title,
		paragraph(rng, 2),
		paragraph(rng, 3), other,
		paragraph(rng, 2),
		paragraph(rng, 3),
		subject, subject, topic,
		tool, topic,
		tool, topic,
		paragraph(rng, 2), other,
	)

	filename := filepath.Join(*outputDir, "notes", fmt.Sprintf("%s-%d.md", topic, index))
	return os.WriteFile(filename, []byte(content), 0644)
}

func generateJournalNote(rng *rand.Rand, index int) error {
	date := noteDate(rng)
	content := fmt.Sprintf(journalTemplate,
		date.Format("2006-01-02"),
		paragraph(rng, 3),
		pick(rng, subjects),
		pick(rng, topics),
		paragraph(rng, 1),
	)

	filename := filepath.Join(*outputDir, "journal", fmt.Sprintf("%s-%d.md", date.Format("2006-01-02"), index))
	return os.WriteFile(filename, []byte(content), 0644)
}

func generateReferenceNote(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)
	content := fmt.Sprintf(referenceTemplate,
		capitalize(topic),
		paragraph(rng, 8),
		paragraph(rng, 8),
		paragraph(rng, 8),
		paragraph(rng, 8),
	)

	filename := filepath.Join(*outputDir, "reference", fmt.Sprintf("%s-reference-%d.md", topic, index))
	return os.WriteFile(filename, []byte(content), 0644)
}
