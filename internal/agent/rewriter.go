// Package agent layers query understanding and retrieval control on top
// of the RAG chain: reference-resolving query rewrites, self-correcting
// retrieval, and bounded parallel fan-out over sub-queries.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hbollon/go-edlib"
	"github.com/tidwall/gjson"

	"github.com/vaultrag/vaultrag/internal/llm"
)

const (
	// historyWindow is how many trailing messages feed the rewrite prompt.
	historyWindow = 6
	// historyMaxChars truncates long history messages in the prompt.
	historyMaxChars = 200
	// maxRewrites caps sub-queries regardless of what the model returns.
	maxRewrites = 3
	// dedupeSimilarity is the edit-similarity above which two rewrites
	// count as the same query.
	dedupeSimilarity = 0.9
)

// RE2 word boundaries are ASCII-only, so the Korean demonstratives are
// checked by substring instead.
var (
	ambiguousEnglish = regexp.MustCompile(`(?i)\b(it|this|that|these|those|the same)\b`)
	ambiguousKorean  = []string{"그것", "이것", "저것", "같은 것", "마찬가지"}

	fenceMarker   = regexp.MustCompile("```(?:json)?\\s*")
	objectPattern = regexp.MustCompile(`\{[^{}]*\}`)
)

// RewriteResult is the model's analysis of one question.
type RewriteResult struct {
	// IsClear reports whether the question needed no clarification.
	IsClear bool
	// RewrittenQueries holds one entry when the question was already
	// clear, up to three when it was decomposed.
	RewrittenQueries []string
	// ClarificationNeeded describes what is missing, empty when nothing.
	ClarificationNeeded string
	// OriginalQuery is the question as asked.
	OriginalQuery string
}

// Rewriter turns conversational questions into standalone search
// queries: it resolves pronoun references against recent history and
// decomposes compound questions into sub-queries.
type Rewriter struct {
	model  llm.LLM
	logger *slog.Logger
}

// NewRewriter builds a query rewriter on the given model.
func NewRewriter(model llm.LLM) *Rewriter {
	return &Rewriter{
		model:  model,
		logger: slog.Default().With("component", "query_rewriter"),
	}
}

// Rewrite asks the model to analyze the question against recent
// history. Responses the parser cannot salvage fall back to the
// original question marked clear, so a flaky model never blocks
// retrieval.
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []llm.Message) (*RewriteResult, error) {
	historyText := formatHistory(history)
	if historyText == "" {
		historyText = "(No previous conversation)"
	}
	prompt := fmt.Sprintf(rewritePrompt, historyText, query)

	response, err := r.model.Generate(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		return nil, err
	}

	result := parseRewrite(response.Content, query)
	r.logger.Debug("query_rewritten",
		"is_clear", result.IsClear,
		"queries", len(result.RewrittenQueries))
	return result, nil
}

// ResolveReferences returns the question with pronoun references
// resolved against history. The model is consulted only when the
// question actually contains an ambiguous token; on any failure the
// original question comes back unchanged.
func (r *Rewriter) ResolveReferences(ctx context.Context, query string, history []llm.Message) string {
	if len(history) == 0 || !hasAmbiguousReference(query) {
		return query
	}

	result, err := r.Rewrite(ctx, query, history)
	if err != nil {
		r.logger.Warn("reference_resolution_failed", "error", err)
		return query
	}
	if len(result.RewrittenQueries) > 0 {
		return result.RewrittenQueries[0]
	}
	return query
}

func hasAmbiguousReference(query string) bool {
	if ambiguousEnglish.MatchString(query) {
		return true
	}
	for _, token := range ambiguousKorean {
		if strings.Contains(query, token) {
			return true
		}
	}
	return false
}

func formatHistory(history []llm.Message) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	lines := make([]string, 0, len(history))
	for _, msg := range history {
		content := msg.Content
		if runes := []rune(content); len(runes) > historyMaxChars {
			content = string(runes[:historyMaxChars]) + "..."
		}
		lines = append(lines, msg.Role+": "+content)
	}
	return strings.Join(lines, "\n")
}

// parseRewrite extracts the analysis object from the model response,
// tolerating code fences and surrounding prose. When no object can be
// recovered the original question is returned as the single clear
// rewrite.
func parseRewrite(content, original string) *RewriteResult {
	result := &RewriteResult{IsClear: true, OriginalQuery: original}

	doc, ok := firstJSONObject(stripFences(content))
	if !ok {
		result.RewrittenQueries = []string{original}
		return result
	}

	if v := doc.Get("is_clear"); v.Exists() {
		result.IsClear = v.Bool()
	}
	if v := doc.Get("clarification_needed"); v.Type == gjson.String {
		result.ClarificationNeeded = v.String()
	}

	for _, entry := range doc.Get("rewritten_queries").Array() {
		if q := strings.TrimSpace(entry.String()); q != "" {
			result.RewrittenQueries = append(result.RewrittenQueries, q)
		}
	}
	if len(result.RewrittenQueries) == 0 {
		result.RewrittenQueries = []string{original}
		return result
	}

	result.RewrittenQueries = dedupeQueries(result.RewrittenQueries)
	if len(result.RewrittenQueries) > maxRewrites {
		result.RewrittenQueries = result.RewrittenQueries[:maxRewrites]
	}
	return result
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceMarker.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.TrimRight(s, "`"))
}

func firstJSONObject(s string) (gjson.Result, bool) {
	if gjson.Valid(s) {
		if doc := gjson.Parse(s); doc.IsObject() {
			return doc, true
		}
	}
	if m := objectPattern.FindString(s); m != "" && gjson.Valid(m) {
		if doc := gjson.Parse(m); doc.IsObject() {
			return doc, true
		}
	}
	return gjson.Result{}, false
}

// dedupeQueries drops rewrites that are near-duplicates of an earlier
// one, so the fan-out does not burn a worker on the same search twice.
func dedupeQueries(queries []string) []string {
	kept := make([]string, 0, len(queries))
	for _, query := range queries {
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		duplicate := false
		for _, prior := range kept {
			if querySimilarity(query, prior) >= dedupeSimilarity {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, query)
		}
	}
	return kept
}

func querySimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1.0
	}
	score, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(score)
}
