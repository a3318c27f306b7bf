// Package validation runs golden retrieval queries against an indexed
// vault and scores the results. Queries are data-driven, loaded from
// testdata/queries.yaml, so retrieval quality checks can evolve without
// touching code.
//
// Tier 1 queries are keyword-anchored lookups that must pass. Tier 2
// queries are paraphrases that track semantic retrieval quality over
// time. Negative queries only need to complete without a crash.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/embed"
	"github.com/vaultrag/vaultrag/internal/rag"
	"github.com/vaultrag/vaultrag/internal/store"
)

// Query modes. Dense goes straight to the vector store; hybrid blends
// in BM25 keyword relevance.
const (
	ModeDense  = "dense"
	ModeHybrid = "hybrid"
)

// defaultTopK is how many results each golden query fetches.
const defaultTopK = 10

// QuerySpec defines one golden query with its expected sources.
type QuerySpec struct {
	ID       string   `yaml:"id"`       // e.g. "T1-Q3"
	Name     string   `yaml:"name"`     // short snake_case label
	Query    string   `yaml:"query"`    // the search text
	Mode     string   `yaml:"mode"`     // "dense" or "hybrid" ("" = dense)
	Expected []string `yaml:"expected"` // relative paths (or prefixes) that should appear
	Notes    string   `yaml:"notes"`    // optional explanation for maintainers
	Tier     int      `yaml:"-"`        // set from the section the spec was loaded from
}

// QueryConfig holds all golden queries loaded from YAML.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

var (
	queriesOnce sync.Once
	queriesData *QueryConfig
	queriesErr  error
)

// LoadQueries loads the golden queries from testdata/queries.yaml. The
// file is resolved relative to this source file, so callers can run
// from any working directory. Results are cached after the first load.
func LoadQueries() (*QueryConfig, error) {
	queriesOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			queriesErr = fmt.Errorf("failed to resolve caller path")
			return
		}
		path := filepath.Join(filepath.Dir(filename), "testdata", "queries.yaml")

		data, err := os.ReadFile(path)
		if err != nil {
			queriesErr = fmt.Errorf("failed to read queries file %s: %w", path, err)
			return
		}

		var cfg QueryConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			queriesErr = fmt.Errorf("failed to parse queries YAML: %w", err)
			return
		}

		for i := range cfg.Tier1 {
			cfg.Tier1[i].Tier = 1
		}
		for i := range cfg.Tier2 {
			cfg.Tier2[i].Tier = 2
		}
		for i := range cfg.Negative {
			cfg.Negative[i].Tier = 0
		}

		queriesData = &cfg
	})

	return queriesData, queriesErr
}

// ResetQueries clears the cached queries (for testing).
func ResetQueries() {
	queriesOnce = sync.Once{}
	queriesData = nil
	queriesErr = nil
}

// Tier1Queries returns the keyword-anchored queries that must pass.
func Tier1Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier1
}

// Tier2Queries returns the paraphrase queries that track semantic
// retrieval quality.
func Tier2Queries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Tier2
}

// NegativeQueries returns queries that only need to complete cleanly.
func NegativeQueries() []QuerySpec {
	cfg, err := LoadQueries()
	if err != nil {
		return nil
	}
	return cfg.Negative
}

// QueryResult captures the outcome of a single golden query.
type QueryResult struct {
	Spec      QuerySpec     `json:"spec"`
	Passed    bool          `json:"passed"`
	Duration  time.Duration `json:"duration_ms"`
	TopPaths  []string      `json:"top_paths"`  // distinct relative paths, best first
	MatchedAt int           `json:"matched_at"` // position of the first expected path (-1 if absent)
	Error     string        `json:"error,omitempty"`
}

// SuiteResult aggregates a full golden-query run.
type SuiteResult struct {
	Timestamp   time.Time     `json:"timestamp"`
	Tier1       []QueryResult `json:"tier1"`
	Tier2       []QueryResult `json:"tier2"`
	Negative    []QueryResult `json:"negative"`
	Tier1Pass   int           `json:"tier1_pass"`
	Tier1Total  int           `json:"tier1_total"`
	Tier2Pass   int           `json:"tier2_pass"`
	Tier2Total  int           `json:"tier2_total"`
	NegPass     int           `json:"negative_pass"`
	NegTotal    int           `json:"negative_total"`
	Embedder    string        `json:"embedder"`
	IndexChunks int           `json:"index_chunks"`
}

// Validator runs golden queries against an assembled retrieval stack.
type Validator struct {
	retriever rag.Retriever
	hybrid    *rag.HybridSearcher
	topK      int
	model     string
	chunks    int
	closeFns  []func() error
}

// ValidatorOption tunes a Validator.
type ValidatorOption func(*Validator)

// WithTopK overrides how many results each query fetches.
func WithTopK(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.topK = n
		}
	}
}

// WithIndexInfo records the embedder and chunk count for reports.
func WithIndexInfo(model string, chunks int) ValidatorOption {
	return func(v *Validator) {
		v.model = model
		v.chunks = chunks
	}
}

// NewValidator wires a validator over an existing retriever. hybrid may
// be nil when no query uses hybrid mode. The validator does not own the
// underlying stores; Close is a no-op.
func NewValidator(retriever rag.Retriever, hybrid *rag.HybridSearcher, opts ...ValidatorOption) *Validator {
	v := &Validator{
		retriever: retriever,
		hybrid:    hybrid,
		topK:      defaultTopK,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open assembles a validator over the synced collection for the vault
// at vaultPath. The collection must already exist; Open never writes to
// it. dataDir overrides the configured data directory when non-empty.
//
// Close releases the embedder, store, and keyword index Open created.
func Open(ctx context.Context, vaultPath, dataDir string) (*Validator, error) {
	cfg, err := config.Load(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", vaultPath, err)
	}
	cfg.Vault.Path = vaultPath
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}

	logger := slog.Default().With("component", "validation")

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	collection := store.DeriveCollectionName(cfg.Store.CollectionBase, embedder.ModelName())
	if _, err := os.Stat(cfg.RegistryPath(collection)); err != nil {
		embedder.Close()
		return nil, fmt.Errorf("no synced collection %q under %s - run 'vaultrag sync' first",
			collection, cfg.ResolvedDataDir())
	}

	vs, err := store.Open(ctx, cfg, embedder, logger)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	chunks, err := vs.Count(ctx)
	if err != nil {
		vs.Close()
		embedder.Close()
		return nil, fmt.Errorf("failed to count stored chunks: %w", err)
	}

	hybrid, err := rag.NewHybridSearcher(vs, cfg.Search.DenseWeight, cfg.Search.SparseWeight)
	if err != nil {
		vs.Close()
		embedder.Close()
		return nil, err
	}
	if err := seedKeywordIndex(ctx, hybrid, vs); err != nil {
		hybrid.Close()
		vs.Close()
		embedder.Close()
		return nil, err
	}

	v := NewValidator(rag.NewVectorRetriever(vs), hybrid,
		WithIndexInfo(embedder.ModelName(), chunks))
	v.closeFns = []func() error{hybrid.Close, vs.Close, embedder.Close}
	return v, nil
}

// seedKeywordIndex loads every stored chunk into the BM25 side of the
// hybrid searcher.
func seedKeywordIndex(ctx context.Context, hybrid *rag.HybridSearcher, vs store.VectorStore) error {
	rows, err := vs.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stored chunks: %w", err)
	}
	docs := make([]string, len(rows))
	ids := make([]string, len(rows))
	for i, row := range rows {
		docs[i] = row.Text
		ids[i] = row.ID
	}
	return hybrid.IndexDocuments(ctx, docs, ids)
}

// Close releases whatever Open created. Validators built with
// NewValidator own nothing and close nothing.
func (v *Validator) Close() error {
	var first error
	for _, closeFn := range v.closeFns {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	v.closeFns = nil
	return first
}

// RunQuery executes one golden query and scores the outcome.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) QueryResult {
	start := time.Now()
	result := QueryResult{
		Spec:      spec,
		MatchedAt: -1,
	}

	paths, err := v.resultPaths(ctx, spec)
	result.Duration = time.Since(start)

	if err != nil {
		// Negative queries are allowed to fail, as long as they fail
		// with an error instead of a panic.
		if spec.Tier == 0 {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	result.TopPaths = paths
	if len(spec.Expected) == 0 {
		// Nothing expected: completing without error is the pass.
		result.Passed = true
	} else {
		result.Passed, result.MatchedAt = checkExpected(paths, spec.Expected)
	}
	return result
}

// RunAll executes the whole golden-query suite.
func (v *Validator) RunAll(ctx context.Context) *SuiteResult {
	result := &SuiteResult{
		Timestamp:   time.Now(),
		Embedder:    v.model,
		IndexChunks: v.chunks,
	}

	for _, spec := range Tier1Queries() {
		qr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, qr)
		result.Tier1Total++
		if qr.Passed {
			result.Tier1Pass++
		}
	}
	for _, spec := range Tier2Queries() {
		qr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, qr)
		result.Tier2Total++
		if qr.Passed {
			result.Tier2Pass++
		}
	}
	for _, spec := range NegativeQueries() {
		qr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, qr)
		result.NegTotal++
		if qr.Passed {
			result.NegPass++
		}
	}

	return result
}

// resultPaths runs the query in its mode and returns the distinct
// relative paths of the hits, best first.
func (v *Validator) resultPaths(ctx context.Context, spec QuerySpec) ([]string, error) {
	switch spec.Mode {
	case ModeHybrid:
		if v.hybrid == nil {
			return nil, fmt.Errorf("query %s needs hybrid mode but no hybrid searcher is wired", spec.ID)
		}
		hits, err := v.hybrid.Search(ctx, spec.Query, v.topK)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(hits))
		for _, hit := range hits {
			if rp, _, ok := store.SplitChunkID(hit.ID); ok {
				paths = append(paths, rp)
			}
		}
		return dedupe(paths), nil

	case "", ModeDense:
		result, err := v.retriever.Retrieve(ctx, spec.Query, v.topK)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(result.Chunks))
		for _, src := range result.Sources() {
			if src.RelativePath != "" {
				paths = append(paths, src.RelativePath)
			}
		}
		return dedupe(paths), nil

	default:
		return nil, fmt.Errorf("query %s has unknown mode %q", spec.ID, spec.Mode)
	}
}

// dedupe keeps the first occurrence of each path, so positions reflect
// file rank rather than chunk rank.
func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// checkExpected reports whether any expected path appears in the
// results, and at which position. Expected entries match by prefix, so
// "recipes/" accepts any note in that folder.
func checkExpected(results, expected []string) (bool, int) {
	for i, path := range results {
		for _, exp := range expected {
			if strings.HasPrefix(path, exp) {
				return true, i
			}
		}
	}
	return false, -1
}
