package store

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/chunk"
)

// fakeEmbedder produces deterministic bag-of-words vectors so texts
// sharing tokens land near each other.
type fakeEmbedder struct {
	dims int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dims: 64}
}

func (f *fakeEmbedder) embed(text string) []float32 {
	vec := make([]float32, f.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(f.dims)] += 1
	}
	return vec
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.embed(text), nil
}

func (f *fakeEmbedder) Dimensions() int    { return f.dims }
func (f *fakeEmbedder) ModelName() string  { return "fake-model" }
func (f *fakeEmbedder) Available(ctx context.Context) bool { return true }
func (f *fakeEmbedder) Close() error       { return nil }

func mkChunks(texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunk.Chunk{
			Text: t,
			Metadata: map[string]any{
				"source":        "a.md",
				"relative_path": "notes/a.md",
			},
		}
	}
	return out
}

func openLocal(t *testing.T, dir string) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(dir, "test_collection", newFakeEmbedder(), nil)
	require.NoError(t, err)
	return s
}

func TestChunkID_Format(t *testing.T) {
	assert.Equal(t, "notes/a.md::chunk_0", ChunkID("notes/a.md", 0))
	assert.Equal(t, "notes/a.md::chunk_12", ChunkID("notes/a.md", 12))
}

func TestSplitChunkID(t *testing.T) {
	rp, idx, ok := SplitChunkID("notes/a.md::chunk_3")
	require.True(t, ok)
	assert.Equal(t, "notes/a.md", rp)
	assert.Equal(t, 3, idx)

	// Path containing the separator splits at the last occurrence.
	rp, idx, ok = SplitChunkID("odd::chunk_1::chunk_2")
	require.True(t, ok)
	assert.Equal(t, "odd::chunk_1", rp)
	assert.Equal(t, 2, idx)

	_, _, ok = SplitChunkID("no separator here")
	assert.False(t, ok)

	_, _, ok = SplitChunkID("a.md::chunk_x")
	assert.False(t, ok)
}

func TestNormalizeMetadata(t *testing.T) {
	meta := NormalizeMetadata(map[string]any{
		"str":     "hello",
		"num":     42,
		"flt":     1.5,
		"flag":    true,
		"nothing": nil,
		"list":    []string{"a", "b"},
		"nested":  map[string]any{"k": "v"},
	})

	assert.Equal(t, "hello", meta["str"])
	assert.Equal(t, 42, meta["num"])
	assert.Equal(t, 1.5, meta["flt"])
	assert.Equal(t, true, meta["flag"])
	assert.Nil(t, meta["nothing"])
	assert.Equal(t, `["a","b"]`, meta["list"])
	assert.Equal(t, `{"k":"v"}`, meta["nested"])
}

func TestNormalizeMetadata_StringifiesOtherTypes(t *testing.T) {
	type odd struct{ X int }
	meta := NormalizeMetadata(map[string]any{"odd": odd{X: 1}})
	assert.Equal(t, "{1}", meta["odd"])
}

func TestSanitizeCollectionName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Vault", "vault"},
		{"BAAI/bge-m3", "baai_bge-m3"},
		{"has spaces here", "has_spaces_here"},
		{"a..b", "a.b"},
		{"a__b", "a_b"},
		{"__x__", "x__"},
		{"ab", "ab_"},
		{"", "___"},
		{"1.2.3.4", "col_1.2.3.4"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeCollectionName(tc.in), "input %q", tc.in)
	}

	long := strings.Repeat("a", 80)
	assert.Len(t, SanitizeCollectionName(long), 63)
}

func TestDeriveCollectionName_ModelChange(t *testing.T) {
	small := DeriveCollectionName("obsidian_notes", "text-embedding-3-small")
	bge := DeriveCollectionName("obsidian_notes", "BAAI/bge-m3")

	assert.Equal(t, "obsidian_notes_text-embedding-3-small", small)
	assert.Equal(t, "obsidian_notes_baai_bge-m3", bge)
	assert.NotEqual(t, small, bge)
}

func TestLocalStore_UpsertAndCount(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()

	n, err := s.UpsertChunks(context.Background(), mkChunks("alpha text", "beta text"), "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLocalStore_UpsertIsIdempotent(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, mkChunks("one", "two"), "notes/a.md")
	require.NoError(t, err)
	_, err = s.UpsertChunks(ctx, mkChunks("one", "two"), "notes/a.md")
	require.NoError(t, err)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-upsert of the same file must not grow the row set")

	rows, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "notes/a.md::chunk_0", rows[0].ID)
	assert.Equal(t, "notes/a.md::chunk_1", rows[1].ID)
}

func TestLocalStore_QueryRanksByRelevance(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	docs := []string{
		"python is a programming language",
		"snakes live in the jungle",
		"cooking pasta with tomato sauce",
	}
	_, err := s.UpsertChunks(ctx, mkChunks(docs...), "notes/a.md")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "python programming", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "notes/a.md::chunk_0", rows[0].ID)
	assert.Contains(t, rows[0].Text, "python")
	assert.LessOrEqual(t, rows[0].Distance, rows[1].Distance)
}

func TestLocalStore_QueryEmptyStore(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()

	rows, err := s.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLocalStore_QueryWithWhereFilter(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	first := chunk.Chunk{Text: "python notes", Metadata: map[string]any{"folder_path": "projects"}}
	second := chunk.Chunk{Text: "python journal", Metadata: map[string]any{"folder_path": "journal"}}
	_, err := s.UpsertChunks(ctx, []chunk.Chunk{first}, "projects/p.md")
	require.NoError(t, err)
	_, err = s.UpsertChunks(ctx, []chunk.Chunk{second}, "journal/j.md")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "python", 5, WithWhere(map[string]string{"folder_path": "journal"}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "journal/j.md::chunk_0", rows[0].ID)
}

func TestLocalStore_QueryWithWhereDocument(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, mkChunks("alpha contains needle word", "beta plain"), "notes/a.md")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "alpha beta", 5, WithWhereDocument("needle"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Text, "needle")
}

func TestLocalStore_DeleteByRelativePath(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, mkChunks("a", "b"), "notes/a.md")
	require.NoError(t, err)
	_, err = s.UpsertChunks(ctx, mkChunks("c"), "notes/b.md")
	require.NoError(t, err)

	require.NoError(t, s.DeleteByRelativePath(ctx, "notes/a.md"))

	rows, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "notes/b.md::chunk_0", rows[0].ID)
}

func TestLocalStore_DeleteChunksByPrefix(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, mkChunks("a", "b", "c"), "notes/a.md")
	require.NoError(t, err)

	// Shrink from 3 chunks to 1: evict indices 1 and up.
	require.NoError(t, s.DeleteChunksByPrefix(ctx, "notes/a.md", 1))

	rows, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "notes/a.md::chunk_0", rows[0].ID)

	// Deleting an absent range is a no-op.
	require.NoError(t, s.DeleteChunksByPrefix(ctx, "missing.md", 0))
}

func TestLocalStore_Clear(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, mkChunks("a", "b"), "notes/a.md")
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Store stays usable after a clear.
	n, err := s.UpsertChunks(ctx, mkChunks("fresh"), "notes/c.md")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLocalStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openLocal(t, dir)
	_, err := s.UpsertChunks(ctx, []chunk.Chunk{{
		Text:     "persistent text",
		Metadata: map[string]any{"source": "a.md", "level": 2},
	}}, "notes/a.md")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openLocal(t, dir)
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rows, err := reopened.Query(ctx, "persistent text", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "notes/a.md::chunk_0", rows[0].ID)
	assert.Equal(t, "persistent text", rows[0].Text)
	assert.Equal(t, "a.md", rows[0].Metadata["source"])
	assert.Equal(t, 2, rows[0].Metadata["level"])
}

func TestLocalStore_ClosedStoreRejectsOps(t *testing.T) {
	s := openLocal(t, t.TempDir())
	require.NoError(t, s.Close())

	_, err := s.UpsertChunks(context.Background(), mkChunks("x"), "a.md")
	assert.Error(t, err)
	_, err = s.Count(context.Background())
	assert.Error(t, err)
}

func TestLocalStore_AllDistanceIsNaN(t *testing.T) {
	s := openLocal(t, t.TempDir())
	defer s.Close()

	_, err := s.UpsertChunks(context.Background(), mkChunks("x"), "a.md")
	require.NoError(t, err)

	rows, err := s.All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, math.IsNaN(rows[0].Distance))
}

func TestPointID_Deterministic(t *testing.T) {
	a := pointID("notes/a.md::chunk_0")
	b := pointID("notes/a.md::chunk_0")
	c := pointID("notes/a.md::chunk_1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(queryOptions{}))

	f := buildFilter(queryOptions{
		where:         map[string]string{"folder_path": "projects", "source": "a.md"},
		whereDocument: "needle",
	})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 3)
}

func TestQdrantValueRoundTrip(t *testing.T) {
	cases := map[string]any{
		"s": "text",
		"i": int64(7),
		"f": 2.5,
		"b": true,
	}
	for k, v := range cases {
		qv := toQdrantValue(v)
		require.NotNil(t, qv, k)
		assert.Equal(t, v, fromQdrantValue(qv), k)
	}

	assert.Nil(t, toQdrantValue(nil))
	// Ints normalize to int64 on the way back.
	assert.Equal(t, int64(3), fromQdrantValue(toQdrantValue(3)))
}
