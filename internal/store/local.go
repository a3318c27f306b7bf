package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/vaultrag/vaultrag/internal/chunk"
	"github.com/vaultrag/vaultrag/internal/errors"
)

// VectorsFile is the HNSW graph file inside a collection directory.
// Texts and metadata live in the ".meta" gob sidecar next to it.
const VectorsFile = "vectors.hnsw"

func init() {
	// Metadata values cross the gob boundary as interface values.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
}

// LocalStore is a file-backed vector store built on an HNSW graph.
// All rows of one collection live in memory and are flushed to
// <dir>/vectors.hnsw (+ .meta) after every mutation.
type LocalStore struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	embedder Embedder
	name     string
	dir      string
	logger   *slog.Logger

	// String chunk ids map to internal graph keys. Deletion is lazy:
	// the mapping is dropped and the node orphaned, since removing the
	// last graph node corrupts coder/hnsw graphs.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	texts    map[string]string
	metadata map[string]map[string]any
	dims     int

	closed bool
}

// localMeta is the gob sidecar: everything needed to rebuild the store
// state around the exported graph.
type localMeta struct {
	IDMap    map[string]uint64
	NextKey  uint64
	Dims     int
	Texts    map[string]string
	Metadata map[string]map[string]any
}

// NewLocalStore opens (or creates) the collection stored under dir.
// Existing graph and sidecar files are loaded lazily on open.
func NewLocalStore(dir, name string, embedder Embedder, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		return nil, errors.ValidationError("local store requires an embedder", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.IOError("failed to create collection directory", err).
			WithDetail("dir", dir)
	}

	s := &LocalStore{
		graph:    newGraph(),
		embedder: embedder,
		name:     name,
		dir:      dir,
		logger:   logger,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		texts:    make(map[string]string),
		metadata: make(map[string]map[string]any),
	}

	if err := s.load(); err != nil {
		// A damaged collection is rebuilt on the next sync rather than
		// blocking startup.
		logger.Warn("collection_load_failed",
			slog.String("collection", name),
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		s.reset()
	}

	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// UpsertChunks embeds and writes all chunks for one file. Existing ids
// are replaced. Returns the number of chunks written.
func (s *LocalStore) UpsertChunks(ctx context.Context, chunks []chunk.Chunk, relativePath string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, errors.EmbeddingError("failed to embed chunks", err).
			WithDetail("relative_path", relativePath)
	}
	if len(vectors) != len(chunks) {
		return 0, errors.EmbeddingError("embedder returned wrong vector count", nil).
			WithDetail("relative_path", relativePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.VectorStoreError("store is closed", nil)
	}

	for i, c := range chunks {
		if s.dims == 0 {
			s.dims = len(vectors[i])
		}
		if len(vectors[i]) != s.dims {
			return 0, errors.VectorStoreError("vector dimension mismatch", nil).
				WithDetail("relative_path", relativePath)
		}

		id := ChunkID(relativePath, i)
		s.removeLocked(id)

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
		s.texts[id] = c.Text
		s.metadata[id] = NormalizeMetadata(c.Metadata)
	}

	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Query embeds text and returns the n nearest rows, closest first.
// Filtered queries over-fetch and post-filter since the graph itself
// knows nothing about metadata.
func (s *LocalStore) Query(ctx context.Context, text string, n int, opts ...QueryOption) ([]Row, error) {
	if n <= 0 {
		return []Row{}, nil
	}
	o := applyQueryOptions(opts)

	query, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, errors.EmbeddingError("failed to embed query", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.VectorStoreError("store is closed", nil)
	}
	if len(s.idMap) == 0 {
		return []Row{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	// Orphaned nodes from lazy deletes still occupy search slots, and
	// filters discard hits after the fact, so fetch beyond n.
	fetch := n + (s.graph.Len() - len(s.idMap))
	if o.hasFilters() {
		fetch += n * 9
	}
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(normalized, fetch)

	rows := make([]Row, 0, n)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		meta := s.metadata[id]
		body := s.texts[id]
		if !o.matches(body, meta) {
			continue
		}
		rows = append(rows, Row{
			ID:       id,
			Text:     body,
			Metadata: meta,
			Distance: float64(s.graph.Distance(normalized, node.Value)),
		})
		if len(rows) == n {
			break
		}
	}
	return rows, nil
}

// All returns every row sorted by id. Distances are NaN.
func (s *LocalStore) All(ctx context.Context) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.VectorStoreError("store is closed", nil)
	}

	rows := make([]Row, 0, len(s.idMap))
	for id := range s.idMap {
		rows = append(rows, Row{
			ID:       id,
			Text:     s.texts[id],
			Metadata: s.metadata[id],
			Distance: math.NaN(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// DeleteByRelativePath removes every chunk belonging to a file.
func (s *LocalStore) DeleteByRelativePath(ctx context.Context, relativePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.VectorStoreError("store is closed", nil)
	}

	removed := false
	for id := range s.idMap {
		if rp, _, ok := SplitChunkID(id); ok && rp == relativePath {
			s.removeLocked(id)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return s.persistLocked()
}

// DeleteChunksByPrefix removes ids rp::chunk_k for k in
// [fromIndex, fromIndex+MaxChunksPerFile). Missing ids are ignored.
func (s *LocalStore) DeleteChunksByPrefix(ctx context.Context, relativePath string, fromIndex int) error {
	if fromIndex < 0 {
		fromIndex = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.VectorStoreError("store is closed", nil)
	}

	removed := false
	for k := fromIndex; k < fromIndex+MaxChunksPerFile; k++ {
		if s.removeLocked(ChunkID(relativePath, k)) {
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return s.persistLocked()
}

// Clear drops all rows and rebuilds an empty graph. The embedder
// binding and collection identity survive.
func (s *LocalStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.VectorStoreError("store is closed", nil)
	}

	s.reset()
	return s.persistLocked()
}

// Count returns the number of live rows.
func (s *LocalStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.VectorStoreError("store is closed", nil)
	}
	return len(s.idMap), nil
}

// Name returns the collection name.
func (s *LocalStore) Name() string {
	return s.name
}

// Path returns the directory holding the collection files.
func (s *LocalStore) Path() string {
	return s.dir
}

// Close flushes state and marks the store unusable.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	err := s.persistLocked()
	s.closed = true
	s.graph = nil
	return err
}

// removeLocked drops id from the mappings, orphaning its graph node.
// Returns true when the id existed. Caller holds the write lock.
func (s *LocalStore) removeLocked(id string) bool {
	key, ok := s.idMap[id]
	if !ok {
		return false
	}
	delete(s.idMap, id)
	delete(s.keyMap, key)
	delete(s.texts, id)
	delete(s.metadata, id)
	return true
}

// reset replaces all state with an empty graph.
func (s *LocalStore) reset() {
	s.graph = newGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.nextKey = 0
	s.texts = make(map[string]string)
	s.metadata = make(map[string]map[string]any)
}

func (s *LocalStore) vectorsPath() string {
	return filepath.Join(s.dir, VectorsFile)
}

func (s *LocalStore) metaPath() string {
	return s.vectorsPath() + ".meta"
}

// persistLocked writes the graph and sidecar atomically (temp file in
// the same directory, then rename). Caller holds the write lock.
func (s *LocalStore) persistLocked() error {
	path := s.vectorsPath()
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return errors.IOError("failed to create vectors file", err).WithDetail("path", tmp)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.VectorStoreError("failed to export graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.IOError("failed to close vectors file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.IOError("failed to replace vectors file", err)
	}

	return s.saveMetaLocked()
}

func (s *LocalStore) saveMetaLocked() error {
	tmp := s.metaPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.IOError("failed to create meta file", err).WithDetail("path", tmp)
	}

	meta := localMeta{
		IDMap:    s.idMap,
		NextKey:  s.nextKey,
		Dims:     s.dims,
		Texts:    s.texts,
		Metadata: s.metadata,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.IOError("failed to encode meta", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.IOError("failed to close meta file", err)
	}
	if err := os.Rename(tmp, s.metaPath()); err != nil {
		os.Remove(tmp)
		return errors.IOError("failed to replace meta file", err)
	}
	return nil
}

// load restores a previously persisted collection. A missing file pair
// means a fresh collection.
func (s *LocalStore) load() error {
	mf, err := os.Open(s.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.IOError("failed to open meta file", err)
	}
	defer mf.Close()

	var meta localMeta
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return errors.VectorStoreError("failed to decode meta", err)
	}

	gf, err := os.Open(s.vectorsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.IOError("failed to open vectors file", err)
	}
	defer gf.Close()

	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(gf)); err != nil {
		return errors.VectorStoreError("failed to import graph", err)
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.dims = meta.Dims
	s.texts = meta.Texts
	s.metadata = meta.Metadata
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	if s.texts == nil {
		s.texts = make(map[string]string)
	}
	if s.metadata == nil {
		s.metadata = make(map[string]map[string]any)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	s.logger.Debug("collection_loaded",
		slog.String("collection", s.name),
		slog.Int("rows", len(s.idMap)))
	return nil
}

// normalizeVectorInPlace scales v to unit length. Zero vectors pass
// through unchanged.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

var _ VectorStore = (*LocalStore)(nil)
