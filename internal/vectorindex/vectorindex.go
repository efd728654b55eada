// Package vectorindex implements the in-process similarity index backing
// semantic search.
//
// The index keeps every document and its embedding in memory and persists
// the whole collection as a single JSON snapshot after each mutation, so a
// restart recovers exactly the last committed state. A missing or corrupt
// snapshot starts an empty index rather than failing startup.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
)

var tracer = otel.Tracer("cortexd.vectorindex")

// Sentinel errors for index operations.
var (
	// ErrEmptyID is returned when an entry id is blank.
	ErrEmptyID = errors.New("empty document id")

	// ErrEmptyEmbedding is returned when an embedding has no components.
	ErrEmptyEmbedding = errors.New("empty embedding")
)

// entry is one stored document. The JSON field names define the snapshot
// format on disk.
type entry struct {
	Document  string         `json:"document"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

// Result is one search hit.
type Result struct {
	ID       string         `json:"id"`
	Document string         `json:"document"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Stats describes the index for the stats endpoint.
type Stats struct {
	CollectionName string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	StorePath      string `json:"store_path"`
}

// Index is a thread-safe in-memory cosine index with a JSON snapshot.
type Index struct {
	mu         sync.RWMutex
	entries    map[string]entry
	path       string
	collection string
	logger     *zap.Logger
}

// Options configures an Index.
type Options struct {
	// Path is the snapshot file location.
	Path string

	// Collection names the logical collection reported by Stats.
	Collection string

	Logger *zap.Logger
}

// Open loads the snapshot at opts.Path, or starts empty when the file is
// absent or unreadable.
func Open(opts Options) (*Index, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if opts.Collection == "" {
		opts.Collection = "chat_memory"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	idx := &Index{
		entries:    make(map[string]entry),
		path:       opts.Path,
		collection: opts.Collection,
		logger:     opts.Logger,
	}

	data, err := os.ReadFile(opts.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		idx.logger.Warn("failed to read vector snapshot, starting empty",
			zap.String("path", opts.Path), zap.Error(err))
	default:
		var loaded map[string]entry
		if err := json.Unmarshal(data, &loaded); err != nil {
			idx.logger.Warn("corrupt vector snapshot, starting empty",
				zap.String("path", opts.Path), zap.Error(err))
		} else {
			idx.entries = loaded
		}
	}

	idx.logger.Info("vector index ready",
		zap.String("path", opts.Path),
		zap.Int("documents", len(idx.entries)))
	return idx, nil
}

// Upsert inserts or replaces a document. The first stored embedding fixes the
// index dimensionality; later embeddings must match it.
func (idx *Index) Upsert(ctx context.Context, id, document string, embedding []float32, metadata map[string]any) error {
	_, span := tracer.Start(ctx, "vectorindex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", id))

	if id == "" {
		return ErrEmptyID
	}
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if dim := idx.dimensionLocked(); dim > 0 && dim != len(embedding) {
		err := apperr.New(apperr.KindDimensionMismatch,
			"embedding has %d dimensions, index expects %d", len(embedding), dim)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	idx.entries[id] = entry{Document: document, Embedding: embedding, Metadata: metadata}
	if err := idx.saveLocked(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Delete removes a document. Deleting an unknown id is a no-op.
func (idx *Index) Delete(ctx context.Context, id string) error {
	_, span := tracer.Start(ctx, "vectorindex.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", id))

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[id]; !ok {
		return nil
	}
	delete(idx.entries, id)
	if err := idx.saveLocked(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Search returns up to maxResults documents whose cosine similarity against
// query meets threshold, ordered by score descending. Ties break on id so
// results are deterministic.
func (idx *Index) Search(ctx context.Context, query []float32, maxResults int, threshold float64) ([]Result, error) {
	_, span := tracer.Start(ctx, "vectorindex.Search")
	defer span.End()

	if len(query) == 0 {
		return nil, ErrEmptyEmbedding
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if dim := idx.dimensionLocked(); dim > 0 && dim != len(query) {
		err := apperr.New(apperr.KindDimensionMismatch,
			"query has %d dimensions, index expects %d", len(query), dim)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]Result, 0, len(idx.entries))
	for id, e := range idx.entries {
		score := cosineSimilarity(query, e.Embedding)
		if score < threshold {
			continue
		}
		results = append(results, Result{
			ID:       id,
			Document: e.Document,
			Score:    score,
			Metadata: e.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	span.SetAttributes(attribute.Int("results.count", len(results)))
	return results, nil
}

// Get returns the stored embedding for id.
func (idx *Index) Get(id string) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[id]
	if !ok {
		return nil, false
	}
	return e.Embedding, true
}

// Count returns the number of stored documents.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Dimension returns the index dimensionality, or 0 when empty.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimensionLocked()
}

// Stats reports collection metadata.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		CollectionName: idx.collection,
		DocumentCount:  len(idx.entries),
		StorePath:      idx.path,
	}
}

func (idx *Index) dimensionLocked() int {
	for _, e := range idx.entries {
		return len(e.Embedding)
	}
	return 0
}

// saveLocked writes the full snapshot. Callers hold the write lock, so the
// file always reflects a consistent state. The write goes through a temp
// file and rename so a crash mid-write cannot corrupt the snapshot.
func (idx *Index) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.Marshal(idx.entries)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// cosineSimilarity computes the cosine of the angle between a and b. A zero
// denominator is clamped to a tiny epsilon instead of dividing by zero.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		denom = 1e-10
	}
	return dot / denom
}
