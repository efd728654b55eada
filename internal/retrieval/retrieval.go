// Package retrieval answers semantic search queries over ingested
// conversations: embed the query, rank against the vector index, hydrate
// matches from the database, and optionally pass each one through the
// relevance gate.
package retrieval

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/embeddings"
	"github.com/fyrsmithlabs/cortexd/internal/gate"
	"github.com/fyrsmithlabs/cortexd/internal/store"
	"github.com/fyrsmithlabs/cortexd/internal/vectorindex"
)

var tracer trace.Tracer = otel.Tracer("cortexd.retrieval")

const (
	// DefaultLimit applies when a request does not set one.
	DefaultLimit = 5

	// defaultMinScore drops low-quality matches when a request sets no
	// threshold of its own.
	defaultMinScore = 0.3

	// overfetch widens the index query so post-filters still leave enough
	// results to fill the limit.
	overfetch = 3

	previewLen = 200
)

// Service executes searches.
type Service struct {
	store    *store.Store
	index    *vectorindex.Index
	embedder embeddings.Embedder
	guard    *gate.Guard
	logger   *zap.Logger
}

// New wires a search service. The guard may be nil to skip relevance
// gating entirely.
func New(st *store.Store, idx *vectorindex.Index, emb embeddings.Embedder, guard *gate.Guard, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = gate.New(nil, 0, logger)
	}
	return &Service{store: st, index: idx, embedder: emb, guard: guard, logger: logger}
}

// Options narrow a search.
type Options struct {
	Limit int
	// MinScore is the similarity cutoff in [0, 1]; nil applies the default.
	MinScore      *float64
	ClusterFilter *int
	TopicFilter   []string
	// SkipGate bypasses the relevance gate even when it is configured.
	SkipGate bool
}

// Result is one matching conversation with everything the clients render:
// metadata, placement in the 3D view, and the match itself.
type Result struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Topics         []string  `json:"topics"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	StartX         float64   `json:"start_x"`
	StartY         float64   `json:"start_y"`
	StartZ         float64   `json:"start_z"`
	EndX           float64   `json:"end_x"`
	EndY           float64   `json:"end_y"`
	EndZ           float64   `json:"end_z"`
	Magnitude      float64   `json:"magnitude"`
	ClusterID      int       `json:"cluster_id"`
	ClusterName    string    `json:"cluster_name"`
	Score          float64   `json:"score"`
	MessagePreview string    `json:"message_preview,omitempty"`
}

// Response is a completed search.
type Response struct {
	Query          string   `json:"query"`
	Results        []Result `json:"results"`
	TotalResults   int      `json:"total_results"`
	FilteredByGate int      `json:"filtered_by_gate,omitempty"`
	SearchTimeMS   float64  `json:"search_time_ms"`
}

// Search runs one query end to end.
func (s *Service) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()

	start := time.Now()
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	minScore := defaultMinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, vector, limit*overfetch, minScore)
	if err != nil {
		return nil, err
	}
	resp := &Response{Query: query, Results: []Result{}}
	if len(hits) == 0 {
		resp.SearchTimeMS = elapsedMS(start)
		return resp, nil
	}

	scores := make(map[string]float64, len(hits))
	previews := make(map[string]string, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if prev, ok := scores[h.ID]; !ok || h.Score > prev {
			scores[h.ID] = h.Score
		}
		if _, ok := previews[h.ID]; !ok {
			previews[h.ID] = preview(h.Document)
		}
		ids = append(ids, h.ID)
	}

	convs, err := s.store.ConversationsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(convs))
	for _, c := range convs {
		if opts.ClusterFilter != nil && c.ClusterID != *opts.ClusterFilter {
			continue
		}
		if len(opts.TopicFilter) > 0 && !hasAnyTopic(c.Topics, opts.TopicFilter) {
			continue
		}

		if !opts.SkipGate && s.guard.Enabled() {
			decision := s.guard.Check(ctx, query, gate.Memory{
				Title:   c.Title,
				Summary: c.Summary,
				Topics:  c.Topics,
			})
			if !decision.Relevant {
				resp.FilteredByGate++
				s.logger.Debug("result gated out",
					zap.String("conversation_id", c.ID),
					zap.String("reason", decision.Reason))
				continue
			}
		}

		r := Result{
			ConversationID: c.ID,
			Title:          c.Title,
			Summary:        c.Summary,
			Topics:         c.Topics,
			MessageCount:   c.MessageCount,
			CreatedAt:      c.CreatedAt,
			Magnitude:      1.0,
			ClusterID:      c.ClusterID,
			ClusterName:    c.ClusterName,
			Score:          scores[c.ID],
			MessagePreview: previews[c.ID],
		}
		if c.Embedding != nil {
			r.StartX, r.StartY, r.StartZ = c.Embedding.StartX, c.Embedding.StartY, c.Embedding.StartZ
			r.EndX, r.EndY, r.EndZ = c.Embedding.EndX, c.Embedding.EndY, c.Embedding.EndZ
			r.Magnitude = c.Embedding.Magnitude
		}
		results = append(results, r)
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].ConversationID < results[b].ConversationID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	resp.Results = results
	resp.TotalResults = len(results)
	resp.SearchTimeMS = elapsedMS(start)
	return resp, nil
}

// Stats describes the index backing search.
type Stats struct {
	CollectionName string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	StorePath      string `json:"store_path"`
}

// Stats reports the state of the vector index.
func (s *Service) Stats() Stats {
	st := s.index.Stats()
	return Stats{
		CollectionName: st.CollectionName,
		DocumentCount:  st.DocumentCount,
		StorePath:      st.StorePath,
	}
}

func hasAnyTopic(have []string, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

func preview(document string) string {
	if document == "" {
		return ""
	}
	if len(document) <= previewLen {
		return document
	}
	return document[:previewLen] + "..."
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
