package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/projection"
	"github.com/fyrsmithlabs/cortexd/internal/store"
)

// ReprojectResult summarizes one projection run.
type ReprojectResult struct {
	ConversationsProcessed int         `json:"conversations_processed"`
	ConversationsUpdated   int         `json:"conversations_updated"`
	Clusters               int         `json:"n_clusters"`
	ClusterSizes           map[int]int `json:"cluster_sizes"`
	ProcessingTimeMS       float64     `json:"processing_time_ms"`
}

// Reproject recomputes 3D coordinates and cluster assignments for every
// stored conversation and writes them back. At least two embedded
// conversations are required.
func (s *Service) Reproject(ctx context.Context) (*ReprojectResult, error) {
	ctx, span := tracer.Start(ctx, "ingest.Reproject")
	defer span.End()

	start := time.Now()

	embs, err := s.store.Embeddings(ctx)
	if err != nil {
		return nil, err
	}
	if len(embs) < 2 {
		return nil, apperr.New(apperr.KindInsufficientData, "Need at least 2 conversations to perform clustering")
	}

	ids := make([]string, len(embs))
	for i, e := range embs {
		ids[i] = e.ConversationID
	}
	convs, err := s.store.ConversationsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Conversation, len(convs))
	for i := range convs {
		byID[convs[i].ID] = &convs[i]
	}

	items := make([]projection.Item, len(embs))
	for i, e := range embs {
		item := projection.Item{ID: e.ConversationID, Vector: e.Vector}
		if c, ok := byID[e.ConversationID]; ok {
			item.Title = c.Title
			item.Topics = c.Topics
		}
		items[i] = item
	}

	placements, err := s.projector.Run(ctx, items)
	if err != nil {
		return nil, err
	}

	updates := make([]store.ProjectionUpdate, len(placements))
	sizes := map[int]int{}
	clusters := map[int]bool{}
	for i, p := range placements {
		updates[i] = store.ProjectionUpdate{
			ConversationID: p.ID,
			Position:       p.Position,
			Magnitude:      p.Magnitude,
			ClusterID:      p.ClusterID,
			ClusterName:    p.ClusterName,
		}
		sizes[p.ClusterID]++
		clusters[p.ClusterID] = true
	}
	if err := s.store.ApplyProjection(ctx, updates); err != nil {
		return nil, err
	}

	result := &ReprojectResult{
		ConversationsProcessed: len(items),
		ConversationsUpdated:   len(updates),
		Clusters:               len(clusters),
		ClusterSizes:           sizes,
		ProcessingTimeMS:       float64(time.Since(start).Microseconds()) / 1000,
	}
	s.logger.Info("reprojection complete",
		zap.Int("conversations", result.ConversationsProcessed),
		zap.Int("clusters", result.Clusters),
		zap.Float64("elapsed_ms", result.ProcessingTimeMS))
	return result, nil
}
