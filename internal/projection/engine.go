// Package projection turns conversation embeddings into the 3D layout the
// visualization renders: a UMAP-style reduction to three dimensions,
// k-means clustering of the resulting points, and human-readable cluster
// names derived from titles and topics.
package projection

import (
	"context"
	"math"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/config"
)

var tracer = otel.Tracer("cortexd.projection")

// positionScale bounds the normalized layout: the largest absolute
// coordinate of any point is exactly this value.
const positionScale = 10.0

// Item is one conversation entering the projection.
type Item struct {
	ID     string
	Vector []float32
	Title  string
	Topics []string
}

// Placement is the computed visualization state for one conversation.
type Placement struct {
	ID          string
	Position    [3]float64
	Magnitude   float64
	ClusterID   int
	ClusterName string
}

// Engine computes projections with fixed, reproducible parameters. When
// modelDir is set, each run writes the fitted projector and clusterer there
// as one JSON file apiece.
type Engine struct {
	cfg      config.ProjectionConfig
	modelDir string
	logger   *zap.Logger
}

// New creates an engine. Parameter validation happens at config load time.
// An empty modelDir disables model persistence.
func New(cfg config.ProjectionConfig, modelDir string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, modelDir: modelDir, logger: logger}
}

// Run projects every item into 3D, clusters the layout, and names the
// clusters. Results come back in input order. At least two items are
// required; fewer is an insufficient-data error.
func (e *Engine) Run(ctx context.Context, items []Item) ([]Placement, error) {
	_, span := tracer.Start(ctx, "projection.Run")
	defer span.End()

	if len(items) < 2 {
		return nil, apperr.New(apperr.KindInsufficientData, "Need at least 2 conversations to perform clustering")
	}

	vecs := make([][]float32, len(items))
	titles := make([]string, len(items))
	topics := make([][]string, len(items))
	for i, it := range items {
		vecs[i] = it.Vector
		titles[i] = it.Title
		topics[i] = it.Topics
	}

	pos := embedTo3D(vecs, e.cfg.NNeighbors, e.cfg.MinDist)
	normalizePositions(pos, positionScale)

	k := e.cfg.NClusters
	if k > len(items) {
		k = len(items)
	}
	assign, centroids := kMeans(pos, k)
	names := clusterNames(assign, k, titles, topics)

	placements := make([]Placement, len(items))
	for i, it := range items {
		p := pos[i]
		placements[i] = Placement{
			ID:          it.ID,
			Position:    p,
			Magnitude:   math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2]),
			ClusterID:   assign[i],
			ClusterName: names[assign[i]],
		}
	}

	e.saveModels(items, pos, centroids, names)

	e.logger.Info("projection computed",
		zap.Int("conversations", len(items)),
		zap.Int("clusters", k))
	return placements, nil
}
