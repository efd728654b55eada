package projection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Model artifact file names under the configured model directory.
const (
	projectorFile = "projector.json"
	clustererFile = "clusterer.json"
)

// ProjectorModel records the fitted 3D layout so a later process can reload
// the positions without refitting.
type ProjectorModel struct {
	FittedAt   time.Time             `json:"fitted_at"`
	NNeighbors int                   `json:"n_neighbors"`
	MinDist    float64               `json:"min_dist"`
	Positions  map[string][3]float64 `json:"positions"`
}

// ClustererModel records the fitted k-means state.
type ClustererModel struct {
	FittedAt  time.Time    `json:"fitted_at"`
	K         int          `json:"k"`
	Centroids [][3]float64 `json:"centroids"`
	Names     []string     `json:"names"`
}

// saveModels persists the fitted projector and clusterer, one file per
// model. Persistence is best effort: a write failure logs a warning and the
// run still succeeds.
func (e *Engine) saveModels(items []Item, pos [][3]float64, centroids [][3]float64, names []string) {
	if e.modelDir == "" {
		return
	}
	if err := os.MkdirAll(e.modelDir, 0o755); err != nil {
		e.logger.Warn("failed to create model directory",
			zap.String("dir", e.modelDir), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	positions := make(map[string][3]float64, len(items))
	for i, it := range items {
		positions[it.ID] = pos[i]
	}

	proj := ProjectorModel{
		FittedAt:   now,
		NNeighbors: e.cfg.NNeighbors,
		MinDist:    e.cfg.MinDist,
		Positions:  positions,
	}
	clust := ClustererModel{
		FittedAt:  now,
		K:         len(centroids),
		Centroids: centroids,
		Names:     names,
	}

	if err := writeModel(filepath.Join(e.modelDir, projectorFile), proj); err != nil {
		e.logger.Warn("failed to save projector model", zap.Error(err))
	}
	if err := writeModel(filepath.Join(e.modelDir, clustererFile), clust); err != nil {
		e.logger.Warn("failed to save clusterer model", zap.Error(err))
	}
}

// LoadProjector reads the persisted projector model from dir. A missing or
// unreadable file means no model has been fitted yet.
func LoadProjector(dir string) (*ProjectorModel, error) {
	var m ProjectorModel
	if err := readModel(filepath.Join(dir, projectorFile), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadClusterer reads the persisted clusterer model from dir.
func LoadClusterer(dir string) (*ClustererModel, error) {
	var m ClustererModel
	if err := readModel(filepath.Join(dir, clustererFile), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// writeModel goes through a temp file and rename so a crash mid-write never
// leaves a truncated model behind.
func writeModel(path string, model any) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readModel(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}
