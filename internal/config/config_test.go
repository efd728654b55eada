package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "cortex.db", cfg.Database.URL)
	assert.False(t, cfg.Database.IsPostgres())
	assert.Equal(t, ".cache", cfg.Storage.CacheDir)
	assert.Equal(t, "data/vector_store/chat_memory.json", cfg.Storage.VectorStorePath)
	assert.Equal(t, 15, cfg.Projection.NNeighbors)
	assert.InDelta(t, 0.1, cfg.Projection.MinDist, 1e-9)
	assert.Equal(t, 5, cfg.Projection.NClusters)
	assert.InDelta(t, 0.5, cfg.Gate.Threshold, 1e-9)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("DATABASE_URL", "postgres://user:pw@localhost:5432/cortex")
	t.Setenv("UMAP_N_NEIGHBORS", "8")
	t.Setenv("GATE_THRESHOLD", "0.7")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Database.IsPostgres())
	assert.Equal(t, 8, cfg.Projection.NNeighbors)
	assert.InDelta(t, 0.7, cfg.Gate.Threshold, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.Origins())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9200\nlog:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9200\n"), 0o600))
	t.Setenv("PORT", "9300")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("GATE_THRESHOLD", "1.5")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate threshold")
}

func TestProviderResolution(t *testing.T) {
	tests := []struct {
		name string
		cfg  EmbeddingConfig
		want Provider
	}{
		{name: "explicit local wins over token", cfg: EmbeddingConfig{Provider: ProviderLocal, HFToken: "tok"}, want: ProviderLocal},
		{name: "auto cloud with token", cfg: EmbeddingConfig{HFToken: "tok"}, want: ProviderCloud},
		{name: "auto local without token", cfg: EmbeddingConfig{}, want: ProviderLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Resolve())
		})
	}

	chat := ChatConfig{GroqAPIKey: "key"}
	assert.Equal(t, ProviderCloud, chat.Resolve())
	assert.Equal(t, ProviderLocal, ChatConfig{}.Resolve())
}

func TestGateEnabledDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Gate.Enabled)

	t.Setenv("GATE_ENABLED", "false")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Gate.Enabled)
}

func TestGateActive(t *testing.T) {
	assert.False(t, GateConfig{Enabled: true}.Active())
	assert.False(t, GateConfig{APIKey: "k"}.Active())
	assert.True(t, GateConfig{Enabled: true, APIKey: "k"}.Active())
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret", s.Value())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
}
