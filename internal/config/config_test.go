package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, 2, cfg.Orchestrator.SpecialistIterations)
	assert.Equal(t, 10, cfg.Orchestrator.HistoryTurns)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "rules", cfg.Orchestrator.Verifier)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("orchestrator:\n  verifier: model\nllm:\n  model: local-model\n"))
	require.NoError(t, err)
	assert.Equal(t, "model", cfg.Orchestrator.Verifier)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, "fts", cfg.Retrieval.Backend)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad verifier":       "orchestrator:\n  verifier: vibes\n",
		"zero iterations":    "orchestrator:\n  max_iterations: 0\n",
		"redis without addr": "store:\n  profiles: redis\n",
		"bad cron":           "retention:\n  schedule: \"every day\"\n",
		"webhook no url":     "webhooks:\n  - events: [run.completed]\n",
		"bad backend":        "retrieval:\n  backend: pinecone\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "vita.yml"), []byte("retrieval:\n  top_k: 5\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.TopK)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
