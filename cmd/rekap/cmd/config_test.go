package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rekap.yaml")

	output, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, output, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "segment")
	assert.Contains(t, raw, "server")
}

func TestConfigShowMasksSecrets(t *testing.T) {
	t.Setenv("REKAP_MODEL_API_KEY", "sk-very-secret")

	output, err := execute(t, "config", "show")
	require.NoError(t, err)

	assert.NotContains(t, output, "sk-very-secret")
	assert.Contains(t, output, "***")
	assert.Contains(t, output, "probe_window: 2")
}
