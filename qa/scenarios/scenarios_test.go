package scenarios

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario(t *testing.T) {
	files, err := filepath.Glob("*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		sc, err := Load(f)
		require.NoError(t, err, f)
		t.Run(sc.Name, func(t *testing.T) {
			RunScenario(t, sc)
		})
	}
}

func TestGridOverrides(t *testing.T) {
	sc := Scenario{Name: "x", Grid: map[string]any{"threshold": 5, "smoothing_factor": "1"}}
	cfg, err := sc.GridConfig()
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Threshold)
	assert.Equal(t, 1.0, cfg.SmoothingFactor)
	assert.Equal(t, 6.0, cfg.BasePrice)

	sc.Grid = map[string]any{"min_price": 20}
	_, err = sc.GridConfig()
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load("no-file.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(":"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("name: empty\n"), 0o644))
	_, err = Load(empty)
	assert.Error(t, err)
}
