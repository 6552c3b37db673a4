package model

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeInference = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    --seed) seed="$2"; shift 2 ;;
    --mask) mask="$2"; shift 2 ;;
    *) shift ;;
  esac
done
[ -f "$mask" ] || { echo "mask missing" >&2; exit 2; }
printf 'ply\ncomment seed %s\n' "$seed" > "$out"
`

const failingInference = `#!/bin/sh
echo "CUDA out of memory" >&2
exit 3
`

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "infer.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func populatedCheckpoints(t *testing.T) *CheckpointDownloader {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yaml"), []byte("model: sam3d\n"), 0o644))
	return NewCheckpointDownloader(dir, "facebook/sam-3d-objects", "")
}

func TestCommandModelPredict(t *testing.T) {
	tempDir := t.TempDir()
	loader := NewCommandLoader("sh "+writeScript(t, fakeInference), "pipeline.yaml", tempDir, populatedCheckpoints(t), nil)

	m, err := loader.Load(context.Background())
	require.NoError(t, err)

	out, err := m.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), nil, 42)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "scene.ply")
	require.NoError(t, out.SavePLY(dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ply\ncomment seed 42\n", string(data))

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be removed")
}

func TestCommandModelFailureIncludesStderr(t *testing.T) {
	loader := NewCommandLoader("sh "+writeScript(t, failingInference), "pipeline.yaml", t.TempDir(), populatedCheckpoints(t), nil)

	m, err := loader.Load(context.Background())
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestCommandLoaderErrors(t *testing.T) {
	t.Run("missing pipeline config", func(t *testing.T) {
		loader := NewCommandLoader("sh infer.sh", "other.yaml", t.TempDir(), populatedCheckpoints(t), nil)
		_, err := loader.Load(context.Background())
		assert.ErrorContains(t, err, "pipeline config not found")
	})

	t.Run("unknown program", func(t *testing.T) {
		loader := NewCommandLoader("definitely-not-a-real-program-apex", "pipeline.yaml", t.TempDir(), populatedCheckpoints(t), nil)
		_, err := loader.Load(context.Background())
		assert.ErrorContains(t, err, "inference program not found")
	})

	t.Run("empty command", func(t *testing.T) {
		loader := NewCommandLoader("  ", "pipeline.yaml", t.TempDir(), populatedCheckpoints(t), nil)
		_, err := loader.Load(context.Background())
		assert.Error(t, err)
	})
}
