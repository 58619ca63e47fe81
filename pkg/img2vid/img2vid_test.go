package img2vid

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/retry"
)

func writeSourceImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"prompt":"x"}`), 0644))
	return path
}

func TestStubBackend_WritesClipMetadata(t *testing.T) {
	src := writeSourceImage(t)
	out := filepath.Join(t.TempDir(), "clips", "animation.json")

	b := &StubBackend{ModelPath: "/models/svd.safetensors"}
	got, err := b.Generate(context.Background(), Request{
		ImagePath:  src,
		OutputPath: out,
		NumFrames:  24,
		FPS:        30,
	})
	require.NoError(t, err)
	assert.Equal(t, out, got)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), src)
	assert.Contains(t, string(data), "svd.safetensors")
}

func TestStubBackend_MissingSourceImage(t *testing.T) {
	b := &StubBackend{}
	_, err := b.Generate(context.Background(), Request{
		ImagePath:  filepath.Join(t.TempDir(), "missing.json"),
		OutputPath: filepath.Join(t.TempDir(), "out.json"),
	})
	require.Error(t, err)
}

func TestGenerator_AppliesFrameAndFPSDefaults(t *testing.T) {
	src := writeSourceImage(t)
	out := filepath.Join(t.TempDir(), "animation.json")

	g := NewGenerator(&StubBackend{}, retry.DefaultPolicy(), zap.NewNop())
	got, err := g.Generate(context.Background(), Request{ImagePath: src, OutputPath: out})
	require.NoError(t, err)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"frames": 24`)
	assert.Contains(t, string(data), `"fps": 30`)
}
