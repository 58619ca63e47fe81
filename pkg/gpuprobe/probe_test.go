package gpuprobe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNvidiaSMI(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    Snapshot
		wantErr bool
	}{
		{
			name: "csv line",
			out:  "24576, 20480, NVIDIA GeForce RTX 4090\n",
			want: Snapshot{Name: "NVIDIA GeForce RTX 4090", TotalMemoryMB: 24576, FreeMemoryMB: 20480},
		},
		{
			name: "multiple gpus uses first",
			out:  "8192, 4096, NVIDIA A\n16384, 12288, NVIDIA B\n",
			want: Snapshot{Name: "NVIDIA A", TotalMemoryMB: 8192, FreeMemoryMB: 4096},
		},
		{
			name: "missing name falls back",
			out:  "8192, 4096, \n",
			want: Snapshot{Name: "NVIDIA", TotalMemoryMB: 8192, FreeMemoryMB: 4096},
		},
		{
			name: "malformed line digit fallback",
			out:  "total=8192MB free=4096MB\n",
			want: Snapshot{Name: "NVIDIA", TotalMemoryMB: 8192, FreeMemoryMB: 4096},
		},
		{name: "empty output", out: "\n\n", wantErr: true},
		{name: "no digits", out: "garbage\n", wantErr: true},
		{name: "non-numeric total", out: "abc, 4096, NVIDIA\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNvidiaSMI(tt.out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProbe_DegradesToCPUOnQueryFailure(t *testing.T) {
	p := New(withQuery(func(ctx context.Context) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	}))

	snap := p.Probe(context.Background())
	assert.Equal(t, "CPU", snap.Name)
	assert.Equal(t, 0, snap.TotalMemoryMB)
	assert.Equal(t, 0, snap.FreeMemoryMB)
	assert.GreaterOrEqual(t, snap.CPUCores, 1)
	assert.False(t, snap.HasAccelerator())
}

func TestProbe_ReturnsParsedSnapshot(t *testing.T) {
	p := New(withQuery(func(ctx context.Context) (string, error) {
		return "24576, 20480, NVIDIA GeForce RTX 4090", nil
	}))

	snap := p.Probe(context.Background())
	assert.Equal(t, "NVIDIA GeForce RTX 4090", snap.Name)
	assert.Equal(t, 24576, snap.TotalMemoryMB)
	assert.Equal(t, 20480, snap.FreeMemoryMB)
	assert.True(t, snap.HasAccelerator())
	assert.GreaterOrEqual(t, snap.CPUCores, 1)
}

func TestProbe_DegradesOnUnparseableOutput(t *testing.T) {
	p := New(withQuery(func(ctx context.Context) (string, error) {
		return "garbage", nil
	}))

	snap := p.Probe(context.Background())
	assert.Equal(t, "CPU", snap.Name)
	assert.False(t, snap.HasAccelerator())
}

func TestCPUCores(t *testing.T) {
	assert.GreaterOrEqual(t, CPUCores(), 1)
}
