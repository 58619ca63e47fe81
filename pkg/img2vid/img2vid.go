// Package img2vid wraps the image-to-video generation backend.
//
// Like txt2img, the actual inference (AnimateDiff / Stable Video Diffusion)
// is an external collaborator; this package provides the interface, a local
// stub implementation, and retry wiring.
package img2vid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/retry"
)

// Request describes one image-to-video call.
type Request struct {
	ImagePath  string
	OutputPath string
	NumFrames  int
	FPS        int
}

// Backend turns a still image into a short clip.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Generator wraps a backend with the shared retry policy.
type Generator struct {
	backend Backend
	policy  retry.Policy
	events  *zap.Logger
}

func NewGenerator(backend Backend, policy retry.Policy, events *zap.Logger) *Generator {
	return &Generator{backend: backend, policy: policy, events: events}
}

// BackendName identifies the configured backend for ledger records.
func (g *Generator) BackendName() string { return g.backend.Name() }

// Generate produces the clip under the retry policy and returns its path.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if req.NumFrames <= 0 {
		req.NumFrames = 24
	}
	if req.FPS <= 0 {
		req.FPS = 30
	}
	return retry.Do(ctx, g.policy, g.events, "img2vid."+g.backend.Name(),
		func(ctx context.Context) (string, error) {
			return g.backend.Generate(ctx, req)
		})
}

// StubBackend records the request instead of running inference.
type StubBackend struct {
	ModelPath    string
	MotionModule string
}

func (b *StubBackend) Name() string { return "stub" }

func (b *StubBackend) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(req.ImagePath); err != nil {
		return "", fmt.Errorf("source image: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	meta, err := json.MarshalIndent(map[string]any{
		"source_image":  req.ImagePath,
		"frames":        req.NumFrames,
		"fps":           req.FPS,
		"model_path":    b.ModelPath,
		"motion_module": b.MotionModule,
		"created_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal clip metadata: %w", err)
	}
	if err := os.WriteFile(req.OutputPath, append(meta, '\n'), 0644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return req.OutputPath, nil
}
