// Package txt2img wraps the text-to-image generation backends.
//
// The heavy inference itself is an external collaborator reached over HTTP
// (a Stable Diffusion WebUI-compatible API) or stubbed locally. Every
// backend call goes through the shared retry policy; errors carry the HTTP
// status so classification works on structured fields.
package txt2img

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/retry"
)

// maxSeed bounds randomly drawn seeds to the backend's 32-bit seed space.
const maxSeed = int64(1) << 32

// Request describes one generation call.
type Request struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	Steps          int
	OutputPath     string
}

// Result is a finished text-to-image generation.
type Result struct {
	ImagePath string
	Seed      int64
}

// Backend produces one image from a request.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// Generator is the unified entry point: it owns the backend choice, the
// retry policy, and the dry-run short circuit.
type Generator struct {
	backend Backend
	policy  retry.Policy
	events  *zap.Logger
	dryRun  bool
}

// NewGenerator wires a backend to the retry policy. events must not be nil;
// pass zap.NewNop() to discard.
func NewGenerator(backend Backend, policy retry.Policy, events *zap.Logger, dryRun bool) *Generator {
	return &Generator{backend: backend, policy: policy, events: events, dryRun: dryRun}
}

// BackendName identifies the configured backend for ledger records.
func (g *Generator) BackendName() string { return g.backend.Name() }

// Generate runs one generation under the retry policy. A negative seed
// draws a fresh random one.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Seed < 0 {
		req.Seed = rand.Int64N(maxSeed)
	}

	if g.dryRun {
		if err := writeMetadata(req.OutputPath, map[string]any{
			"prompt":          req.Prompt,
			"negative_prompt": req.NegativePrompt,
			"seed":            req.Seed,
			"backend":         g.backend.Name(),
			"dry_run":         true,
		}); err != nil {
			return Result{}, err
		}
		g.events.Info("txt2img_dry_run",
			zap.String("backend", g.backend.Name()),
			zap.String("output", req.OutputPath),
			zap.Int64("seed", req.Seed))
		return Result{ImagePath: req.OutputPath, Seed: req.Seed}, nil
	}

	return retry.Do(ctx, g.policy, g.events, "txt2img."+g.backend.Name(),
		func(ctx context.Context) (Result, error) {
			return g.backend.Generate(ctx, req)
		})
}

// writeMetadata writes a small JSON sidecar in place of a real artifact.
func writeMetadata(path string, fields map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	b, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// StubBackend is a local placeholder implementation that records the
// request instead of running inference. It stands in for a diffusers-style
// in-process backend.
type StubBackend struct {
	ModelPath string
}

func (b *StubBackend) Name() string { return "stub" }

func (b *StubBackend) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	err := writeMetadata(req.OutputPath, map[string]any{
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"model_path":      b.ModelPath,
		"seed":            req.Seed,
		"created_at":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{ImagePath: req.OutputPath, Seed: req.Seed}, nil
}
