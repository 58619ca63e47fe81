// Package uploader defines the publishing boundary. The pipeline hands a
// finished video to an Uploader and records the outcome in the ledger; the
// concrete providers live behind the interface so a failed or disabled
// upload never sinks the job itself.
package uploader

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Result is the outcome of one upload attempt, stored verbatim in the
// ledger record.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Provider string `json:"provider,omitempty"`
	DraftURL string `json:"draft_url,omitempty"`
}

// Request describes the artifact being published.
type Request struct {
	VideoPath string
	CoverPath string
	Title     string
	Tags      []string
}

// Uploader publishes one video artifact.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, req Request) Result
}

// Disabled is the no-op provider used when publishing is turned off.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Upload(ctx context.Context, req Request) Result {
	return Result{Success: false, Provider: "disabled", Message: "upload disabled"}
}

// Router dispatches uploads to a named provider.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Uploader
}

func NewRouter() *Router {
	return &Router{providers: make(map[string]Uploader)}
}

// Register adds a provider under its lowercased name, replacing any
// previous registration.
func (r *Router) Register(u Uploader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(u.Name())] = u
}

// Providers lists registered provider names in sorted order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route resolves a provider by name.
func (r *Router) Route(name string) (Uploader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown upload provider %q", name)
	}
	return u, nil
}

// Upload routes and runs one upload. A missing provider is reported as a
// failed Result rather than an error: publishing problems are recorded,
// not fatal.
func (r *Router) Upload(ctx context.Context, provider string, req Request) Result {
	u, err := r.Route(provider)
	if err != nil {
		return Result{Success: false, Provider: provider, Message: err.Error()}
	}
	return u.Upload(ctx, req)
}
