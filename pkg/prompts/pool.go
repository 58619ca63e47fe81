// Package prompts maintains prompt candidates and samples unique
// combinations for generation jobs.
package prompts

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// maxRerolls bounds how many times SampleCombo re-draws before accepting a
// combination it has already handed out.
const maxRerolls = 5

// Combo is one sampled prompt combination.
type Combo struct {
	Text  string
	Style string
	Tags  []string
}

// Prompt joins the combination into a single backend prompt string.
func (c Combo) Prompt() string {
	parts := make([]string, 0, 3)
	if c.Text != "" {
		parts = append(parts, c.Text)
	}
	if c.Style != "" {
		parts = append(parts, c.Style)
	}
	if len(c.Tags) > 0 {
		parts = append(parts, strings.Join(c.Tags, ", "))
	}
	return strings.Join(parts, " | ")
}

// Pool holds prompt texts, styles, and tags, and tracks which combinations
// it has already sampled. Safe for concurrent use by parallel jobs.
type Pool struct {
	mu     sync.Mutex
	texts  []string
	styles []string
	tags   []string
	used   map[string]struct{}
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{used: make(map[string]struct{})}
}

// ExtendTexts appends non-empty trimmed text candidates.
func (p *Pool) ExtendTexts(values []string) { p.extend(&p.texts, values) }

// ExtendStyles appends non-empty trimmed style candidates.
func (p *Pool) ExtendStyles(values []string) { p.extend(&p.styles, values) }

// ExtendTags appends non-empty trimmed tag candidates.
func (p *Pool) ExtendTags(values []string) { p.extend(&p.tags, values) }

func (p *Pool) extend(dst *[]string, values []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			*dst = append(*dst, v)
		}
	}
}

// Len returns the number of text candidates.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}

// ClearUsage forgets which combinations have been sampled.
func (p *Pool) ClearUsage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used = make(map[string]struct{})
}

// SampleCombo draws a text plus optional style and up to three tags,
// re-rolling a bounded number of times to avoid repeating a combination
// already sampled from this pool instance.
func (p *Pool) SampleCombo() (Combo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.texts) == 0 {
		return Combo{}, fmt.Errorf("prompt pool has no text entries")
	}

	combo := p.draw()
	key := strings.ToLower(combo.Prompt())
	for attempt := 0; attempt < maxRerolls; attempt++ {
		if _, seen := p.used[key]; !seen {
			break
		}
		combo = p.draw()
		key = strings.ToLower(combo.Prompt())
	}

	p.used[key] = struct{}{}
	return combo, nil
}

func (p *Pool) draw() Combo {
	combo := Combo{Text: p.texts[rand.IntN(len(p.texts))]}
	if len(p.styles) > 0 {
		combo.Style = p.styles[rand.IntN(len(p.styles))]
	}
	if len(p.tags) > 0 {
		n := min(len(p.tags), 3)
		perm := rand.Perm(len(p.tags))
		for _, idx := range perm[:n] {
			combo.Tags = append(combo.Tags, p.tags[idx])
		}
	}
	return combo
}

// poolFile is the YAML document shape for structured pool files.
type poolFile struct {
	Texts  []string `yaml:"texts"`
	Styles []string `yaml:"styles"`
	Tags   []string `yaml:"tags"`
}

// LoadGlob builds a pool from every file matching the doublestar pattern.
//
// Files ending in .yaml/.yml are parsed as a structured pool document;
// anything else is treated as one prompt text per line.
func LoadGlob(pattern string) (*Pool, error) {
	pool := NewPool()
	if err := pool.LoadGlob(pattern); err != nil {
		return nil, err
	}
	return pool, nil
}

// LoadGlob merges every matching file into the pool.
func (p *Pool) LoadGlob(pattern string) error {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("expand prompt pattern %q: %w", pattern, err)
	}
	for _, path := range matches {
		if err := loadFile(p, path); err != nil {
			return err
		}
	}
	return nil
}

func loadFile(pool *Pool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompt file: %w", err)
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		var doc poolFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse prompt file %s: %w", path, err)
		}
		pool.ExtendTexts(doc.Texts)
		pool.ExtendStyles(doc.Styles)
		pool.ExtendTags(doc.Tags)
		return nil
	}

	pool.ExtendTexts(strings.Split(string(data), "\n"))
	return nil
}
