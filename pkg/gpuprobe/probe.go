// Package gpuprobe queries available hardware headroom for concurrency
// sizing.
//
// The probe is a pure read: it shells out to nvidia-smi under a short
// bounded timeout and parses its CSV output. On any detection failure it
// degrades to a zero snapshot with Name="CPU", which downstream scheduling
// treats as "no accelerator, run serial". It never blocks past the timeout
// and never returns an error.
package gpuprobe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single nvidia-smi invocation.
const DefaultTimeout = 3 * time.Second

// Snapshot is one point-in-time view of hardware headroom. Memory values
// are in MB. A zero TotalMemoryMB means no accelerator was detected.
type Snapshot struct {
	Name          string
	TotalMemoryMB int
	FreeMemoryMB  int
	CPUCores      int
}

// HasAccelerator reports whether an accelerator with usable memory was found.
func (s Snapshot) HasAccelerator() bool { return s.TotalMemoryMB > 0 }

// queryFn runs the hardware query tool and returns its stdout. Injectable
// for tests.
type queryFn func(ctx context.Context) (string, error)

// Prober probes accelerator and CPU resources.
type Prober struct {
	timeout time.Duration
	query   queryFn
}

// Option configures a Prober.
type Option func(*Prober)

// WithTimeout overrides the query timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// withQuery replaces the query tool invocation (tests only).
func withQuery(q queryFn) Option {
	return func(p *Prober) { p.query = q }
}

// New creates a Prober using nvidia-smi as the query tool.
func New(opts ...Option) *Prober {
	p := &Prober{timeout: DefaultTimeout}
	p.query = p.runNvidiaSMI
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns a fresh snapshot. Each snapshot is independent and
// immediately superseded by the next probe.
func (p *Prober) Probe(ctx context.Context) Snapshot {
	cores := CPUCores()

	queryCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.query(queryCtx)
	if err != nil {
		return Snapshot{Name: "CPU", CPUCores: cores}
	}

	snap, err := parseNvidiaSMI(out)
	if err != nil {
		return Snapshot{Name: "CPU", CPUCores: cores}
	}
	snap.CPUCores = cores
	return snap
}

func (p *Prober) runNvidiaSMI(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total,memory.free,name",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("nvidia-smi: %w", err)
	}
	return string(out), nil
}

var digitsRe = regexp.MustCompile(`(\d+)`)

// parseNvidiaSMI parses the first GPU line of nvidia-smi CSV output.
// Malformed CSV falls back to extracting the first two integers.
func parseNvidiaSMI(out string) (Snapshot, error) {
	var first string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			first = line
			break
		}
	}
	if first == "" {
		return Snapshot{}, fmt.Errorf("no output from query tool")
	}

	parts := strings.Split(first, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) < 3 {
		matches := digitsRe.FindAllString(first, 2)
		if len(matches) < 2 {
			return Snapshot{}, fmt.Errorf("unparseable query output: %q", first)
		}
		total, _ := strconv.Atoi(matches[0])
		free, _ := strconv.Atoi(matches[1])
		return Snapshot{Name: "NVIDIA", TotalMemoryMB: total, FreeMemoryMB: free}, nil
	}

	total, err := strconv.Atoi(parts[0])
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse total memory: %w", err)
	}
	free, err := strconv.Atoi(parts[1])
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse free memory: %w", err)
	}
	name := parts[2]
	if name == "" {
		name = "NVIDIA"
	}
	return Snapshot{Name: name, TotalMemoryMB: total, FreeMemoryMB: free}, nil
}

// CPUCores returns the usable CPU core count, degrading to 1 on failure.
func CPUCores() int {
	if n := runtime.NumCPU(); n >= 1 {
		return n
	}
	return 1
}
