// Package probe samples the OS process table for the call detector.
package probe

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Connection type codes as reported by the OS socket table.
const (
	connTypeTCP = 1
	connTypeUDP = 2
)

// Target selects processes by name. Names are compared case-insensitively.
type Target struct {
	Key         string
	Names       []string
	Substring   bool // match when any name is contained in the process name
	Connections bool // also count open inet connections
}

// ConnCounts holds open connection counts by transport. Known is false
// when the OS refused to list the process's sockets.
type ConnCounts struct {
	UDP   int
	TCP   int
	Known bool
}

// Sample is one matched process at one instant.
type Sample struct {
	Target      string
	Name        string
	PID         int32
	CPUPercent  float64
	Threads     int32
	Connections ConnCounts
}

// Process is the subset of an OS process the probe reads.
type Process interface {
	PID() int32
	Name(ctx context.Context) (string, error)
	CPUPercent(ctx context.Context, interval time.Duration) (float64, error)
	NumThreads(ctx context.Context) (int32, error)
	Connections(ctx context.Context) (ConnCounts, error)
}

// Lister enumerates the current process table.
type Lister interface {
	Processes(ctx context.Context) ([]Process, error)
}

type Probe struct {
	lister   Lister
	interval time.Duration
	log      zerolog.Logger
}

// New creates a probe measuring CPU over interval for each matched process.
// A nil lister uses the host process table.
func New(lister Lister, interval time.Duration, log zerolog.Logger) *Probe {
	if lister == nil {
		lister = HostLister{}
	}
	return &Probe{
		lister:   lister,
		interval: interval,
		log:      log.With().Str("component", "probe").Logger(),
	}
}

// Sample enumerates processes once and measures every one matching a target.
// Processes that vanish or deny access mid-scan are left out of the result.
// Only a failure to list the process table at all is returned.
func (p *Probe) Sample(ctx context.Context, targets ...Target) ([]Sample, error) {
	procs, err := p.lister.Processes(ctx)
	if err != nil {
		return nil, err
	}

	var samples []Sample
	skipped := 0
	for _, proc := range procs {
		if ctx.Err() != nil {
			return samples, ctx.Err()
		}

		name, err := proc.Name(ctx)
		if err != nil || name == "" {
			skipped++
			continue
		}

		target, ok := match(name, targets)
		if !ok {
			continue
		}

		cpu, err := proc.CPUPercent(ctx, p.interval)
		if err != nil {
			skipped++
			continue
		}

		s := Sample{
			Target:     target.Key,
			Name:       name,
			PID:        proc.PID(),
			CPUPercent: cpu,
		}
		if threads, err := proc.NumThreads(ctx); err == nil {
			s.Threads = threads
		}
		if target.Connections {
			if conns, err := proc.Connections(ctx); err == nil {
				s.Connections = conns
			}
		}
		samples = append(samples, s)
	}

	if skipped > 0 {
		p.log.Debug().Int("skipped", skipped).Int("total", len(procs)).Msg("Probe skipped processes")
	}

	return samples, nil
}

// match returns the first target whose names match the process name.
func match(name string, targets []Target) (Target, bool) {
	lower := strings.ToLower(name)
	for _, t := range targets {
		for _, n := range t.Names {
			n = strings.ToLower(n)
			if t.Substring && strings.Contains(lower, n) {
				return t, true
			}
			if !t.Substring && lower == n {
				return t, true
			}
		}
	}
	return Target{}, false
}

// ExecutableNames appends the platform executable suffix where the OS uses one.
func ExecutableNames(goos string, names ...string) []string {
	if goos != "windows" {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.HasSuffix(strings.ToLower(n), ".exe") {
			n += ".exe"
		}
		out = append(out, n)
	}
	return out
}
