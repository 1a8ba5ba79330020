// Package detect turns process samples into per-platform call activity.
package detect

import (
	"context"
	"runtime"

	"github.com/petems/focusnote/internal/probe"
)

type Platform string

const (
	Zoom    Platform = "zoom"
	Discord Platform = "discord"
	Teams   Platform = "teams"
)

// Priority is the order used when several platforms are active at once.
// The first active platform wins.
var Priority = []Platform{Zoom, Discord, Teams}

func (p Platform) String() string { return string(p) }

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	for _, known := range Priority {
		if p == known {
			return true
		}
	}
	return false
}

// Result is a single platform's verdict for one tick. CPU is zero when
// the platform is inactive.
type Result struct {
	Platform    Platform `json:"platform"`
	Active      bool     `json:"active"`
	MatchedName string   `json:"matched_name,omitempty"`
	CPU         float64  `json:"cpu"`
}

// Snapshot holds one Result per platform in priority order.
type Snapshot []Result

// Result returns the verdict for p, or an inactive result if p is absent.
func (s Snapshot) Result(p Platform) Result {
	for _, r := range s {
		if r.Platform == p {
			return r
		}
	}
	return Result{Platform: p}
}

func (s Snapshot) Active(p Platform) bool {
	return s.Result(p).Active
}

// Winner returns the highest-priority active platform.
func (s Snapshot) Winner() (Platform, bool) {
	for _, p := range Priority {
		if s.Active(p) {
			return p, true
		}
	}
	return "", false
}

type Thresholds struct {
	// CPU is the generic activity threshold for Zoom and Teams.
	CPU float64
	// DiscordCPU alone marks Discord active.
	DiscordCPU float64
	// DiscordUDPCPU marks Discord active when enough UDP sockets are open.
	DiscordUDPCPU float64
	// DiscordMinUDP is the UDP socket count that must be exceeded.
	DiscordMinUDP int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPU:           3.5,
		DiscordCPU:    5.0,
		DiscordUDPCPU: 3.0,
		DiscordMinUDP: 2,
	}
}

// Targets returns the probe targets for every platform on goos.
func Targets(goos string) []probe.Target {
	return []probe.Target{
		{Key: string(Zoom), Names: probe.ExecutableNames(goos, "zoom", "zoom.us", "zoom.us.app")},
		{Key: string(Discord), Names: []string{"discord"}, Substring: true, Connections: true},
		{Key: string(Teams), Names: probe.ExecutableNames(goos, "teams", "ms-teams")},
	}
}

// Evaluate applies each platform's predicate to one probe pass.
func Evaluate(samples []probe.Sample, th Thresholds) Snapshot {
	byTarget := make(map[Platform][]probe.Sample, len(Priority))
	for _, s := range samples {
		p := Platform(s.Target)
		byTarget[p] = append(byTarget[p], s)
	}

	return Snapshot{
		genericActive(Zoom, byTarget[Zoom], th.CPU),
		discordActive(byTarget[Discord], th),
		genericActive(Teams, byTarget[Teams], th.CPU),
	}
}

// genericActive is true for the first process above threshold.
func genericActive(p Platform, samples []probe.Sample, threshold float64) Result {
	for _, s := range samples {
		if s.CPUPercent > threshold {
			return Result{Platform: p, Active: true, MatchedName: s.Name, CPU: s.CPUPercent}
		}
	}
	return Result{Platform: p}
}

// discordActive prefers UDP sockets as evidence of a voice session and
// falls back to a higher CPU threshold when sockets are unavailable.
func discordActive(samples []probe.Sample, th Thresholds) Result {
	var (
		maxCPU  float64
		name    string
		voiceIO bool
	)
	for _, s := range samples {
		if s.CPUPercent > maxCPU {
			maxCPU = s.CPUPercent
			name = s.Name
		}
		if s.Connections.Known && s.Connections.UDP > th.DiscordMinUDP {
			voiceIO = true
		}
	}

	if (voiceIO && maxCPU > th.DiscordUDPCPU) || maxCPU > th.DiscordCPU {
		return Result{Platform: Discord, Active: true, MatchedName: name, CPU: maxCPU}
	}
	return Result{Platform: Discord}
}

// Sampler is satisfied by *probe.Probe.
type Sampler interface {
	Sample(ctx context.Context, targets ...probe.Target) ([]probe.Sample, error)
}

type Detector struct {
	sampler    Sampler
	targets    []probe.Target
	thresholds Thresholds
}

// New creates a detector for the running OS.
func New(sampler Sampler, th Thresholds) *Detector {
	return &Detector{
		sampler:    sampler,
		targets:    Targets(runtime.GOOS),
		thresholds: th,
	}
}

// Detect runs one probe pass and evaluates every platform.
func (d *Detector) Detect(ctx context.Context) (Snapshot, error) {
	samples, err := d.sampler.Sample(ctx, d.targets...)
	if err != nil {
		return Evaluate(nil, d.thresholds), err
	}
	return Evaluate(samples, d.thresholds), nil
}

// Samples exposes the raw probe pass, used by the debug command.
func (d *Detector) Samples(ctx context.Context) ([]probe.Sample, error) {
	return d.sampler.Sample(ctx, d.targets...)
}
