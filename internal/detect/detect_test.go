package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/petems/focusnote/internal/probe"
)

func sample(target Platform, name string, cpu float64) probe.Sample {
	return probe.Sample{Target: string(target), Name: name, CPUPercent: cpu}
}

func TestGenericThreshold(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name    string
		samples []probe.Sample
		active  bool
		cpu     float64
	}{
		{"not running", nil, false, 0},
		{"idle", []probe.Sample{sample(Zoom, "zoom.us", 1.2)}, false, 0},
		{"at threshold is not above", []probe.Sample{sample(Zoom, "zoom.us", 3.5)}, false, 0},
		{"above threshold", []probe.Sample{sample(Zoom, "zoom.us", 3.6)}, true, 3.6},
		{"first match wins", []probe.Sample{
			sample(Zoom, "zoom", 1),
			sample(Zoom, "zoom.us", 8),
			sample(Zoom, "zoom.us", 20),
		}, true, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.samples, th).Result(Zoom)
			if r.Active != tt.active {
				t.Fatalf("active = %v, want %v", r.Active, tt.active)
			}
			if r.CPU != tt.cpu {
				t.Errorf("cpu = %v, want %v", r.CPU, tt.cpu)
			}
		})
	}
}

func TestDiscordPredicate(t *testing.T) {
	th := DefaultThresholds()
	withUDP := func(cpu float64, udp int) probe.Sample {
		s := sample(Discord, "Discord", cpu)
		s.Connections = probe.ConnCounts{UDP: udp, Known: true}
		return s
	}

	tests := []struct {
		name    string
		samples []probe.Sample
		active  bool
	}{
		{"udp and moderate cpu", []probe.Sample{withUDP(3.1, 3)}, true},
		{"udp but low cpu", []probe.Sample{withUDP(2.9, 5)}, false},
		{"two udp sockets are not enough", []probe.Sample{withUDP(4.0, 2)}, false},
		{"cpu fallback", []probe.Sample{sample(Discord, "Discord", 5.1)}, true},
		{"cpu at fallback threshold", []probe.Sample{sample(Discord, "Discord", 5.0)}, false},
		{"udp on helper, cpu on main", []probe.Sample{
			withUDP(0.5, 4),
			sample(Discord, "Discord", 3.2),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.samples, th).Result(Discord)
			if r.Active != tt.active {
				t.Fatalf("active = %v, want %v", r.Active, tt.active)
			}
			if !r.Active && r.CPU != 0 {
				t.Errorf("inactive result should report zero cpu, got %v", r.CPU)
			}
		})
	}
}

func TestWinnerPriority(t *testing.T) {
	th := DefaultThresholds()
	snap := Evaluate([]probe.Sample{
		sample(Teams, "teams", 10),
		sample(Discord, "Discord", 9),
		sample(Zoom, "zoom", 4),
	}, th)

	p, ok := snap.Winner()
	if !ok || p != Zoom {
		t.Fatalf("winner = %q/%v, want zoom", p, ok)
	}

	snap = Evaluate([]probe.Sample{sample(Teams, "teams", 10), sample(Discord, "Discord", 9)}, th)
	if p, _ := snap.Winner(); p != Discord {
		t.Errorf("winner = %q, want discord", p)
	}

	if _, ok := Evaluate(nil, th).Winner(); ok {
		t.Error("expected no winner for an empty pass")
	}
}

type stubSampler struct {
	samples []probe.Sample
	err     error
	targets []probe.Target
}

func (s *stubSampler) Sample(ctx context.Context, targets ...probe.Target) ([]probe.Sample, error) {
	s.targets = targets
	return s.samples, s.err
}

func TestDetectorDetect(t *testing.T) {
	stub := &stubSampler{samples: []probe.Sample{sample(Teams, "ms-teams", 12)}}
	d := New(stub, DefaultThresholds())

	snap, err := d.Detect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stub.targets) != 3 {
		t.Errorf("expected 3 targets, got %d", len(stub.targets))
	}
	if !snap.Active(Teams) || snap.Active(Zoom) || snap.Active(Discord) {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	stub.err = errors.New("proc table unavailable")
	snap, err = d.Detect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := snap.Winner(); ok {
		t.Error("a failed pass must report every platform inactive")
	}
}

func TestTargetsWindowsSuffix(t *testing.T) {
	for _, target := range Targets("windows") {
		if target.Substring {
			continue
		}
		for _, n := range target.Names {
			if len(n) < 4 || n[len(n)-4:] != ".exe" {
				t.Errorf("%s name %q lacks .exe suffix", target.Key, n)
			}
		}
	}
}
