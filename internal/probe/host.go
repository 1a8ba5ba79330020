package probe

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// HostLister reads the live process table through gopsutil.
type HostLister struct{}

func (HostLister) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		out = append(out, hostProcess{p: p})
	}
	return out, nil
}

type hostProcess struct {
	p *process.Process
}

func (h hostProcess) PID() int32 { return h.p.Pid }

func (h hostProcess) Name(ctx context.Context) (string, error) {
	return h.p.NameWithContext(ctx)
}

// CPUPercent blocks for interval and reports utilisation over that window.
func (h hostProcess) CPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	return h.p.PercentWithContext(ctx, interval)
}

func (h hostProcess) NumThreads(ctx context.Context) (int32, error) {
	return h.p.NumThreadsWithContext(ctx)
}

func (h hostProcess) Connections(ctx context.Context) (ConnCounts, error) {
	conns, err := h.p.ConnectionsWithContext(ctx)
	if err != nil {
		return ConnCounts{}, err
	}

	counts := ConnCounts{Known: true}
	for _, c := range conns {
		switch c.Type {
		case connTypeTCP:
			counts.TCP++
		case connTypeUDP:
			counts.UDP++
		}
	}
	return counts, nil
}
