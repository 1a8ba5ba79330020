package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/petems/focusnote/internal/audio"
	"github.com/petems/focusnote/internal/detect"
	"github.com/petems/focusnote/internal/dnd"
	"github.com/petems/focusnote/internal/metrics"
	"github.com/petems/focusnote/internal/workerpool"
	"github.com/rs/zerolog"
)

// Detector is satisfied by *detect.Detector.
type Detector interface {
	Detect(ctx context.Context) (detect.Snapshot, error)
}

// Recorder is satisfied by *audio.Engine.
type Recorder interface {
	Start(platform string) error
	Stop() (audio.SessionInfo, bool)
	IsRecording() bool
}

// Dispatcher runs side effects off the tick goroutine. *workerpool.Pool
// satisfies it.
type Dispatcher interface {
	Submit(task workerpool.Task) bool
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetConfirming()
	SetRecording(platform string)
	SetError()
}

// Status is the published view of the last tick. It is never mutated after
// publication.
type Status struct {
	CallState
	Platforms detect.Snapshot `json:"platforms"`
	Recording bool            `json:"is_recording"`
	Ticks     uint64          `json:"ticks"`
	UpdatedAt time.Time       `json:"updated_at"`
	LastError string          `json:"last_error,omitempty"`
}

type Config struct {
	Detector      Detector
	Recorder      Recorder
	Effector      dnd.Effector  // Optional - nil disables DND
	Dispatcher    Dispatcher    // Optional - nil runs side effects on a new goroutine
	StatusUpdater StatusUpdater // Optional - can be nil

	ConfirmTicks  int
	InactiveTicks int
	Policy        ResetPolicy
	Tick          time.Duration
	StatusEvery   int

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

type Monitor struct {
	detector Detector
	recorder Recorder
	effector dnd.Effector
	dispatch Dispatcher
	updater  StatusUpdater
	metrics  *metrics.Metrics
	log      zerolog.Logger

	tick        time.Duration
	statusEvery int

	machine *Machine
	ticks   uint64
	status  atomic.Pointer[Status]
}

func New(cfg Config) *Monitor {
	if cfg.Effector == nil {
		cfg.Effector = dnd.Nop{}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}

	m := &Monitor{
		detector:    cfg.Detector,
		recorder:    cfg.Recorder,
		effector:    cfg.Effector,
		dispatch:    cfg.Dispatcher,
		updater:     cfg.StatusUpdater,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.With().Str("component", "monitor").Logger(),
		tick:        cfg.Tick,
		statusEvery: cfg.StatusEvery,
		machine:     NewMachine(cfg.ConfirmTicks, cfg.InactiveTicks, cfg.Policy),
	}
	m.status.Store(&Status{})
	return m
}

// Status returns the snapshot published by the last tick.
func (m *Monitor) Status() Status {
	return *m.status.Load()
}

// Run ticks until ctx is cancelled, then stops any recording in progress
// and restores notifications.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info().
		Dur("tick", m.tick).
		Int("confirm_ticks", m.machine.confirm).
		Int("inactive_ticks", m.machine.inactive).
		Str("reset_policy", m.machine.policy.String()).
		Msg("Call monitoring started")

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one detection pass and applies the resulting transition.
func (m *Monitor) Tick(ctx context.Context) Transition {
	m.ticks++
	m.metrics.Tick()

	var lastErr string
	snap, err := m.detector.Detect(ctx)
	if err != nil {
		// A failed pass carries no evidence either way.
		m.metrics.ProbeError()
		m.log.Warn().Err(err).Msg("Detection pass failed")
		lastErr = err.Error()
		m.publish(snap, lastErr)
		state := m.machine.State()
		return Transition{From: state.Phase, To: state.Phase, Platform: state.Owner}
	}
	for _, r := range snap {
		m.metrics.Platform(r.Platform.String(), r.Active, r.CPU)
	}

	if m.machine.State().Phase == Recording && !m.recorder.IsRecording() {
		owner := m.machine.State().Owner
		m.log.Warn().Str("platform", owner.String()).Msg("Recording ended without a stop request")
		m.machine.Abort()
		m.submit("dnd-disable", m.disableDND)
		m.notify(Idle, "")
	}

	tr := m.machine.Step(snap)
	switch tr.Action {
	case StartRecording:
		if err := m.recorder.Start(tr.Platform.String()); err != nil {
			m.log.Error().Err(err).Str("platform", tr.Platform.String()).Msg("Failed to start recording")
			m.machine.Abort()
			tr.To = Idle
			lastErr = err.Error()
			if m.updater != nil {
				m.updater.SetError()
			}
			break
		}
		m.log.Info().Str("platform", tr.Platform.String()).Msg("Call detected, recording started")
		m.submit("dnd-enable", m.enableDND)

	case StopRecording:
		info, ok := m.recorder.Stop()
		ev := m.log.Info().Str("platform", tr.Platform.String())
		if ok {
			ev = ev.Str("session", info.ID).Int("frames", info.Frames).Str("path", info.Path)
		}
		ev.Msg("Call ended, recording stopped")
		m.submit("dnd-disable", m.disableDND)
	}

	if tr.From != tr.To && lastErr == "" {
		m.log.Debug().Stringer("from", tr.From).Stringer("to", tr.To).Str("platform", tr.Platform.String()).Msg("Phase changed")
		m.notify(tr.To, tr.Platform.String())
	}
	m.metrics.Phase(int(m.machine.State().Phase))

	if m.statusEvery > 0 && m.ticks%uint64(m.statusEvery) == 0 && m.machine.State().Phase != Recording {
		m.logActivity(snap)
	}

	m.publish(snap, lastErr)
	return tr
}

func (m *Monitor) publish(snap detect.Snapshot, lastErr string) {
	m.status.Store(&Status{
		CallState: m.machine.State(),
		Platforms: snap,
		Recording: m.recorder.IsRecording(),
		Ticks:     m.ticks,
		UpdatedAt: time.Now(),
		LastError: lastErr,
	})
}

func (m *Monitor) logActivity(snap detect.Snapshot) {
	ev := m.log.Info().Stringer("phase", m.machine.State().Phase)
	for _, r := range snap {
		ev = ev.Dict(r.Platform.String(), zerolog.Dict().Bool("active", r.Active).Float64("cpu", r.CPU))
	}
	ev.Msg("Detection status")
}

func (m *Monitor) notify(p Phase, platform string) {
	if m.updater == nil {
		return
	}
	switch p {
	case Idle:
		m.updater.SetIdle()
	case Confirming:
		m.updater.SetConfirming()
	case Recording:
		m.updater.SetRecording(platform)
	}
}

func (m *Monitor) submit(name string, task workerpool.Task) {
	if m.dispatch == nil {
		go task()
		return
	}
	if !m.dispatch.Submit(task) {
		m.log.Warn().Str("task", name).Msg("Task rejected by worker pool")
	}
}

func (m *Monitor) enableDND() {
	if !m.effector.Enable() {
		m.log.Warn().Msg("Do not disturb could not be enabled")
	}
}

func (m *Monitor) disableDND() {
	if !m.effector.Disable() {
		m.log.Warn().Msg("Do not disturb could not be disabled")
	}
}

func (m *Monitor) shutdown() {
	if m.machine.State().Phase == Recording || m.recorder.IsRecording() {
		info, ok := m.recorder.Stop()
		if ok {
			m.log.Info().Str("session", info.ID).Str("path", info.Path).Msg("Recording stopped on shutdown")
		}
	}
	m.machine.Abort()
	// The pool may already be draining, so restore notifications inline.
	m.effector.Disable()
	m.publish(nil, "")
	m.log.Info().Msg("Call monitoring stopped")
}
