package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petems/focusnote/internal/audio"
	"github.com/petems/focusnote/internal/detect"
	"github.com/petems/focusnote/internal/workerpool"
	"github.com/rs/zerolog"
)

type scriptedDetector struct {
	snaps []detect.Snapshot
	errs  []error
	i     int
}

func (d *scriptedDetector) Detect(context.Context) (detect.Snapshot, error) {
	if d.i >= len(d.snaps) {
		return snapshot(), nil
	}
	snap := d.snaps[d.i]
	var err error
	if d.i < len(d.errs) {
		err = d.errs[d.i]
	}
	d.i++
	return snap, err
}

type mockRecorder struct {
	mu        sync.Mutex
	starts    []string
	stops     int
	recording bool
	startErr  error
}

func (r *mockRecorder) Start(platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts = append(r.starts, platform)
	r.recording = true
	return nil
}

func (r *mockRecorder) Stop() (audio.SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return audio.SessionInfo{}, false
	}
	r.stops++
	r.recording = false
	return audio.SessionInfo{ID: "s1", Frames: 10}, true
}

func (r *mockRecorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

type mockEffector struct {
	mu       sync.Mutex
	enables  int
	disables int
}

func (e *mockEffector) Enable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enables++
	return true
}

func (e *mockEffector) Disable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disables++
	return true
}

func (e *mockEffector) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enables, e.disables
}

// inline runs tasks on the caller's goroutine.
type inline struct{ submitted int }

func (d *inline) Submit(task workerpool.Task) bool {
	d.submitted++
	task()
	return true
}

type mockStatusUpdater struct {
	calls []string
}

func (m *mockStatusUpdater) SetIdle()       { m.calls = append(m.calls, "idle") }
func (m *mockStatusUpdater) SetConfirming() { m.calls = append(m.calls, "confirming") }
func (m *mockStatusUpdater) SetRecording(platform string) {
	m.calls = append(m.calls, "recording:"+platform)
}
func (m *mockStatusUpdater) SetError() { m.calls = append(m.calls, "error") }

func newTestMonitor(det Detector, rec Recorder, eff *mockEffector, upd StatusUpdater) *Monitor {
	return New(Config{
		Detector:      det,
		Recorder:      rec,
		Effector:      eff,
		Dispatcher:    &inline{},
		StatusUpdater: upd,
		ConfirmTicks:  3,
		InactiveTicks: 3,
		Policy:        ResetOnMiss,
		Tick:          time.Millisecond,
		Logger:        zerolog.Nop(),
	})
}

func TestMonitorZoomCallEndToEnd(t *testing.T) {
	det := &scriptedDetector{}
	for i := 0; i < 5; i++ {
		det.snaps = append(det.snaps, snapshot(detect.Zoom))
	}
	for i := 0; i < 5; i++ {
		det.snaps = append(det.snaps, snapshot())
	}
	rec := &mockRecorder{}
	eff := &mockEffector{}
	upd := &mockStatusUpdater{}
	m := newTestMonitor(det, rec, eff, upd)

	recordingAt, idleAt := 0, 0
	for tick := 1; tick <= 10; tick++ {
		tr := m.Tick(context.Background())
		if tr.To == Confirming {
			if st := m.Status(); st.Candidate != detect.Zoom || st.Owner != "" {
				t.Errorf("tick %d: confirming status = %+v", tick, st.CallState)
			}
		}
		if tr.Action == StartRecording {
			recordingAt = tick
			if owner := m.Status().Owner; owner != detect.Zoom {
				t.Errorf("owner = %q, want zoom", owner)
			}
		}
		if tr.Action == StopRecording {
			idleAt = tick
		}
	}

	if recordingAt != 3 {
		t.Errorf("recording began at tick %d, want 3", recordingAt)
	}
	if idleAt != 8 {
		t.Errorf("idle at tick %d, want 8", idleAt)
	}
	if len(rec.starts) != 1 || rec.starts[0] != "zoom" || rec.stops != 1 {
		t.Errorf("recorder saw starts=%v stops=%d", rec.starts, rec.stops)
	}
	if en, dis := eff.counts(); en != 1 || dis != 1 {
		t.Errorf("dnd enables=%d disables=%d", en, dis)
	}

	want := []string{"confirming", "recording:zoom", "idle"}
	if len(upd.calls) != len(want) {
		t.Fatalf("status updates = %v, want %v", upd.calls, want)
	}
	for i := range want {
		if upd.calls[i] != want[i] {
			t.Errorf("status update %d = %s, want %s", i, upd.calls[i], want[i])
		}
	}
}

func TestMonitorStartFailureRevertsToIdle(t *testing.T) {
	det := &scriptedDetector{snaps: []detect.Snapshot{
		snapshot(detect.Discord), snapshot(detect.Discord), snapshot(detect.Discord),
	}}
	rec := &mockRecorder{startErr: audio.ErrNoDevices}
	eff := &mockEffector{}
	upd := &mockStatusUpdater{}
	m := newTestMonitor(det, rec, eff, upd)

	for i := 0; i < 3; i++ {
		m.Tick(context.Background())
	}

	st := m.Status()
	if st.Phase != Idle || st.Owner != "" {
		t.Errorf("status after failed start = %+v", st.CallState)
	}
	if st.LastError == "" {
		t.Error("expected the start error to be published")
	}
	if en, _ := eff.counts(); en != 0 {
		t.Error("DND must not be enabled when recording failed")
	}
	if upd.calls[len(upd.calls)-1] != "error" {
		t.Errorf("last status update = %v", upd.calls)
	}
}

func TestMonitorDetectErrorHoldsState(t *testing.T) {
	boom := errors.New("process table unavailable")
	det := &scriptedDetector{
		snaps: []detect.Snapshot{snapshot(detect.Zoom), snapshot(), snapshot(detect.Zoom), snapshot(detect.Zoom)},
		errs:  []error{nil, boom, nil, nil},
	}
	rec := &mockRecorder{}
	m := newTestMonitor(det, rec, &mockEffector{}, nil)

	for i := 0; i < 4; i++ {
		m.Tick(context.Background())
	}
	if len(rec.starts) != 1 {
		t.Errorf("a failed detection pass should not reset confirmation; starts=%v", rec.starts)
	}
}

func TestMonitorNoticesSelfEndedRecording(t *testing.T) {
	det := &scriptedDetector{snaps: []detect.Snapshot{
		snapshot(detect.Zoom), snapshot(detect.Zoom), snapshot(detect.Zoom), snapshot(),
	}}
	rec := &mockRecorder{}
	eff := &mockEffector{}
	m := newTestMonitor(det, rec, eff, nil)

	for i := 0; i < 3; i++ {
		m.Tick(context.Background())
	}
	rec.mu.Lock()
	rec.recording = false
	rec.mu.Unlock()

	m.Tick(context.Background())
	if m.Status().Phase != Idle {
		t.Errorf("phase = %s, want idle", m.Status().Phase)
	}
	if rec.stops != 0 {
		t.Error("Stop should not be called for a session that already ended")
	}
	if _, dis := eff.counts(); dis != 1 {
		t.Errorf("disables = %d, want 1", dis)
	}
}

func TestMonitorRunStopsRecordingOnShutdown(t *testing.T) {
	det := &scriptedDetector{}
	for i := 0; i < 1000; i++ {
		det.snaps = append(det.snaps, snapshot(detect.Teams))
	}
	rec := &mockRecorder{}
	eff := &mockEffector{}
	m := New(Config{
		Detector:      det,
		Recorder:      rec,
		Effector:      eff,
		ConfirmTicks:  1,
		InactiveTicks: 3,
		Tick:          time.Millisecond,
		Logger:        zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	for i := 0; i < 200 && !rec.IsRecording(); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if !rec.IsRecording() {
		t.Fatal("recording never started")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if rec.IsRecording() || rec.stops != 1 {
		t.Errorf("recording not stopped on shutdown (stops=%d)", rec.stops)
	}
	if _, dis := eff.counts(); dis < 1 {
		t.Error("DND not restored on shutdown")
	}
	if m.Status().Phase != Idle {
		t.Errorf("phase after shutdown = %s", m.Status().Phase)
	}
}

type rejecting struct{}

func (rejecting) Submit(workerpool.Task) bool { return false }

func TestMonitorRejectedTaskIsNotFatal(t *testing.T) {
	det := &scriptedDetector{snaps: []detect.Snapshot{snapshot(detect.Zoom)}}
	rec := &mockRecorder{}
	eff := &mockEffector{}
	m := New(Config{
		Detector:     det,
		Recorder:     rec,
		Effector:     eff,
		Dispatcher:   rejecting{},
		ConfirmTicks: 1,
		Logger:       zerolog.Nop(),
	})

	if tr := m.Tick(context.Background()); tr.Action != StartRecording {
		t.Fatalf("got %+v", tr)
	}
	if en, _ := eff.counts(); en != 0 {
		t.Error("rejected task should not have run")
	}
}
