package tray

import (
	"errors"
	"testing"

	"github.com/petems/focusnote/internal/audio"
	"github.com/petems/focusnote/internal/detect"
	"github.com/petems/focusnote/internal/monitor"
	"github.com/petems/focusnote/internal/status"
	"github.com/rs/zerolog"
)

type mockApp struct {
	snap      status.Snapshot
	recording bool
	err       error
	toggles   []string
}

func (m *mockApp) Status() status.Snapshot { return m.snap }

func (m *mockApp) Toggle(platform string) (bool, error) {
	m.toggles = append(m.toggles, platform)
	if m.err != nil {
		return false, m.err
	}
	m.recording = !m.recording
	return m.recording, nil
}

func newTestUI(app App) (*UI, *[]string) {
	var titles []string
	u := New("notes", "test", "abc", nil, zerolog.Nop())
	u.setTitle = func(s string) { titles = append(titles, s) }
	u.afterQuit = func() {}
	u.SetApp(app)
	return u, &titles
}

func TestStatusUpdates(t *testing.T) {
	u, titles := newTestUI(nil)

	u.SetConfirming()
	u.SetRecording("zoom")
	u.SetIdle()
	u.SetError()

	want := []string{"📝 🟡", "📝 🔴 zoom", "📝 🟢", "📝 ⚪️"}
	if len(*titles) != len(want) {
		t.Fatalf("titles = %q", *titles)
	}
	for i := range want {
		if (*titles)[i] != want[i] {
			t.Errorf("title %d = %q, want %q", i, (*titles)[i], want[i])
		}
	}
	if state, owner := u.State(); state != "error" || owner != "" {
		t.Errorf("State() = %q, %q", state, owner)
	}
}

func TestToggleRecording(t *testing.T) {
	app := &mockApp{}
	u, _ := newTestUI(app)

	u.toggleRecording()
	if state, owner := u.State(); state != "recording" || owner != "manual" {
		t.Errorf("after start: %q %q", state, owner)
	}
	u.toggleRecording()
	if state, _ := u.State(); state != "idle" {
		t.Errorf("after stop: %q", state)
	}

	app.err = errors.New("no audio devices available")
	u.toggleRecording()
	if state, _ := u.State(); state != "error" {
		t.Errorf("after failure: %q", state)
	}
	if len(app.toggles) != 3 || app.toggles[0] != "manual" {
		t.Errorf("toggles = %v", app.toggles)
	}
}

func TestCopyTranscript(t *testing.T) {
	app := &mockApp{}
	u, _ := newTestUI(app)
	var copied []string
	u.copyText = func(s string) error {
		copied = append(copied, s)
		return nil
	}

	u.copyTranscript()
	if len(copied) != 0 {
		t.Fatalf("copied %q with no transcript", copied)
	}

	app.snap.LastTranscript = "we agreed to ship friday"
	u.copyTranscript()
	if len(copied) != 1 || copied[0] != "we agreed to ship friday" {
		t.Errorf("copied = %q", copied)
	}
}

func TestQuitCallsCancel(t *testing.T) {
	cancelled := false
	u := New("notes", "test", "abc", func() { cancelled = true }, zerolog.Nop())
	quit := false
	u.afterQuit = func() { quit = true }

	u.Quit()
	if !cancelled || !quit {
		t.Errorf("cancelled=%v quit=%v", cancelled, quit)
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name string
		snap status.Snapshot
		want string
	}{
		{
			name: "idle",
			want: "Watching for calls",
		},
		{
			name: "confirming",
			snap: status.Snapshot{Monitor: monitor.Status{CallState: monitor.CallState{Phase: monitor.Confirming, Candidate: detect.Discord, ActiveTicks: 2}}},
			want: "Confirming discord call (2)",
		},
		{
			name: "confirming without a candidate",
			snap: status.Snapshot{Monitor: monitor.Status{CallState: monitor.CallState{Phase: monitor.Confirming, ActiveTicks: 1}}},
			want: "Confirming call (1)",
		},
		{
			name: "recording",
			snap: status.Snapshot{Monitor: monitor.Status{CallState: monitor.CallState{Phase: monitor.Recording, Owner: detect.Teams}}},
			want: "Recording teams call",
		},
		{
			name: "manual session",
			snap: status.Snapshot{Session: &audio.SessionInfo{Platform: "manual"}},
			want: "Recording (manual)",
		},
		{
			name: "error",
			snap: status.Snapshot{Monitor: monitor.Status{LastError: "no audio devices available"}},
			want: "Error: no audio devices available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusLine(tt.snap); got != tt.want {
				t.Errorf("statusLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmojiForStatus(t *testing.T) {
	tests := map[string]string{
		"recording":  "🔴",
		"confirming": "🟡",
		"idle":       "🟢",
		"error":      "⚪️",
		"unknown":    "🟢",
	}
	for in, want := range tests {
		if got := emojiForStatus(in); got != want {
			t.Errorf("emojiForStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
