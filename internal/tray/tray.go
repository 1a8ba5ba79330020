package tray

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/focusnote/internal/logging"
	"github.com/petems/focusnote/internal/monitor"
	"github.com/petems/focusnote/internal/status"
	"github.com/rs/zerolog"
)

const pollInterval = time.Second

// App is the part of *app.App the tray drives.
type App interface {
	Status() status.Snapshot
	Toggle(platform string) (bool, error)
}

type UI struct {
	app      App
	version  string
	commit   string
	notesDir string
	log      zerolog.Logger
	quit     func()

	mu    sync.Mutex
	state string
	owner string

	// Overridable for tests.
	setTitle  func(string)
	copyText  func(string) error
	openPath  func(string) error
	afterQuit func()

	// Menu items
	mStatus     *systray.MenuItem
	mRecord     *systray.MenuItem
	mTranscript *systray.MenuItem
	mStream     *systray.MenuItem
}

// Status update methods for the monitor to call
func (u *UI) SetIdle() {
	u.updateStatus("idle", "")
}

func (u *UI) SetConfirming() {
	u.updateStatus("confirming", "")
}

func (u *UI) SetRecording(platform string) {
	u.updateStatus("recording", platform)
}

func (u *UI) SetError() {
	u.updateStatus("error", "")
}

var _ monitor.StatusUpdater = (*UI)(nil)

// New builds the tray. quit is called when the user picks Quit and should
// cancel the context the app runs under.
func New(notesDir, version, commit string, quit func(), log zerolog.Logger) *UI {
	return &UI{
		version:   version,
		commit:    commit,
		notesDir:  notesDir,
		quit:      quit,
		log:       log.With().Str("component", "tray").Logger(),
		state:     "idle",
		setTitle:  systray.SetTitle,
		copyText:  clipboard.WriteAll,
		openPath:  openPath,
		afterQuit: systray.Quit,
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application App) {
	u.app = application
}

// Run blocks on the tray event loop until the user quits or ctx is
// cancelled. It must be called from the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() { u.onReady(ctx) }, u.onExit)
	return nil
}

func (u *UI) onReady(ctx context.Context) {
	u.updateStatus("idle", "")
	systray.SetTooltip("FocusNote: meeting recorder")

	u.mStatus = systray.AddMenuItem("Watching for calls", "Current call state")
	u.mStatus.Disable()
	u.mStream = systray.AddMenuItem("Transcription: disconnected", "Transcription server connection")
	u.mStream.Disable()
	systray.AddSeparator()

	u.mRecord = systray.AddMenuItem("Start Recording", "Record without a detected call")
	u.mTranscript = systray.AddMenuItem("Copy Last Transcript", "Copy the most recent transcript")
	systray.AddSeparator()

	mNotes := systray.AddMenuItem("Open Notes", "Open the meeting notes folder")
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About FocusNote")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	go u.poll(ctx)
	go u.handleEvents(ctx, mNotes, mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(ctx context.Context, mNotes, mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.mRecord.ClickedCh:
			u.toggleRecording()
		case <-u.mTranscript.ClickedCh:
			u.copyTranscript()
		case <-mNotes.ClickedCh:
			u.open(u.notesDir)
		case <-mLogs.ClickedCh:
			u.open(filepath.Dir(logging.LogPath()))
		case <-mAbout.ClickedCh:
			u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("FocusNote")
		case <-mQuit.ClickedCh:
			u.Quit()
			return
		}
	}
}

// Quit cancels the app and tears the tray down.
func (u *UI) Quit() {
	if u.quit != nil {
		u.quit()
	}
	u.afterQuit()
}

// poll refreshes the menu from the app snapshot. Phase changes arrive
// through the StatusUpdater methods; the menu text does not.
func (u *UI) poll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.app == nil {
				continue
			}
			snap := u.app.Status()
			u.mStatus.SetTitle(statusLine(snap))
			u.mStream.SetTitle(streamLine(snap))
			if snap.Session != nil {
				u.mRecord.SetTitle("Stop Recording")
			} else {
				u.mRecord.SetTitle("Start Recording")
			}
			if snap.LastTranscript == "" {
				u.mTranscript.Disable()
			} else {
				u.mTranscript.Enable()
			}
		}
	}
}

func (u *UI) toggleRecording() {
	if u.app == nil {
		return
	}
	on, err := u.app.Toggle("manual")
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to toggle recording")
		u.SetError()
		return
	}
	if on {
		u.SetRecording("manual")
	} else {
		u.SetIdle()
	}
}

func (u *UI) copyTranscript() {
	if u.app == nil {
		return
	}
	text := u.app.Status().LastTranscript
	if text == "" {
		u.log.Info().Msg("No transcript to copy yet")
		return
	}
	if err := u.copyText(text); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy transcript")
		return
	}
	u.log.Info().Int("chars", len(text)).Msg("Transcript copied to clipboard")
}

func (u *UI) open(path string) {
	if err := u.openPath(path); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open")
	}
}

func (u *UI) onExit() {
	u.log.Debug().Msg("Tray closed")
}

// State returns the last status pushed to the tray.
func (u *UI) State() (string, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state, u.owner
}

// updateStatus sets the tray title with the status indicator
func (u *UI) updateStatus(state, platform string) {
	u.mu.Lock()
	u.state, u.owner = state, platform
	u.mu.Unlock()
	u.setTitle(title(state, platform))
}

func title(state, platform string) string {
	if state == "recording" && platform != "" {
		return fmt.Sprintf("📝 %s %s", emojiForStatus(state), platform)
	}
	return fmt.Sprintf("📝 %s", emojiForStatus(state))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "confirming":
		return "🟡" // Yellow - call seen, not yet confirmed
	case "idle":
		return "🟢" // Green - watching
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢"
	}
}

func statusLine(s status.Snapshot) string {
	switch s.Monitor.Phase {
	case monitor.Recording:
		return fmt.Sprintf("Recording %s call", s.Monitor.Owner)
	case monitor.Confirming:
		if s.Monitor.Candidate == "" {
			return fmt.Sprintf("Confirming call (%d)", s.Monitor.ActiveTicks)
		}
		return fmt.Sprintf("Confirming %s call (%d)", s.Monitor.Candidate, s.Monitor.ActiveTicks)
	default:
		if s.Session != nil {
			return fmt.Sprintf("Recording (%s)", s.Session.Platform)
		}
		if s.Monitor.LastError != "" {
			return "Error: " + s.Monitor.LastError
		}
		return "Watching for calls"
	}
}

func streamLine(s status.Snapshot) string {
	if s.StreamConnected {
		return "Transcription: connected"
	}
	return "Transcription: disconnected"
}

func openPath(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
