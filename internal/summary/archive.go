package summary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/petems/focusnote/internal/audio"
	"github.com/petems/focusnote/internal/metrics"
	"github.com/rs/zerolog"
)

var ErrEmptyTranscript = errors.New("summary: empty transcript")

// Generator is satisfied by *Client.
type Generator interface {
	Generate(ctx context.Context, kind Kind, r Request) (Artifact, error)
}

type ArchiverConfig struct {
	Generator Generator // Optional - nil stores only the transcript
	Dir       string
	Kinds     []Kind
	Title     string

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Archiver writes a finished session's notes into their own directory
// under Dir.
type Archiver struct {
	gen     Generator
	dir     string
	kinds   []Kind
	title   string
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewArchiver(cfg ArchiverConfig) *Archiver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Archiver{
		gen:     cfg.Generator,
		dir:     cfg.Dir,
		kinds:   cfg.Kinds,
		title:   cfg.Title,
		metrics: cfg.Metrics,
		log:     cfg.Logger.With().Str("component", "summary").Logger(),
		now:     cfg.Now,
	}
}

// Flush archives the session and logs the outcome. An empty transcript
// is not an error.
func (a *Archiver) Flush(ctx context.Context, info audio.SessionInfo, transcript string) error {
	dir, err := a.Archive(ctx, info, transcript)
	if errors.Is(err, ErrEmptyTranscript) {
		a.log.Info().Str("session", info.ID).Msg("No transcript for session, skipping notes")
		return nil
	}
	if dir != "" {
		a.log.Info().Str("session", info.ID).Str("dir", dir).Msg("Meeting notes saved")
	}
	return err
}

// Archive writes transcript.md and one file per artifact, returning the
// directory used. Artifacts are requested concurrently and a failure of
// one does not prevent the others.
func (a *Archiver) Archive(ctx context.Context, info audio.SessionInfo, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}

	started := info.Started
	if started.IsZero() {
		started = a.now()
	}
	name := started.Format("20060102_150405")
	if info.Platform != "" {
		name += "_" + info.Platform
	}
	dir := filepath.Join(a.dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create notes dir: %w", err)
	}

	title := a.meetingTitle(info.Platform)
	if err := writeFile(dir, "transcript.md", renderTranscript(title, info, started, transcript)); err != nil {
		return "", err
	}
	a.metrics.Artifact("transcript", nil)

	if a.gen == nil || len(a.kinds) == 0 {
		return dir, nil
	}

	req := Request{
		Transcript:   transcript,
		MeetingTitle: title,
		MeetingDate:  started.Format("2006-01-02"),
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, kind := range a.kinds {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			err := a.artifact(ctx, dir, kind, req)
			a.metrics.Artifact(string(kind), err)
			if err != nil {
				a.log.Warn().Err(err).Str("artifact", string(kind)).Msg("Artifact failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				mu.Unlock()
			}
		}(kind)
	}
	wg.Wait()

	return dir, errors.Join(errs...)
}

func (a *Archiver) artifact(ctx context.Context, dir string, kind Kind, req Request) error {
	art, err := a.gen.Generate(ctx, kind, req)
	if err != nil {
		return err
	}
	return writeFile(dir, string(kind)+".md", render(art))
}

func (a *Archiver) meetingTitle(platform string) string {
	if a.title != "" {
		return a.title
	}
	if platform == "" {
		return "Meeting"
	}
	return strings.ToUpper(platform[:1]) + platform[1:] + " call"
}

func writeFile(dir, name, content string) error {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func renderTranscript(title string, info audio.SessionInfo, started time.Time, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Started: %s\n", started.Format(time.RFC3339))
	if !info.Ended.IsZero() {
		fmt.Fprintf(&b, "- Duration: %s\n", info.Ended.Sub(started).Round(time.Second))
	}
	if info.ID != "" {
		fmt.Fprintf(&b, "- Session: %s\n", info.ID)
	}
	if info.Saved && info.Path != "" {
		fmt.Fprintf(&b, "- Recording: %s\n", info.Path)
	}
	fmt.Fprintf(&b, "\n## Transcript\n\n%s\n", text)
	return b.String()
}

func render(art Artifact) string {
	var b strings.Builder
	switch art.Kind {
	case Summary:
		fmt.Fprintf(&b, "# Summary\n\n%s\n", art.Text)
	case Minutes:
		fmt.Fprintf(&b, "# Minutes\n\n%s\n", art.Text)
	case ActionItems:
		b.WriteString("# Action Items\n\n")
		if len(art.Items) == 0 {
			b.WriteString("No action items identified.\n")
		}
		for _, item := range art.Items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	return b.String()
}
