package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petems/focusnote/internal/metrics"
	"github.com/rs/zerolog"
)

// maxCarryFrames bounds how much mic audio, in speaker frames, may wait
// for the next mix before the oldest is dropped.
const maxCarryFrames = 4

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// FrameListener observes every mixed frame. Errors and panics are logged
// and never reach the capture loop.
type FrameListener interface {
	OnFrame(f Frame) error
}

// StopListener is notified once per session after capture has ended.
type StopListener interface {
	OnRecordingStopped(info SessionInfo) error
}

type FrameListenerFunc func(f Frame) error

func (fn FrameListenerFunc) OnFrame(f Frame) error { return fn(f) }

type StopListenerFunc func(info SessionInfo) error

func (fn StopListenerFunc) OnRecordingStopped(info SessionInfo) error { return fn(info) }

// SessionInfo describes a recording session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Platform string    `json:"platform"`
	Started  time.Time `json:"started"`
	Ended    time.Time `json:"ended,omitempty"`
	Path     string    `json:"path"`
	Format   Format    `json:"format"`
	Frames   int       `json:"frames"`
	Saved    bool      `json:"saved"`
}

type EngineConfig struct {
	Backend         Backend
	Resolution      Resolution
	Queue           *Queue
	OutputDir       string
	FramesPerBuffer int
	ReadTimeout     time.Duration
	StopTimeout     time.Duration
	// StopOnSilence ends the session when every device source is silent
	// for a whole tick and no pipe source is in use.
	StopOnSilence bool
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

type Engine struct {
	cfg   EngineConfig
	log   zerolog.Logger
	queue *Queue
	state atomic.Int32

	mu            sync.Mutex
	session       *session
	frameListener []FrameListener
	stopListener  []StopListener
}

// session is owned by its capture goroutine until done is closed. Only
// the result fields are shared, under mu.
type session struct {
	id       string
	platform string
	started  time.Time
	path     string
	format   Format

	speaker Source
	mic     Source
	piped   bool

	frames [][]byte
	// carry is resampled mic audio not yet mixed.
	carry []byte

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	notify   sync.Once

	mu      sync.Mutex
	ended   time.Time
	nframes int
	saved   bool
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 3 * time.Second
	}
	if cfg.Queue == nil {
		cfg.Queue = NewQueue(100)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "capture").Logger(),
		queue: cfg.Queue,
	}
}

// Queue is the streaming queue fed by the capture loop.
func (e *Engine) Queue() *Queue { return e.queue }

func (e *Engine) Resolution() Resolution { return e.cfg.Resolution }

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) IsRecording() bool {
	s := e.State()
	return s == Running || s == Starting
}

// Current returns the open session, if any.
func (e *Engine) Current() (SessionInfo, bool) {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return SessionInfo{}, false
	}
	return s.info(), true
}

func (e *Engine) AddFrameListener(l FrameListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frameListener = append(e.frameListener, l)
}

func (e *Engine) AddStopListener(l StopListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopListener = append(e.stopListener, l)
}

// Start opens every resolved source and begins a session tagged with
// platform. It is a no-op while a session is starting or running.
func (e *Engine) Start(platform string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case Running, Starting:
		return nil
	case Stopping:
		return ErrStopping
	}

	if !e.cfg.Resolution.Available() || e.cfg.Backend == nil {
		return ErrNoDevices
	}

	e.state.Store(int32(Starting))
	s, err := e.openSession(platform)
	if err != nil {
		e.state.Store(int32(Stopped))
		return err
	}

	e.session = s
	e.state.Store(int32(Running))
	e.cfg.Metrics.SessionStarted(platform)

	e.log.Info().
		Str("session", s.id).
		Str("platform", platform).
		Str("path", s.path).
		Int("sample_rate", s.format.SampleRate).
		Int("channels", s.format.Channels).
		Bool("speaker", s.speaker != nil).
		Bool("mic", s.mic != nil).
		Msg("Recording started")

	go e.capture(s)
	return nil
}

func (e *Engine) openSession(platform string) (*session, error) {
	res := e.cfg.Resolution
	frames := e.cfg.FramesPerBuffer

	var (
		speaker, mic Source
		piped        bool
		errs         []error
	)

	switch {
	case res.Speaker != nil:
		src, err := e.cfg.Backend.Open(*res.Speaker, frames)
		if err != nil {
			errs = append(errs, fmt.Errorf("speaker %q: %w", res.Speaker.Name, err))
		} else {
			speaker = src
		}
	case res.Pipe != nil:
		src, err := e.cfg.Backend.OpenPipe(*res.Pipe, frames)
		if err != nil {
			errs = append(errs, fmt.Errorf("pipe %s: %w", res.Pipe.Path, err))
		} else {
			speaker = src
			piped = true
		}
	}

	if res.Microphone != nil {
		src, err := e.cfg.Backend.Open(*res.Microphone, frames)
		if err != nil {
			errs = append(errs, fmt.Errorf("microphone %q: %w", res.Microphone.Name, err))
		} else {
			mic = src
		}
	}

	for _, err := range errs {
		e.log.Warn().Err(err).Msg("Failed to open audio source")
	}
	if speaker == nil && mic == nil {
		return nil, fmt.Errorf("failed to open any audio source: %w", errors.Join(errs...))
	}

	// The speaker layout wins so system audio is never resampled.
	format := Format{}
	if speaker != nil {
		format = speaker.Format()
	} else {
		format = mic.Format()
	}

	now := e.cfg.Now()
	return &session{
		id:       uuid.NewString(),
		platform: platform,
		started:  now,
		path:     RecordingPath(e.cfg.OutputDir, platform, now.Format("20060102_150405")),
		format:   format,
		speaker:  speaker,
		mic:      mic,
		piped:    piped,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Stop ends the current session and waits up to StopTimeout for the
// recording to be flushed. Stop listeners are called before it returns,
// even if the capture goroutine is still finishing.
func (e *Engine) Stop() (SessionInfo, bool) {
	e.mu.Lock()
	s := e.session
	if s == nil || !e.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		e.mu.Unlock()
		return SessionInfo{}, false
	}
	s.requestStop()
	e.mu.Unlock()

	t := time.NewTimer(e.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
		e.log.Warn().
			Str("session", s.id).
			Dur("timeout", e.cfg.StopTimeout).
			Msg("Capture loop did not stop in time, finishing in background")
	}

	e.mu.Lock()
	if e.session == s {
		e.session = nil
	}
	e.state.Store(int32(Stopped))
	e.mu.Unlock()

	info := s.info()
	e.notifyStopped(s, info)
	return info, true
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *session) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:       s.id,
		Platform: s.platform,
		Started:  s.started,
		Ended:    s.ended,
		Path:     s.path,
		Format:   s.format,
		Frames:   s.nframes,
		Saved:    s.saved,
	}
}

func (e *Engine) capture(s *session) {
	defer close(s.done)
	defer e.finish(s)

	for !s.stopRequested() {
		frame, heard := e.readTick(s)
		if s.speaker == nil && s.mic == nil {
			e.log.Warn().Str("session", s.id).Msg("All audio sources ended, ending session")
			return
		}
		if frame == nil {
			if !heard && !s.piped && e.cfg.StopOnSilence {
				e.log.Warn().Str("session", s.id).Msg("All audio sources silent, ending session")
				return
			}
			continue
		}
		e.emit(s, frame)
	}
}

// readTick reads one frame from each open source and combines them.
// heard is false when no device source produced data this tick. Mic audio
// left over after resampling is carried into the next tick's mix.
func (e *Engine) readTick(s *session) (frame []byte, heard bool) {
	var spk, mic []byte
	if s.speaker != nil {
		spk = e.read(s, &s.speaker, Speaker)
	}
	if s.mic != nil {
		from := s.mic.Format()
		if mic = e.read(s, &s.mic, Microphone); mic != nil {
			mic = Conform(mic, from, s.format)
		}
	}
	heard = spk != nil || mic != nil

	if len(s.carry) > 0 {
		mic = append(s.carry, mic...)
		s.carry = nil
	}

	switch {
	case spk != nil && len(mic) > 0:
		mixed, rest := MixAligned(spk, mic)
		if limit := maxCarryFrames * len(spk); len(rest) > limit {
			rest = rest[len(rest)-limit:]
		}
		if len(rest) > 0 {
			s.carry = append([]byte(nil), rest...)
		}
		return mixed, heard
	case spk != nil:
		return spk, heard
	case len(mic) > 0:
		return mic, heard
	default:
		return nil, heard
	}
}

// read returns the next frame from *src. A source that has ended is
// closed and cleared so it costs nothing on later ticks.
func (e *Engine) read(s *session, src *Source, role Role) []byte {
	b, err := (*src).Read(e.cfg.ReadTimeout)
	switch {
	case err == nil:
		return b
	case errors.Is(err, ErrSourceClosed):
		e.log.Warn().Str("session", s.id).Stringer("source", role).Msg("Audio source ended, continuing without it")
		if cerr := (*src).Close(); cerr != nil {
			e.log.Debug().Err(cerr).Stringer("source", role).Msg("Failed to close ended source")
		}
		*src = nil
	case !errors.Is(err, ErrNoData):
		e.log.Debug().Err(err).Stringer("source", role).Msg("Audio source read failed")
	}
	return nil
}

func (e *Engine) emit(s *session, data []byte) {
	s.frames = append(s.frames, data)
	s.mu.Lock()
	s.nframes++
	s.mu.Unlock()
	e.cfg.Metrics.FrameCaptured()

	queued := make([]byte, len(data))
	copy(queued, data)
	if !e.queue.Offer(Frame{Data: queued, SampleRate: s.format.SampleRate, Channels: s.format.Channels, SessionID: s.id}) {
		e.cfg.Metrics.FrameDropped()
	}

	e.mu.Lock()
	listeners := e.frameListener
	e.mu.Unlock()
	for _, l := range listeners {
		own := make([]byte, len(data))
		copy(own, data)
		f := Frame{Data: own, SampleRate: s.format.SampleRate, Channels: s.format.Channels, SessionID: s.id}
		e.safeCall("frame", func() error { return l.OnFrame(f) })
	}
}

// finish runs on the capture goroutine however the loop ended.
func (e *Engine) finish(s *session) {
	if s.speaker != nil {
		if err := s.speaker.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Failed to close speaker source")
		}
	}
	if s.mic != nil {
		if err := s.mic.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Failed to close microphone source")
		}
	}

	s.mu.Lock()
	s.ended = e.cfg.Now()
	s.mu.Unlock()

	e.save(s)

	// Self-terminated sessions report themselves; otherwise Stop does it.
	if !s.stopRequested() {
		e.mu.Lock()
		if e.session == s {
			e.session = nil
			e.state.Store(int32(Stopped))
		}
		e.mu.Unlock()
		e.notifyStopped(s, s.info())
	}
}

func (e *Engine) save(s *session) {
	if len(s.frames) == 0 {
		e.log.Info().Str("session", s.id).Msg("No audio captured, skipping file")
		return
	}

	if err := WriteWAV(s.path, s.format, s.frames); err != nil {
		e.cfg.Metrics.SaveFailed()
		e.log.Error().Err(err).Str("path", s.path).Msg("Failed to save recording")
		return
	}

	s.mu.Lock()
	s.saved = true
	s.mu.Unlock()
	e.log.Info().
		Str("session", s.id).
		Str("path", s.path).
		Int("frames", len(s.frames)).
		Msg("Recording saved")
	s.frames = nil
}

func (e *Engine) notifyStopped(s *session, info SessionInfo) {
	s.notify.Do(func() {
		e.mu.Lock()
		listeners := e.stopListener
		e.mu.Unlock()
		for _, l := range listeners {
			e.safeCall("stop", func() error { return l.OnRecordingStopped(info) })
		}
	})
}

func (e *Engine) safeCall(kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("listener", kind).Msg("Listener panicked")
		}
	}()
	if err := fn(); err != nil {
		e.log.Warn().Err(err).Str("listener", kind).Msg("Listener failed")
	}
}
