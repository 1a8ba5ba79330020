package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/petems/focusnote/internal/audio"
	"github.com/petems/focusnote/internal/config"
	"github.com/petems/focusnote/internal/detect"
	"github.com/petems/focusnote/internal/dnd"
	"github.com/petems/focusnote/internal/metrics"
	"github.com/petems/focusnote/internal/monitor"
	"github.com/petems/focusnote/internal/probe"
	"github.com/petems/focusnote/internal/status"
	"github.com/petems/focusnote/internal/stream"
	"github.com/petems/focusnote/internal/summary"
	"github.com/petems/focusnote/internal/workerpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	poolWorkers  = 4
	poolQueue    = 32
	drainTimeout = 15 * time.Second
)

type Config struct {
	Config        *config.Config
	Backend       audio.Backend         // Optional - nil opens the host audio backend
	Sampler       detect.Sampler        // Optional - nil probes the host process table
	Effector      dnd.Effector          // Optional - nil uses the OS controller when DND is enabled
	Dialer        stream.Dialer         // Optional - nil dials a real websocket
	StatusUpdater monitor.StatusUpdater // Optional - can be nil
	Version       string
	Logger        zerolog.Logger
}

type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	version string

	metrics     *metrics.Metrics
	pool        *workerpool.Pool
	backend     audio.Backend
	engine      *audio.Engine
	detector    *detect.Detector
	monitor     *monitor.Monitor
	transcripts *stream.Transcript
	bridge      *stream.Bridge
	client      *summary.Client
	archiver    *summary.Archiver
	status      *status.Server

	closeOnce sync.Once
}

// New builds every component from cfg. Audio devices are resolved once
// here; a failed resolution leaves capture disabled rather than failing.
func New(cfg Config) (*App, error) {
	c := cfg.Config
	if c == nil {
		c = config.Default()
	}
	log := cfg.Logger

	policy, err := monitor.ParseResetPolicy(c.Detection.ResetPolicy)
	if err != nil {
		return nil, err
	}
	var kinds []summary.Kind
	for _, s := range c.Summary.Artifacts {
		k, err := summary.ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}

	backend := cfg.Backend
	if backend == nil {
		backend, err = audio.NewHostBackend(audio.BackendOptions{FFmpegPath: c.Audio.FFmpegPath}, log)
		if err != nil {
			return nil, fmt.Errorf("initialize audio: %w", err)
		}
	}

	a := &App{
		cfg:         c,
		log:         log,
		version:     cfg.Version,
		metrics:     metrics.New(),
		pool:        workerpool.New(poolWorkers, poolQueue, log),
		backend:     backend,
		transcripts: stream.NewTranscript(),
	}

	res, err := backend.Resolve(audio.Preferences{Speaker: c.Audio.SpeakerDevice, Microphone: c.Audio.MicDevice})
	if err != nil {
		log.Error().Err(err).Msg("Audio device resolution failed")
	}
	if !res.Available() {
		log.Warn().Msg("No audio sources resolved, recording is disabled")
	}

	a.engine = audio.NewEngine(audio.EngineConfig{
		Backend:         backend,
		Resolution:      res,
		Queue:           audio.NewQueue(c.Audio.QueueSize),
		OutputDir:       c.OutputDir,
		FramesPerBuffer: c.Audio.FramesPerBuffer,
		ReadTimeout:     c.Audio.ReadTimeout(),
		StopTimeout:     c.Audio.StopTimeout(),
		StopOnSilence:   c.Audio.StopOnSilence,
		Metrics:         a.metrics,
		Logger:          log,
	})

	sampler := cfg.Sampler
	if sampler == nil {
		sampler = probe.New(nil, c.Detection.SampleInterval(), log)
	}
	a.detector = detect.New(sampler, thresholds(c.Detection))

	var gen summary.Generator
	if c.Summary.Enabled {
		a.client = summary.NewClient(c.Summary.BaseURL, c.Summary.Timeout(), nil)
		gen = a.client
	}
	a.archiver = summary.NewArchiver(summary.ArchiverConfig{
		Generator: gen,
		Dir:       c.NotesDir,
		Kinds:     kinds,
		Title:     c.Summary.MeetingTitle,
		Metrics:   a.metrics,
		Logger:    log,
	})

	if c.Transcription.Enabled {
		a.bridge = stream.NewBridge(stream.Config{
			URL:             c.Transcription.ServerURL,
			Source:          a.engine.Queue(),
			Dialer:          cfg.Dialer,
			Transcripts:     a.transcripts,
			Flusher:         a.archiver,
			Dispatcher:      a.pool,
			Window:          c.Transcription.Window(),
			Retry:           c.Transcription.Retry(),
			ResponseTimeout: c.Transcription.ResponseTimeout(),
			PingInterval:    c.Transcription.PingInterval(),
			Metrics:         a.metrics,
			Logger:          log,
		})
		a.engine.AddStopListener(a.bridge)
	}

	var effector dnd.Effector = dnd.Nop{}
	if c.DND.Enabled {
		effector = cfg.Effector
		if effector == nil {
			effector = dnd.New(log)
		}
	}

	a.monitor = monitor.New(monitor.Config{
		Detector:      a.detector,
		Recorder:      a.engine,
		Effector:      effector,
		Dispatcher:    a.pool,
		StatusUpdater: cfg.StatusUpdater,
		ConfirmTicks:  c.Detection.ConfirmTicks,
		InactiveTicks: c.Detection.InactiveTicks,
		Policy:        policy,
		Tick:          c.Detection.Tick(),
		StatusEvery:   c.Detection.StatusEveryTicks,
		Metrics:       a.metrics,
		Logger:        log,
	})

	if c.Status.Enabled {
		a.status = status.New(c.Status.Addr, a.Status, a.metrics, log)
	}

	log.Info().
		Str("backend", backend.Name()).
		Bool("transcription", c.Transcription.Enabled).
		Bool("summary", c.Summary.Enabled).
		Bool("dnd", c.DND.Enabled).
		Msg("FocusNote initialized")
	return a, nil
}

// Run monitors for calls until ctx is cancelled. Failures of auxiliary
// services are logged and never stop monitoring.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(ctx) })
	a.runServices(ctx, g)
	return g.Wait()
}

// Record captures a single session of fixed length, streaming it like a
// detected call would be.
func (a *App) Record(ctx context.Context, platform string, d time.Duration) (audio.SessionInfo, error) {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.runServices(gctx, g)
	defer func() {
		cancel()
		g.Wait()
	}()

	if err := a.engine.Start(platform); err != nil {
		return audio.SessionInfo{}, err
	}
	a.log.Info().Str("platform", platform).Dur("duration", d).Msg("Test recording started")

	select {
	case <-time.After(d):
	case <-ctx.Done():
	}

	info, ok := a.engine.Stop()
	if !ok {
		return info, fmt.Errorf("recording ended before it was stopped")
	}
	return info, nil
}

// Toggle starts a recording when idle and stops it otherwise. It returns
// whether a recording is running afterwards.
func (a *App) Toggle(platform string) (bool, error) {
	if a.engine.IsRecording() {
		info, _ := a.engine.Stop()
		a.log.Info().Str("session", info.ID).Str("path", info.Path).Msg("Manual recording stopped")
		return false, nil
	}
	if err := a.engine.Start(platform); err != nil {
		return false, err
	}
	a.log.Info().Str("platform", platform).Msg("Manual recording started")
	return true, nil
}

// Serve runs the auxiliary services without call monitoring.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.runServices(ctx, g)
	<-ctx.Done()
	return g.Wait()
}

func (a *App) runServices(ctx context.Context, g *errgroup.Group) {
	if a.bridge != nil {
		g.Go(func() error { return a.bridge.Run(ctx) })
	}
	if a.status != nil {
		g.Go(func() error {
			if err := a.status.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("Status endpoint stopped")
			}
			return nil
		})
	}
	if a.client != nil {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := a.client.Health(hctx); err != nil {
				a.log.Warn().Err(err).Msg("Summary service is not reachable")
			} else {
				a.log.Info().Msg("Summary service is healthy")
			}
			return nil
		})
	}
}

// Status is safe to call from any goroutine.
func (a *App) Status() status.Snapshot {
	snap := status.Snapshot{
		Monitor:        a.monitor.Status(),
		Engine:         a.engine.State().String(),
		LastTranscript: a.transcripts.Last(),
		Version:        a.version,
	}
	if info, ok := a.engine.Current(); ok {
		snap.Session = &info
	}
	if a.bridge != nil {
		snap.StreamConnected = a.bridge.Connected()
	}
	return snap
}

func (a *App) Resolution() audio.Resolution { return a.engine.Resolution() }

func (a *App) ListDevices() ([]audio.Device, error) {
	return a.backend.ListDevices()
}

// Samples runs one probe pass and evaluates it.
func (a *App) Samples(ctx context.Context) ([]probe.Sample, detect.Snapshot, error) {
	samples, err := a.detector.Samples(ctx)
	if err != nil {
		return nil, nil, err
	}
	return samples, detect.Evaluate(samples, thresholds(a.cfg.Detection)), nil
}

func thresholds(d config.DetectionConfig) detect.Thresholds {
	return detect.Thresholds{
		CPU:           d.CPUThreshold,
		DiscordCPU:    d.DiscordCPUThreshold,
		DiscordUDPCPU: d.DiscordUDPCPUThreshold,
		DiscordMinUDP: d.DiscordMinUDP,
	}
}

// Close stops any recording, waits for queued side effects and releases
// the audio backend.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.engine.IsRecording() {
			a.engine.Stop()
		}
		a.pool.StopAccepting()
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		a.pool.Drain(ctx)
		cancel()
		err = a.backend.Close()
	})
	return err
}
