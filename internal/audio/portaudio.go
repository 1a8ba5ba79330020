package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// BackendOptions configures the host backend.
type BackendOptions struct {
	FFmpegPath string
}

// hostBackend enumerates and opens devices through PortAudio. The speaker
// strategy (monitor source, virtual device, loopback, subprocess pipe)
// lives in the per-OS files.
type hostBackend struct {
	opts BackendOptions
	log  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewHostBackend initialises PortAudio and returns the backend for this OS.
func NewHostBackend(opts BackendOptions, log zerolog.Logger) (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &hostBackend{
		opts: opts,
		log:  log.With().Str("component", "audio").Logger(),
	}, nil
}

func (b *hostBackend) Name() string {
	return "portaudio+" + speakerStrategy
}

// Resolve picks the speaker and microphone once. Failures are logged and
// leave the corresponding role empty.
func (b *hostBackend) Resolve(prefs Preferences) (Resolution, error) {
	inputs, err := b.inputDevices()
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var res Resolution

	res.Microphone = b.resolveMicrophone(prefs.Microphone, inputs)
	if res.Microphone == nil {
		b.log.Warn().Msg("No microphone found")
	} else {
		b.log.Info().Str("device", res.Microphone.Name).Int("channels", res.Microphone.Channels).
			Int("sample_rate", res.Microphone.SampleRate).Msg("Microphone resolved")
	}

	speaker, pipe, err := b.resolveSpeaker(prefs.Speaker, inputs)
	if err != nil {
		b.log.Warn().Err(err).Msg("System audio capture unavailable")
	}
	res.Speaker, res.Pipe = speaker, pipe
	switch {
	case speaker != nil:
		b.log.Info().Str("device", speaker.Name).Bool("loopback", speaker.Loopback).
			Int("channels", speaker.Channels).Int("sample_rate", speaker.SampleRate).Msg("Speaker resolved")
	case pipe != nil:
		b.log.Info().Str("command", pipe.Path).Msg("Speaker captured through subprocess pipe")
	}

	if !res.Available() {
		b.log.Error().Msg("No audio devices resolved, recording is disabled")
	}
	return res, nil
}

func (b *hostBackend) resolveMicrophone(pref string, inputs []Device) *Device {
	if pref != "" {
		if d := findByName(inputs, pref); d != nil {
			d.Role = Microphone
			return d
		}
		b.log.Warn().Str("device", pref).Msg("Configured microphone not found, using default")
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil {
		return nil
	}
	for i := range inputs {
		if inputs[i].handle == info {
			d := inputs[i]
			d.Role = Microphone
			return &d
		}
	}
	return nil
}

func (b *hostBackend) inputDevices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	defaultIn, _ := portaudio.DefaultInputDevice()

	out := make([]Device, 0, len(infos))
	for i, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		channels := info.MaxInputChannels
		if channels > 2 {
			channels = 2
		}
		out = append(out, Device{
			Name:       info.Name,
			Index:      i,
			Channels:   channels,
			SampleRate: int(info.DefaultSampleRate),
			Default:    info == defaultIn,
			handle:     info,
		})
	}
	return out, nil
}

func (b *hostBackend) ListDevices() ([]Device, error) {
	inputs, err := b.inputDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	loopback, err := b.loopbackDevices()
	if err != nil {
		b.log.Debug().Err(err).Msg("Failed to list loopback devices")
	}
	return append(inputs, loopback...), nil
}

func (b *hostBackend) Open(dev Device, framesPerBuffer int) (Source, error) {
	if dev.Loopback {
		return b.openLoopback(dev, framesPerBuffer)
	}
	return openPortAudio(dev, framesPerBuffer, b.log)
}

func (b *hostBackend) OpenPipe(spec PipeSpec, framesPerBuffer int) (Source, error) {
	return openPipe(spec, framesPerBuffer, b.log)
}

func (b *hostBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return portaudio.Terminate()
}

// openPortAudio opens a blocking int16 input stream and pumps it from its
// own goroutine so reads can time out.
func openPortAudio(dev Device, framesPerBuffer int, log zerolog.Logger) (Source, error) {
	info, ok := dev.handle.(*portaudio.DeviceInfo)
	if !ok || info == nil {
		return nil, fmt.Errorf("device %q is not a PortAudio device", dev.Name)
	}

	buffer := make([]int16, framesPerBuffer*dev.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: dev.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(dev.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	exited := make(chan struct{})
	var closeErr error
	src := newPumpSource(dev.Format(), 8, func() error {
		select {
		case <-exited:
		case <-time.After(time.Second):
			return fmt.Errorf("stream %q did not stop", dev.Name)
		}
		return closeErr
	})

	go func() {
		defer close(exited)
		defer func() {
			stream.Stop()
			closeErr = stream.Close()
		}()
		for !src.closed() {
			if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
				log.Debug().Err(err).Str("device", dev.Name).Msg("Stream read failed")
				src.fail(err)
				return
			}
			src.push(Int16ToBytes(buffer))
		}
	}()

	return src, nil
}

func findByName(devices []Device, name string) *Device {
	for i := range devices {
		if strings.EqualFold(devices[i].Name, name) {
			d := devices[i]
			return &d
		}
	}
	return nil
}

// findByKeyword returns the first device whose lowercase name contains any keyword.
func findByKeyword(devices []Device, keywords ...string) *Device {
	for i := range devices {
		name := strings.ToLower(devices[i].Name)
		for _, k := range keywords {
			if strings.Contains(name, k) {
				d := devices[i]
				return &d
			}
		}
	}
	return nil
}
