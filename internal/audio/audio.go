package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDevices is returned by Start when neither a speaker nor a
	// microphone source was resolved at startup.
	ErrNoDevices = errors.New("no audio devices available")
	// ErrNoData is returned by Source.Read when nothing arrived in time.
	ErrNoData = errors.New("no audio data")
	// ErrSourceClosed is returned by Source.Read once the source is gone.
	ErrSourceClosed = errors.New("audio source closed")
	// ErrStopping is returned by Start while a previous session is being stopped.
	ErrStopping = errors.New("capture engine is stopping")
)

// BytesPerSample is the width of the 16-bit signed little-endian PCM used end to end.
const BytesPerSample = 2

type Role int

const (
	Speaker Role = iota
	Microphone
)

func (r Role) String() string {
	switch r {
	case Speaker:
		return "speaker"
	case Microphone:
		return "microphone"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Format is an interleaved PCM layout.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * BytesPerSample
}

// Duration is the playback length of n bytes in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / f.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Device is a host audio endpoint resolved at startup.
type Device struct {
	Name       string
	Index      int
	Channels   int
	SampleRate int
	Role       Role
	// Loopback marks an output endpoint captured through the OS loopback path.
	Loopback bool
	Default  bool

	handle any
}

func (d Device) Format() Format {
	return Format{SampleRate: d.SampleRate, Channels: d.Channels}
}

// PipeSpec describes a subprocess that writes raw s16le PCM to stdout.
type PipeSpec struct {
	Path   string
	Args   []string
	Format Format
}

// Resolution is the device choice made once at startup.
type Resolution struct {
	Speaker    *Device
	Microphone *Device
	Pipe       *PipeSpec
}

// Available reports whether any capture source can be opened.
func (r Resolution) Available() bool {
	return r.Speaker != nil || r.Microphone != nil || r.Pipe != nil
}

// Preferences overrides the automatic choice by device name.
type Preferences struct {
	Speaker    string
	Microphone string
}

// Frame is one chunk of interleaved 16-bit PCM.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
	SessionID  string
}

func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Source yields fixed-size interleaved int16 frames.
type Source interface {
	// Read waits up to timeout for the next frame. It returns ErrNoData
	// on timeout and ErrSourceClosed once the source has ended.
	Read(timeout time.Duration) ([]byte, error)
	Format() Format
	Close() error
}

// Backend is the per-OS device strategy.
type Backend interface {
	Name() string
	Resolve(prefs Preferences) (Resolution, error)
	Open(dev Device, framesPerBuffer int) (Source, error)
	OpenPipe(spec PipeSpec, framesPerBuffer int) (Source, error)
	ListDevices() ([]Device, error)
	Close() error
}
