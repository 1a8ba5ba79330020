package stream

import (
	"time"

	"github.com/petems/focusnote/internal/audio"
)

// Transcription server input format.
const (
	TargetRate = 16000
	MinSamples = TargetRate * 2
	MaxSamples = TargetRate * 10
)

// Window accumulates captured frames until a target duration is buffered.
// It holds frames from a single session and format at a time.
type Window struct {
	target  time.Duration
	session string
	format  audio.Format
	chunks  [][]byte
	bytes   int
}

func NewWindow(target time.Duration) *Window {
	if target <= 0 {
		target = 5 * time.Second
	}
	return &Window{target: target}
}

// Add appends f and reports whether the window is full. A frame from a
// different session or format discards what was buffered.
func (w *Window) Add(f audio.Frame) bool {
	if len(f.Data) == 0 {
		return w.Ready()
	}
	if f.SessionID != w.session || f.Format() != w.format {
		w.Reset()
		w.session = f.SessionID
		w.format = f.Format()
	}
	w.chunks = append(w.chunks, f.Data)
	w.bytes += len(f.Data)
	return w.Ready()
}

func (w *Window) Ready() bool {
	return w.Buffered() >= w.target
}

// Buffered is the duration of audio held.
func (w *Window) Buffered() time.Duration {
	return w.format.Duration(w.bytes)
}

func (w *Window) Session() string { return w.session }

func (w *Window) Reset() {
	w.chunks = nil
	w.bytes = 0
	w.session = ""
	w.format = audio.Format{}
}

// Flush encodes the buffered audio for the transcription server and
// empties the window. The session tag is kept so later frames of the
// same session keep accumulating.
func (w *Window) Flush() []byte {
	pcm := make([]byte, 0, w.bytes)
	for _, c := range w.chunks {
		pcm = append(pcm, c...)
	}
	w.chunks = nil
	w.bytes = 0
	return Encode(pcm, w.format)
}

// Encode converts interleaved int16 PCM into mono float32 at TargetRate,
// padded or truncated to the server's accepted length.
func Encode(pcm []byte, format audio.Format) []byte {
	samples := audio.Downmix(audio.BytesToInt16(pcm), format.Channels)
	if format.SampleRate != TargetRate {
		samples = audio.Resample(samples, format.SampleRate, TargetRate)
	}
	floats := audio.FitLength(audio.ToFloat32(samples), MinSamples, MaxSamples)
	return audio.Float32ToBytes(floats)
}
