package audio

import (
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes the frames, concatenated in order, as a 16-bit PCM WAV file.
func WriteWAV(path string, format Format, frames [][]byte) (err error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("invalid wav format %+v", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)

	pcmFormat := &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate}
	for _, frame := range frames {
		samples := BytesToInt16(frame)
		data := make([]int, len(samples))
		for i, s := range samples {
			data[i] = int(s)
		}
		buf := &goaudio.IntBuffer{Format: pcmFormat, Data: data, SourceBitDepth: 16}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("failed to write wav data: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalise wav file: %w", err)
	}
	return nil
}

// RecordingPath names a session file meeting_<platform>_<YYYYmmdd_HHMMSS>.wav.
func RecordingPath(dir, platform, stamp string) string {
	name := "meeting"
	if platform != "" {
		name += "_" + platform
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.wav", name, stamp))
}
