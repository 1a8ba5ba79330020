//go:build darwin

package audio

import (
	"errors"
	"os/exec"
)

// On macOS system audio comes from a virtual device, or ffmpeg's
// avfoundation input when none is installed.
const speakerStrategy = "virtual-device"

func (b *hostBackend) resolveSpeaker(pref string, inputs []Device) (*Device, *PipeSpec, error) {
	if pref != "" {
		if d := findByName(inputs, pref); d != nil {
			d.Role = Speaker
			return d, nil, nil
		}
		b.log.Warn().Str("device", pref).Msg("Configured speaker device not found")
	}

	if d := findByKeyword(inputs, "blackhole", "soundflower"); d != nil {
		d.Role = Speaker
		return d, nil, nil
	}

	path, err := exec.LookPath(b.opts.FFmpegPath)
	if err != nil {
		return nil, nil, errors.New("no BlackHole/Soundflower device and ffmpeg not found; install with: brew install blackhole-2ch or brew install ffmpeg")
	}
	spec := FFmpegSpec(path)
	return nil, &spec, nil
}

func (b *hostBackend) openLoopback(dev Device, framesPerBuffer int) (Source, error) {
	return nil, errors.New("loopback capture is not supported on darwin")
}

func (b *hostBackend) loopbackDevices() ([]Device, error) {
	return nil, nil
}
