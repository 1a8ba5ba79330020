//go:build linux

package audio

import "errors"

// On Linux system audio is read from a PulseAudio/PipeWire monitor source.
const speakerStrategy = "monitor"

func (b *hostBackend) resolveSpeaker(pref string, inputs []Device) (*Device, *PipeSpec, error) {
	if pref != "" {
		if d := findByName(inputs, pref); d != nil {
			d.Role = Speaker
			return d, nil, nil
		}
		b.log.Warn().Str("device", pref).Msg("Configured speaker device not found")
	}

	if d := findByKeyword(inputs, "monitor"); d != nil {
		d.Role = Speaker
		return d, nil, nil
	}
	return nil, nil, errors.New("no monitor source found; enable one with pavucontrol or pactl")
}

func (b *hostBackend) openLoopback(dev Device, framesPerBuffer int) (Source, error) {
	return nil, errors.New("loopback capture is not supported on linux")
}

func (b *hostBackend) loopbackDevices() ([]Device, error) {
	return nil, nil
}
