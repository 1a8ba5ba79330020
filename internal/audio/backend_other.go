//go:build !linux && !darwin && !windows

package audio

import "errors"

const speakerStrategy = "none"

func (b *hostBackend) resolveSpeaker(pref string, inputs []Device) (*Device, *PipeSpec, error) {
	if pref != "" {
		if d := findByName(inputs, pref); d != nil {
			d.Role = Speaker
			return d, nil, nil
		}
	}
	return nil, nil, errors.New("system audio capture is not supported on this platform")
}

func (b *hostBackend) openLoopback(dev Device, framesPerBuffer int) (Source, error) {
	return nil, errors.New("loopback capture is not supported on this platform")
}

func (b *hostBackend) loopbackDevices() ([]Device, error) {
	return nil, nil
}
