//go:build windows

package audio

import (
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
)

// On Windows system audio is captured from the default output device
// through WASAPI loopback.
const speakerStrategy = "wasapi-loopback"

const (
	loopbackChannels   = 2
	loopbackSampleRate = 48000
)

func (b *hostBackend) resolveSpeaker(pref string, inputs []Device) (*Device, *PipeSpec, error) {
	outputs, err := b.loopbackDevices()
	if err != nil {
		return nil, nil, err
	}

	if pref != "" {
		if d := findByName(outputs, pref); d != nil {
			return d, nil, nil
		}
		b.log.Warn().Str("device", pref).Msg("Configured speaker device not found")
	}

	for i := range outputs {
		if outputs[i].Default {
			d := outputs[i]
			return &d, nil, nil
		}
	}
	if len(outputs) > 0 {
		d := outputs[0]
		return &d, nil, nil
	}
	return nil, nil, errors.New("no output device available for loopback capture")
}

// loopbackDevices lists playback endpoints as loopback-capable speaker devices.
func (b *hostBackend) loopbackDevices() ([]Device, error) {
	ctx, err := malgo.InitContext([]malgo.Backend{malgo.BackendWasapi}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(infos))
	for i, info := range infos {
		full, err := ctx.DeviceInfo(malgo.Playback, info.ID, malgo.Shared)
		if err != nil {
			b.log.Debug().Err(err).Msg("Unable to get playback device info")
			continue
		}
		out = append(out, Device{
			Name:       full.Name() + " [Loopback]",
			Index:      i,
			Channels:   loopbackChannels,
			SampleRate: loopbackSampleRate,
			Role:       Speaker,
			Loopback:   true,
			Default:    full.IsDefault == 1,
			handle:     full.ID,
		})
	}
	return out, nil
}

// openLoopback captures what dev is playing. miniaudio converts to the
// requested s16 layout, and callback buffers are regrouped into fixed frames.
func (b *hostBackend) openLoopback(dev Device, framesPerBuffer int) (Source, error) {
	id, ok := dev.handle.(malgo.DeviceID)
	if !ok {
		return nil, fmt.Errorf("device %q is not a loopback device", dev.Name)
	}

	ctx, err := malgo.InitContext([]malgo.Backend{malgo.BackendWasapi}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init WASAPI context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
	cfg.Capture.DeviceID = id.Pointer()
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(dev.Channels)
	cfg.SampleRate = uint32(dev.SampleRate)
	cfg.PeriodSizeInFrames = uint32(framesPerBuffer)

	var device *malgo.Device
	src := newPumpSource(dev.Format(), 8, func() error {
		if device != nil {
			device.Uninit()
		}
		err := ctx.Uninit()
		ctx.Free()
		return err
	})

	chunks := newChunker(framesPerBuffer * dev.Format().BytesPerFrame())
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			chunks.feed(input, func(frame []byte) { src.push(frame) })
		},
	}

	device, err = malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to init loopback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to start loopback device: %w", err)
	}

	return src, nil
}
