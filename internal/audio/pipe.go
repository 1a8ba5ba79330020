package audio

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

const pipeKillTimeout = 2 * time.Second

// FFmpegSpec captures the default avfoundation audio input as 48 kHz stereo s16le.
func FFmpegSpec(path string) PipeSpec {
	return PipeSpec{
		Path: path,
		Args: []string{
			"-f", "avfoundation",
			"-i", ":0",
			"-f", "s16le",
			"-acodec", "pcm_s16le",
			"-ar", "48000",
			"-ac", "2",
			"pipe:1",
		},
		Format: Format{SampleRate: 48000, Channels: 2},
	}
}

// openPipe starts spec and reads its stdout in fixed-size frames.
func openPipe(spec PipeSpec, framesPerBuffer int, log zerolog.Logger) (Source, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}
	log.Info().Str("command", spec.Path).Int("pid", cmd.Process.Pid).Msg("Subprocess audio capture started")

	waited := make(chan error, 1)
	src := newPumpSource(spec.Format, 50, func() error {
		return terminate(cmd, waited)
	})

	chunk := framesPerBuffer * spec.Format.BytesPerFrame()
	go func() {
		for {
			buf := make([]byte, chunk)
			if _, err := io.ReadFull(stdout, buf); err != nil {
				if !src.closed() {
					log.Warn().Err(err).Msg("Subprocess audio stream ended")
				}
				src.fail(err)
				return
			}
			if !src.push(buf) {
				return
			}
		}
	}()
	go func() { waited <- cmd.Wait() }()

	return src, nil
}

// terminate asks the process to exit and kills it after pipeKillTimeout.
func terminate(cmd *exec.Cmd, waited <-chan error) error {
	if runtime.GOOS == "windows" {
		_ = cmd.Process.Kill()
	} else {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-waited:
		return nil
	case <-time.After(pipeKillTimeout):
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill %s: %w", cmd.Path, err)
		}
		<-waited
		return nil
	}
}
