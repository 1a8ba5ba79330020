package audio

import (
	"encoding/binary"
	"math"
)

// BytesToInt16 decodes little-endian 16-bit samples. A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// MixSimple averages two 16-bit PCM buffers sample by sample, truncated to
// the shorter one. The average is floored and there is no gain compensation.
func MixSimple(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	n -= n % 2

	out := make([]byte, n)
	for i := 0; i < n; i += 2 {
		s1 := int32(int16(binary.LittleEndian.Uint16(a[i:])))
		s2 := int32(int16(binary.LittleEndian.Uint16(b[i:])))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16((s1+s2)>>1)))
	}
	return out
}

// MixAligned mixes b into a without shortening a. Where b runs short the
// rest of a passes through unchanged; the part of b past the end of a is
// returned as rest.
func MixAligned(a, b []byte) (mixed, rest []byte) {
	n := len(b)
	if len(a) < n {
		n = len(a)
	}
	n -= n % 2

	mixed = make([]byte, len(a))
	copy(mixed, MixSimple(a[:n], b[:n]))
	copy(mixed[n:], a[n:])
	return mixed, b[n:]
}

// MonoToStereo duplicates every 16-bit sample into a left/right pair.
func MonoToStereo(mono []byte) []byte {
	n := len(mono) - len(mono)%2
	out := make([]byte, n*2)
	for i := 0; i < n; i += 2 {
		out[i*2] = mono[i]
		out[i*2+1] = mono[i+1]
		out[i*2+2] = mono[i]
		out[i*2+3] = mono[i+1]
	}
	return out
}

// StereoToMono averages interleaved pairs, truncating toward zero.
func StereoToMono(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		out[i] = int16((int32(stereo[i*2]) + int32(stereo[i*2+1])) / 2)
	}
	return out
}

// Downmix averages any number of interleaved channels into one.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	if channels == 2 {
		return StereoToMono(samples)
	}

	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples from one rate to another by linear
// interpolation. The output has int(len*to/from) samples spread evenly
// from the first input sample to the last.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	n := len(samples)
	m := int(float64(n) / float64(from) * float64(to))
	if n == 0 || m <= 0 {
		return []int16{}
	}

	out := make([]int16, m)
	if m == 1 || n == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}

	step := float64(n-1) / float64(m-1)
	for i := range out {
		x := float64(i) * step
		i0 := int(x)
		if i0 >= n-1 {
			out[i] = samples[n-1]
			continue
		}
		frac := x - float64(i0)
		v := float64(samples[i0]) + (float64(samples[i0+1])-float64(samples[i0]))*frac
		out[i] = int16(v)
	}
	return out
}

// ResampleInterleaved resamples each channel of an interleaved buffer independently.
func ResampleInterleaved(samples []int16, channels, from, to int) []int16 {
	if channels <= 1 {
		return Resample(samples, from, to)
	}
	if from == to {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	planes := make([][]int16, channels)
	for c := range planes {
		plane := make([]int16, frames)
		for i := 0; i < frames; i++ {
			plane[i] = samples[i*channels+c]
		}
		planes[c] = Resample(plane, from, to)
	}

	outFrames := len(planes[0])
	out := make([]int16, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = planes[c][i]
		}
	}
	return out
}

// Conform converts a PCM buffer from one layout to another. Only mono and
// stereo channel counts are converted; other mismatches pass through.
func Conform(data []byte, from, to Format) []byte {
	if from == to {
		return data
	}

	if from.Channels == 1 && to.Channels == 2 {
		data = MonoToStereo(data)
		from.Channels = 2
	} else if from.Channels == 2 && to.Channels == 1 {
		data = Int16ToBytes(StereoToMono(BytesToInt16(data)))
		from.Channels = 1
	}

	if from.SampleRate != to.SampleRate && from.SampleRate > 0 && to.SampleRate > 0 {
		data = Int16ToBytes(ResampleInterleaved(BytesToInt16(data), from.Channels, from.SampleRate, to.SampleRate))
	}
	return data
}

// ToFloat32 normalises samples into [-1, 1).
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToBytes encodes samples as little-endian IEEE-754 floats.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// FitLength zero-pads samples up to min or truncates them to max.
func FitLength(samples []float32, min, max int) []float32 {
	switch {
	case len(samples) < min:
		out := make([]float32, min)
		copy(out, samples)
		return out
	case max > 0 && len(samples) > max:
		return samples[:max]
	default:
		return samples
	}
}
