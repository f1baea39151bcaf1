// Package audio provides PCM helpers shared by the buffer, the capability
// providers, and the gateway: duration math, channel/rate conversion, WAV
// container encoding, and Opus packet decoding.
//
// Unless stated otherwise all functions operate on 16-bit little-endian
// signed PCM.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// bitsPerSample is fixed at 16 for the PCM processed by this engine.
const bitsPerSample = 16

// BytesPerSecond returns the PCM byte rate for a sample rate and channel
// count. Returns 0 for invalid inputs.
func BytesPerSecond(sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return sampleRate * channels * (bitsPerSample / 8)
}

// Duration returns the play time of a PCM buffer. Returns 0 for invalid
// sample rates or channel counts.
func Duration(n int, sampleRate, channels int) time.Duration {
	bps := BytesPerSecond(sampleRate, channels)
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// BytesFor returns the PCM byte count covering d of audio, rounded down to a
// whole sample.
func BytesFor(d time.Duration, sampleRate, channels int) int {
	bps := BytesPerSecond(sampleRate, channels)
	if bps == 0 || d <= 0 {
		return 0
	}
	n := int(int64(d) * int64(bps) / int64(time.Second))
	return n - n%(channels*bitsPerSample/8)
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// RMS returns the root-mean-square energy of a PCM buffer, in the same units
// as sample values (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Float32Mono converts PCM to float32 samples in [-1, 1], downmixing stereo
// by averaging channel pairs. Used by inference engines that take float input.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels == 2 {
		pcm = StereoToMono(pcm)
	}
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(s) / 32768
	}
	return out
}
