package audio

import (
	"encoding/binary"
	"math"
)

// Source identifies which side of the conversation produced a frame.
type Source int

const (
	// SourceMic is the local microphone capture path.
	SourceMic Source = iota
	// SourceSystem is the loopback capture of what the machine plays.
	SourceSystem
)

// String returns the wire/log name for a source.
func (s Source) String() string {
	switch s {
	case SourceMic:
		return "mic"
	case SourceSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Frame is one timestamped slice of captured audio in canonical float32 form.
//
// Samples are mono, in [-1, 1], and must not be mutated after construction.
type Frame struct {
	Source    Source
	Samples   []float32
	CaptureMs int64
}

// Float32FromPCM16 converts little-endian 16-bit PCM bytes to float32 samples.
//
// A trailing odd byte is ignored. This is the capture ingestion boundary; the
// rest of the pipeline works in float32 only.
func Float32FromPCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// PCM16FromFloat32 converts float32 samples to little-endian 16-bit PCM bytes.
//
// Samples outside [-1, 1] are clamped. This is the provider ingestion boundary.
func PCM16FromFloat32(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// Level returns the RMS level of a sample slice in [0, 1] for UI metering.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		rms = 1
	}
	return rms
}
