package aec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNLMSOutputLengthMatchesInput(t *testing.T) {
	filter := NewNLMS(32, 0.5)

	out := filter.Process(make([]float32, 160), make([]float32, 160))
	require.Len(t, out, 160)

	out = filter.Process(make([]float32, 7), make([]float32, 3))
	require.Len(t, out, 7)
}

func TestNLMSReducesPureEchoEnergy(t *testing.T) {
	filter := NewNLMS(16, 0.8)

	// Capture is the reference itself: a direct echo the filter should learn.
	reference := make([]float32, 0, 3200)
	for i := 0; i < 3200; i++ {
		reference = append(reference, float32(0.5*math.Sin(2*math.Pi*440*float64(i)/16000)))
	}

	var inputEnergy, tailEnergy float64
	frame := 160
	for start := 0; start+frame <= len(reference); start += frame {
		ref := reference[start : start+frame]
		out := filter.Process(ref, ref)
		if start >= len(reference)/2 {
			for i := range out {
				inputEnergy += float64(ref[i]) * float64(ref[i])
				tailEnergy += float64(out[i]) * float64(out[i])
			}
		}
	}

	require.Greater(t, inputEnergy, 0.0)
	require.Less(t, tailEnergy, inputEnergy/4, "converged filter should remove most echo energy")
}

func TestNLMSSilentReferencePassesCaptureThrough(t *testing.T) {
	filter := NewNLMS(16, 0.5)

	capture := []float32{0.25, -0.25, 0.5}
	out := filter.Process(capture, make([]float32, 3))
	for i := range capture {
		require.InDelta(t, capture[i], out[i], 1e-6)
	}
}

func TestNLMSResetClearsAdaptation(t *testing.T) {
	filter := NewNLMS(8, 0.5)

	ref := []float32{0.5, 0.5, 0.5, 0.5}
	for i := 0; i < 50; i++ {
		filter.Process(ref, ref)
	}
	filter.Reset()

	// After reset the first output equals the capture: no learned weights.
	out := filter.Process([]float32{0.3}, []float32{0.3})
	require.InDelta(t, 0.3, out[0], 1e-6)
}

func TestNewNLMSClampsBadParams(t *testing.T) {
	filter := NewNLMS(0, -1)
	out := filter.Process([]float32{0.1}, []float32{0.1})
	require.Len(t, out, 1)
}
