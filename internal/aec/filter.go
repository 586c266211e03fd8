// Package aec aligns loopback reference audio with microphone capture and
// applies adaptive echo cancellation.
package aec

// Filter removes rendered-audio leakage from a capture frame using an aligned
// reference of the same length. Process must return output of the capture's
// length; the synchronizer treats anything else as a failure and passes the
// raw capture through.
type Filter interface {
	Process(capture []float32, reference []float32) []float32
}

// NLMS is a normalized least-mean-squares adaptive echo canceller.
//
// The filter keeps its own reference delay line across calls so adaptation
// continues over frame boundaries.
type NLMS struct {
	taps    int
	step    float64
	epsilon float64

	weights []float64
	delay   []float64
}

// NewNLMS builds a filter with the given tap count and step size. Step sizes
// outside (0, 2] are clamped to a stable default.
func NewNLMS(taps int, step float64) *NLMS {
	if taps <= 0 {
		taps = 256
	}
	if step <= 0 || step > 2 {
		step = 0.5
	}
	return &NLMS{
		taps:    taps,
		step:    step,
		epsilon: 1e-6,
		weights: make([]float64, taps),
		delay:   make([]float64, taps),
	}
}

// Process filters one capture frame against its aligned reference and returns
// the echo-reduced output.
func (f *NLMS) Process(capture []float32, reference []float32) []float32 {
	out := make([]float32, len(capture))

	for n := range capture {
		var ref float64
		if n < len(reference) {
			ref = float64(reference[n])
		}

		// Shift the newest reference sample into the delay line.
		copy(f.delay[1:], f.delay[:f.taps-1])
		f.delay[0] = ref

		var estimate, power float64
		for i := 0; i < f.taps; i++ {
			estimate += f.weights[i] * f.delay[i]
			power += f.delay[i] * f.delay[i]
		}

		err := float64(capture[n]) - estimate
		gain := f.step / (f.epsilon + power)
		for i := 0; i < f.taps; i++ {
			f.weights[i] += gain * err * f.delay[i]
		}

		out[n] = float32(err)
	}

	return out
}

// Reset clears adapted weights and the reference delay line.
func (f *NLMS) Reset() {
	for i := range f.weights {
		f.weights[i] = 0
		f.delay[i] = 0
	}
}
