package audio

// SampleBuffer accumulates capture samples until a minimum chunk duration is
// reached, so downstream transcription sends never violate the backend's
// minimum-chunk contract even though driver callbacks arrive in smaller pieces.
type SampleBuffer struct {
	threshold int
	chunks    [][]float32
	count     int
	startMs   int64
	hasStart  bool
}

// NewSampleBuffer derives the flush threshold from the stream geometry.
func NewSampleBuffer(sampleRate int, minChunkMs int) *SampleBuffer {
	return &SampleBuffer{threshold: sampleRate * minChunkMs / 1000}
}

// Push appends one chunk of samples. The slice is retained; callers must not
// reuse it afterward.
func (b *SampleBuffer) Push(samples []float32, captureMs int64) {
	if len(samples) == 0 {
		return
	}
	if !b.hasStart {
		b.startMs = captureMs
		b.hasStart = true
	}
	b.chunks = append(b.chunks, samples)
	b.count += len(samples)
}

// HasEnough reports whether the accumulated sample count has reached the
// flush threshold. The boundary count is inclusive.
func (b *SampleBuffer) HasEnough() bool {
	return b.count >= b.threshold
}

// Len returns the accumulated sample count.
func (b *SampleBuffer) Len() int {
	return b.count
}

// Flush concatenates all buffered chunks in arrival order, resets the buffer,
// and returns the contiguous output with the capture timestamp of its first
// sample. Callers check HasEnough first except on forced drain at stop.
func (b *SampleBuffer) Flush() ([]float32, int64) {
	out := make([]float32, 0, b.count)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	startMs := b.startMs
	b.reset()
	return out, startMs
}

// Clear discards all buffered samples without returning them.
func (b *SampleBuffer) Clear() {
	b.reset()
}

func (b *SampleBuffer) reset() {
	b.chunks = nil
	b.count = 0
	b.startMs = 0
	b.hasStart = false
}
