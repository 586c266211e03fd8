package aec

import (
	"log/slog"
	"sync"

	"github.com/awender/crosstalk/internal/audio"
)

// Stats is a snapshot of alignment outcomes since the last Clear.
type Stats struct {
	SyncRate   float64
	Aligned    int64
	Total      int64
	BufferSize int
}

// Config controls reference retention and alignment tolerance.
type Config struct {
	SampleRate  int
	LookbackMs  int
	ToleranceMs int
}

type renderEntry struct {
	samples   []float32
	captureMs int64
}

// Synchronizer holds a time-indexed window of recent loopback audio and runs
// the echo filter against captures that align with it. Misaligned or failing
// calls pass the capture through unchanged; the capture path never blocks on
// cancellation.
type Synchronizer struct {
	cfg    Config
	filter Filter
	logger *slog.Logger

	mu      sync.Mutex
	window  []renderEntry
	aligned int64
	total   int64
}

// NewSynchronizer wires a filter behind the alignment window.
func NewSynchronizer(cfg Config, filter Filter, logger *slog.Logger) *Synchronizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.LookbackMs <= 0 {
		cfg.LookbackMs = 500
	}
	return &Synchronizer{cfg: cfg, filter: filter, logger: logger}
}

// AddRenderAudio appends loopback audio to the reference window and evicts
// entries older than the lookback horizon.
func (s *Synchronizer) AddRenderAudio(frame audio.Frame) {
	if len(frame.Samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, renderEntry{samples: frame.Samples, captureMs: frame.CaptureMs})

	horizon := frame.CaptureMs - int64(s.cfg.LookbackMs)
	cut := 0
	for cut < len(s.window) && s.window[cut].captureMs < horizon {
		cut++
	}
	if cut > 0 {
		s.window = s.window[cut:]
	}
}

// ProcessCaptureWithSync returns echo-cancelled audio when an aligned
// reference exists, and the raw capture otherwise.
func (s *Synchronizer) ProcessCaptureWithSync(frame audio.Frame) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++

	reference, ok := s.alignedReferenceLocked(frame)
	if !ok || s.filter == nil {
		return frame.Samples
	}

	cleaned := s.runFilter(frame.Samples, reference)
	if cleaned == nil || len(cleaned) != len(frame.Samples) {
		return frame.Samples
	}

	s.aligned++
	return cleaned
}

// alignedReferenceLocked finds the reference run whose start timestamp best
// matches the capture frame within tolerance.
func (s *Synchronizer) alignedReferenceLocked(frame audio.Frame) ([]float32, bool) {
	bestIdx := -1
	bestDiff := int64(s.cfg.ToleranceMs) + 1

	for i := range s.window {
		diff := frame.CaptureMs - s.window[i].captureMs
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, false
	}

	reference := make([]float32, 0, len(frame.Samples))
	for i := bestIdx; i < len(s.window) && len(reference) < len(frame.Samples); i++ {
		reference = append(reference, s.window[i].samples...)
	}
	if len(reference) > len(frame.Samples) {
		reference = reference[:len(frame.Samples)]
	}
	return reference, true
}

// runFilter isolates filter panics so the real-time path degrades instead of
// crashing.
func (s *Synchronizer) runFilter(capture []float32, reference []float32) (out []float32) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			if s.logger != nil {
				s.logger.Warn("echo filter panicked; passing capture through", "panic", r)
			}
		}
	}()
	return s.filter.Process(capture, reference)
}

// Stats returns the alignment success rate and current window length.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := 0.0
	if s.total > 0 {
		rate = 100 * float64(s.aligned) / float64(s.total)
	}
	return Stats{SyncRate: rate, Aligned: s.aligned, Total: s.total, BufferSize: len(s.window)}
}

// Clear empties the reference window and resets counters.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	s.aligned = 0
	s.total = 0
}
