// Package callout debounces questions heard on the system channel and
// produces answer suggestions once the user declines to answer themselves.
package callout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/transcribe"
)

// Excerpt is a fragment of a past session surfaced for grounding.
type Excerpt struct {
	SessionID string
	Text      string
}

// Retriever finds excerpts from prior sessions relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Excerpt, error)
}

// Generator produces an answer suggestion for a question given context.
type Generator interface {
	Suggest(ctx context.Context, question string, window []transcribe.Segment, excerpts []Excerpt) (string, error)
}

// Callout is a generated suggestion delivered to the UI layer.
type Callout struct {
	Question    string
	Suggestion  string
	GeneratedAt time.Time
}

// Config controls debounce behavior.
type Config struct {
	DebounceMs      int
	WindowSize      int
	MinCancelWords  int
	MaxExcerpts     int
	RetrieveTimeout time.Duration
	GenerateTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.DebounceMs <= 0 {
		c.DebounceMs = 5000
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.MinCancelWords <= 0 {
		c.MinCancelWords = 3
	}
	if c.MaxExcerpts <= 0 {
		c.MaxExcerpts = 3
	}
	if c.RetrieveTimeout <= 0 {
		c.RetrieveTimeout = 2 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 15 * time.Second
	}
}

// Stats reports scheduler activity counters.
type Stats struct {
	Scheduled int64
	Cancelled int64
	Fired     int64
	Failed    int64
}

// Outcome labels passed to the hook registered with OnOutcome. They mirror
// the Stats counters one to one.
const (
	OutcomeScheduled = "scheduled"
	OutcomeCancelled = "cancelled"
	OutcomeFired     = "fired"
	OutcomeFailed    = "failed"
)

// Scheduler watches finalized segments and schedules suggestion generation
// for questions the other party asks. A single timer slot is kept: a newer
// question replaces a pending one, and a substantive reply from the user
// cancels it.
type Scheduler struct {
	cfg       Config
	logger    *slog.Logger
	retriever Retriever
	generator Generator
	onCallout func(Callout)
	onOutcome func(outcome string)

	mu         sync.Mutex
	window     []transcribe.Segment
	timer      *time.Timer
	pending    string
	generation int64
	stats      Stats
}

// NewScheduler builds a Scheduler. retriever may be nil; generator and
// onCallout must be set for callouts to be produced.
func NewScheduler(cfg Config, retriever Retriever, generator Generator, onCallout func(Callout), logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		logger:    logger,
		retriever: retriever,
		generator: generator,
		onCallout: onCallout,
	}
}

// OnOutcome registers a hook invoked with an Outcome* label every time a
// callout is scheduled, cancelled, fired, or fails. The hook may run with
// the scheduler lock held and must not block. Register before observing.
func (s *Scheduler) OnOutcome(fn func(outcome string)) {
	s.onOutcome = fn
}

func (s *Scheduler) report(outcome string) {
	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}
}

// Observe feeds one segment into the scheduler. Interim segments are ignored.
func (s *Scheduler) Observe(seg transcribe.Segment) {
	if !seg.IsFinal {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, seg)
	if len(s.window) > s.cfg.WindowSize {
		s.window = s.window[len(s.window)-s.cfg.WindowSize:]
	}

	switch seg.Source {
	case audio.SourceSystem:
		if IsQuestion(seg.Text) {
			s.scheduleLocked(seg.Text)
		}
	case audio.SourceMic:
		if s.timer != nil && seg.WordCount() >= s.cfg.MinCancelWords {
			s.cancelLocked("answered by user")
		}
	}
}

// Reset drops the window and any pending timer. Called at session start,
// stop, and cancel; after a stop nothing may fire.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	if s.timer != nil {
		s.cancelLocked("session reset")
	}
}

// Stats returns a snapshot of the activity counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// scheduleLocked installs a debounce timer for question, replacing any
// pending one. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(question string) {
	if s.timer != nil {
		s.timer.Stop()
		s.stats.Cancelled++
		s.report(OutcomeCancelled)
		s.logger.Debug("callout superseded", "question", s.pending)
	}
	s.generation++
	gen := s.generation
	s.pending = question
	s.stats.Scheduled++
	s.report(OutcomeScheduled)
	s.timer = time.AfterFunc(time.Duration(s.cfg.DebounceMs)*time.Millisecond, func() {
		s.fire(gen)
	})
	s.logger.Debug("callout scheduled", "question", question, "debounce_ms", s.cfg.DebounceMs)
}

// cancelLocked stops the pending timer. Caller holds s.mu.
func (s *Scheduler) cancelLocked(reason string) {
	s.timer.Stop()
	s.timer = nil
	s.generation++ // invalidate an already-fired callback racing for the lock
	s.stats.Cancelled++
	s.report(OutcomeCancelled)
	s.logger.Debug("callout cancelled", "question", s.pending, "reason", reason)
	s.pending = ""
}

// fire runs when the debounce timer elapses. The generation token guards
// against a timer callback that raced with a cancel or replacement.
func (s *Scheduler) fire(gen int64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	question := s.pending
	window := make([]transcribe.Segment, len(s.window))
	copy(window, s.window)
	s.timer = nil
	s.pending = ""
	s.stats.Fired++
	s.report(OutcomeFired)
	s.mu.Unlock()

	if s.generator == nil || s.onCallout == nil {
		return
	}

	var excerpts []Excerpt
	if s.retriever != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RetrieveTimeout)
		found, err := s.retriever.Retrieve(ctx, question, s.cfg.MaxExcerpts)
		cancel()
		if err != nil {
			s.logger.Warn("callout retrieval failed", "error", err)
		} else {
			excerpts = found
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GenerateTimeout)
	defer cancel()
	suggestion, err := s.generator.Suggest(ctx, question, window, excerpts)
	if err != nil {
		s.mu.Lock()
		s.stats.Failed++
		s.report(OutcomeFailed)
		s.mu.Unlock()
		s.logger.Warn("callout generation failed", "question", question, "error", err)
		return
	}

	s.onCallout(Callout{Question: question, Suggestion: suggestion, GeneratedAt: time.Now()})
}
