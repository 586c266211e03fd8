package transcribe

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awender/crosstalk/internal/audio"
)

// Emitter owns the outbound segment channel and the shared construction
// rules: session-relative timestamps, per-source utterance id chains for
// interim-to-final sequences, and non-blocking delivery.
type Emitter struct {
	epoch time.Time
	out   chan Segment

	mu         sync.Mutex
	closed     bool
	utterances map[audio.Source]string
	dropped    int64
}

// NewEmitter creates an emitter whose timestamps are relative to epoch.
func NewEmitter(epoch time.Time, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{
		epoch:      epoch,
		out:        make(chan Segment, buffer),
		utterances: make(map[audio.Source]string),
	}
}

// Segments returns the delivery channel.
func (e *Emitter) Segments() <-chan Segment {
	return e.out
}

// RelativeMs maps a wall-clock instant to the session-relative timeline.
func (e *Emitter) RelativeMs(at time.Time) int64 {
	ms := at.Sub(e.epoch).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// EmitInterim delivers a provisional segment, opening a new utterance id for
// the source when none is active.
func (e *Emitter) EmitInterim(seg Segment) {
	e.mu.Lock()
	id, ok := e.utterances[seg.Source]
	if !ok {
		id = uuid.NewString()
		e.utterances[seg.Source] = id
	}
	e.mu.Unlock()

	seg.ID = id
	seg.IsFinal = false
	e.deliver(seg)
}

// EmitFinal delivers a terminal segment, closing the source's active
// utterance so the next interim starts a fresh chain.
func (e *Emitter) EmitFinal(seg Segment) {
	e.mu.Lock()
	id, ok := e.utterances[seg.Source]
	if ok {
		delete(e.utterances, seg.Source)
	} else {
		id = uuid.NewString()
	}
	e.mu.Unlock()

	seg.ID = id
	seg.IsFinal = true
	e.deliver(seg)
}

// deliver pushes without blocking; a stalled consumer drops segments rather
// than stalling backend receive loops. The lock is held across the send so
// Close cannot close the channel between the closed check and the send.
func (e *Emitter) deliver(seg Segment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	select {
	case e.out <- seg:
	default:
		e.dropped++
	}
}

// Dropped reports how many segments were discarded due to a full channel.
func (e *Emitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the delivery channel exactly once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.out)
}
