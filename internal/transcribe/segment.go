// Package transcribe defines the dual-channel speech-to-text provider
// contract and the helpers shared by its backend variants.
package transcribe

import (
	"context"

	"github.com/awender/crosstalk/internal/audio"
)

// Word is one recognized word with vendor timing and confidence.
type Word struct {
	Text       string
	Confidence float64
	StartMs    int64
	EndMs      int64
}

// Segment is one transcript fragment from a backend.
//
// Interim segments (IsFinal=false) are provisional and superseded by later
// segments carrying the same ID; a final segment is terminal for its
// utterance and delivered exactly once.
type Segment struct {
	ID          string
	Text        string
	TimestampMs int64
	Source      audio.Source
	Confidence  float64
	IsFinal     bool
	Words       []Word
	SpeakerID   string
}

// Provider is the four-method contract every backend variant satisfies.
//
// Connect opens both logical channels concurrently and is all-or-nothing.
// SendAudio is a silent no-op unless the named channel is Open; audio is
// never queued for a down channel. Disconnect closes both channels and
// returns once both report closed. Segments is the delivery stream; it is
// closed after Disconnect completes.
type Provider interface {
	Connect(ctx context.Context) error
	SendAudio(samples []float32, source audio.Source)
	Disconnect(ctx context.Context) error
	Segments() <-chan Segment
}

// WordCount returns the number of whitespace-separated words in a segment.
func (s Segment) WordCount() int {
	count := 0
	inWord := false
	for _, r := range s.Text {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}
