// Package transcript renders finalized segments as conversation text and
// normalizes casing for backends that return uncased output.
package transcript

import (
	"fmt"
	"sort"
	"strings"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/transcribe"
)

// Options controls transcript rendering behavior.
type Options struct {
	// NormalizeCase applies sentence casing and pronoun-I capitalization.
	// Enabled for the batch backend, which returns uncased text.
	NormalizeCase bool
}

// Render produces the conversation view of a session's final segments,
// ordered by timestamp, one utterance per line.
func Render(segments []transcribe.Segment, opts Options) string {
	ordered := make([]transcribe.Segment, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		ordered = append(ordered, seg)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TimestampMs < ordered[j].TimestampMs
	})

	var b strings.Builder
	for _, seg := range ordered {
		text := strings.Join(strings.Fields(seg.Text), " ")
		if opts.NormalizeCase {
			text = normalizeCase(text)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", clock(seg.TimestampMs), label(seg), text)
	}
	return b.String()
}

// label names the speaker of a segment; vendor diarization ids on the
// system channel are kept as a suffix.
func label(seg transcribe.Segment) string {
	if seg.Source == audio.SourceMic {
		return "Me"
	}
	if seg.SpeakerID != "" {
		return "Them (" + seg.SpeakerID + ")"
	}
	return "Them"
}

// clock formats a session-relative millisecond offset as mm:ss, spilling
// into minutes past 99 rather than adding an hours field.
func clock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
