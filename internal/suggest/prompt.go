package suggest

import (
	"fmt"
	"strings"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/callout"
	"github.com/awender/crosstalk/internal/transcribe"
)

const suggestSystemPrompt = `You are a quiet meeting copilot. The user is in a live conversation
and the other party just asked a question the user has not answered.
Draft a short, direct answer the user could say out loud. Use the recent
conversation and any past-session excerpts for grounding. Reply with the
suggested answer only, no preamble.`

const notesSystemPrompt = `Summarize the following conversation transcript as concise meeting
notes in Markdown: a one-line summary, key points as bullets, and any
action items. Reply with the notes only.`

// speakerLabel maps a channel to the label used in prompts and transcripts.
func speakerLabel(source audio.Source) string {
	if source == audio.SourceMic {
		return "Me"
	}
	return "Them"
}

func renderWindow(window []transcribe.Segment) string {
	var b strings.Builder
	for _, seg := range window {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", speakerLabel(seg.Source), text)
	}
	return b.String()
}

func buildSuggestPrompt(question string, window []transcribe.Segment, excerpts []callout.Excerpt) string {
	var b strings.Builder
	b.WriteString(suggestSystemPrompt)
	b.WriteString("\n\n")
	if len(excerpts) > 0 {
		b.WriteString("Excerpts from past sessions:\n")
		for _, ex := range excerpts {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(ex.Text))
		}
		b.WriteString("\n")
	}
	if ctx := renderWindow(window); ctx != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question to answer: %s", strings.TrimSpace(question))
	return b.String()
}

func buildNotesPrompt(transcript string) string {
	return notesSystemPrompt + "\n\nTranscript:\n" + transcript
}
