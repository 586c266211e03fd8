package session

import (
	"context"
	"time"

	"github.com/awender/crosstalk/internal/aec"
	"github.com/awender/crosstalk/internal/store"
	"github.com/awender/crosstalk/internal/transcribe"
)

// Pipeline abstracts the capture/transcription machinery the controller
// sequences. The split stop surface (StopCaptures, CloseProvider, Drain)
// exists so the controller owns the stop ordering.
type Pipeline interface {
	Start(context.Context) error
	Pause()
	Resume()
	StopCaptures()
	CloseProvider(context.Context) error
	Drain(time.Duration)
	Abort()
	Reset()
	OnSegment(func(transcribe.Segment))
	SyncStats() aec.Stats
	Devices() (mic string, system string)
}

// Store persists finished sessions.
type Store interface {
	SaveSession(meta store.Meta, segments []transcribe.Segment, rendered string) error
	SaveNotes(id string, notes string) error
}

// Notes generates post-session notes from a rendered transcript.
type Notes interface {
	Generate(ctx context.Context, transcript string) (string, error)
}

// Observer watches finalized segments, e.g. the callout scheduler.
type Observer interface {
	Observe(transcribe.Segment)
	Reset()
}

// Titler probes the focused window for a meeting title. Best-effort.
type Titler interface {
	ActiveTitle(context.Context) (string, error)
}

// Indicator is the session-facing subset of desktop cue behavior.
type Indicator interface {
	RecordingStarted(context.Context)
	RecordingPaused(context.Context)
	RecordingResumed(context.Context)
	RecordingStopped(context.Context)
	RecordingCancelled(context.Context)
	ShowError(context.Context, string)
}

type noopPipeline struct{}

func (noopPipeline) Start(context.Context) error          { return nil }
func (noopPipeline) Pause()                               {}
func (noopPipeline) Resume()                              {}
func (noopPipeline) StopCaptures()                        {}
func (noopPipeline) CloseProvider(context.Context) error  { return nil }
func (noopPipeline) Drain(time.Duration)                  {}
func (noopPipeline) Abort()                               {}
func (noopPipeline) Reset()                               {}
func (noopPipeline) OnSegment(func(transcribe.Segment))   {}
func (noopPipeline) SyncStats() aec.Stats                 { return aec.Stats{} }
func (noopPipeline) Devices() (string, string)            { return "", "" }

type noopStore struct{}

func (noopStore) SaveSession(store.Meta, []transcribe.Segment, string) error { return nil }
func (noopStore) SaveNotes(string, string) error                             { return nil }

type noopObserver struct{}

func (noopObserver) Observe(transcribe.Segment) {}
func (noopObserver) Reset()                     {}

type noopIndicator struct{}

func (noopIndicator) RecordingStarted(context.Context)     {}
func (noopIndicator) RecordingPaused(context.Context)      {}
func (noopIndicator) RecordingResumed(context.Context)     {}
func (noopIndicator) RecordingStopped(context.Context)     {}
func (noopIndicator) RecordingCancelled(context.Context)   {}
func (noopIndicator) ShowError(context.Context, string)    {}
