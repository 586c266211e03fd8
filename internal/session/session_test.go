package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awender/crosstalk/internal/aec"
	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/callout"
	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/fsm"
	"github.com/awender/crosstalk/internal/ipc"
	"github.com/awender/crosstalk/internal/store"
	"github.com/awender/crosstalk/internal/transcribe"
)

type fakePipeline struct {
	mu       sync.Mutex
	startErr error
	startFn  func()
	calls    []string
	paused   bool
	segFn    func(transcribe.Segment)
}

func (f *fakePipeline) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakePipeline) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakePipeline) Start(context.Context) error {
	f.record("start")
	if f.startFn != nil {
		f.startFn()
	}
	return f.startErr
}
func (f *fakePipeline) Pause()  { f.record("pause"); f.paused = true }
func (f *fakePipeline) Resume() { f.record("resume"); f.paused = false }
func (f *fakePipeline) StopCaptures() {
	f.record("stop-captures")
}
func (f *fakePipeline) CloseProvider(context.Context) error {
	f.record("close-provider")
	return nil
}
func (f *fakePipeline) Drain(time.Duration) { f.record("drain") }
func (f *fakePipeline) Abort()              { f.record("abort") }
func (f *fakePipeline) Reset()              { f.record("reset") }
func (f *fakePipeline) OnSegment(fn func(transcribe.Segment)) {
	f.segFn = fn
}
func (f *fakePipeline) SyncStats() aec.Stats {
	return aec.Stats{SyncRate: 95.0, Aligned: 19, Total: 20}
}
func (f *fakePipeline) Devices() (string, string) { return "mic-dev", "monitor-dev" }

type fakeStore struct {
	mu       sync.Mutex
	saved    []store.Meta
	rendered string
	segments []transcribe.Segment
	notes    map[string]string
	saveErr  error
}

func newFakeStore() *fakeStore { return &fakeStore{notes: map[string]string{}} }

func (f *fakeStore) SaveSession(meta store.Meta, segments []transcribe.Segment, rendered string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, meta)
	f.segments = segments
	f.rendered = rendered
	return nil
}

func (f *fakeStore) SaveNotes(id string, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[id] = notes
	return nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type notesFunc func(context.Context, string) (string, error)

func (f notesFunc) Generate(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

func finalSeg(source audio.Source, ms int64, text string) transcribe.Segment {
	return transcribe.Segment{ID: "u", Text: text, TimestampMs: ms, Source: source, IsFinal: true}
}

func newTestController(pipe *fakePipeline, st *fakeStore, notes Notes) *Controller {
	cfg := config.Default()
	cfg.Notes.Enable = true
	return NewController(cfg, nil, pipe, st, notes, nil, nil, nil)
}

func TestStartStopLifecycle(t *testing.T) {
	pipe := &fakePipeline{}
	st := newFakeStore()
	c := newTestController(pipe, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	resp := c.Handle(ctx, ipc.Request{Command: "start"})
	require.True(t, resp.OK)
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	require.NotEmpty(t, c.SessionID())

	// Feed a final through the pipeline's segment path.
	pipe.segFn(finalSeg(audio.SourceMic, 1000, "hello over there"))

	resp = c.Handle(ctx, ipc.Request{Command: "stop"})
	require.True(t, resp.OK)
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)
	require.Empty(t, c.SessionID())

	require.Equal(t, 1, st.savedCount())
	require.Equal(t, "google", st.saved[0].Backend)
	require.Equal(t, 1, st.saved[0].MicSegments)
	require.InDelta(t, 95.0, st.saved[0].SyncRate, 0.01)
	require.Contains(t, st.rendered, "Me: hello over there")

	cancel()
	<-done
}

func TestStopOrderingIsStrict(t *testing.T) {
	pipe := &fakePipeline{}
	st := newFakeStore()
	c := newTestController(pipe, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	c.Handle(ctx, ipc.Request{Command: "stop"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	require.Equal(t, []string{"start", "stop-captures", "close-provider", "drain", "reset"}, pipe.callLog())
}

func TestStartFailureStaysIdle(t *testing.T) {
	pipe := &fakePipeline{startErr: errors.New("no pulse server")}
	st := newFakeStore()
	c := newTestController(pipe, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool {
		return len(pipe.callLog()) > 0 && c.State() == fsm.StateIdle
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, c.SessionID())
}

func TestPauseResume(t *testing.T) {
	pipe := &fakePipeline{}
	c := newTestController(pipe, newFakeStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)

	c.Handle(ctx, ipc.Request{Command: "pause"})
	require.Eventually(t, func() bool { return c.State() == fsm.StatePaused }, time.Second, 5*time.Millisecond)

	// Double pause is rejected at the IPC boundary.
	resp := c.Handle(ctx, ipc.Request{Command: "pause"})
	require.False(t, resp.OK)

	c.Handle(ctx, ipc.Request{Command: "resume"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
}

func TestCancelPersistsNothing(t *testing.T) {
	pipe := &fakePipeline{}
	st := newFakeStore()
	c := newTestController(pipe, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	pipe.segFn(finalSeg(audio.SourceMic, 500, "do not keep this"))

	c.Handle(ctx, ipc.Request{Command: "cancel"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	require.Zero(t, st.savedCount())
	require.Contains(t, pipe.callLog(), "abort")
}

func TestEmptySessionNotStored(t *testing.T) {
	pipe := &fakePipeline{}
	st := newFakeStore()
	c := newTestController(pipe, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	c.Handle(ctx, ipc.Request{Command: "stop"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	require.Zero(t, st.savedCount())
}

func TestNotesGeneratedAsync(t *testing.T) {
	pipe := &fakePipeline{}
	st := newFakeStore()
	c := newTestController(pipe, st, notesFunc(func(_ context.Context, transcript string) (string, error) {
		require.Contains(t, transcript, "hello")
		return "# Notes", nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	id := c.SessionID()
	pipe.segFn(finalSeg(audio.SourceMic, 100, "hello"))
	c.Handle(ctx, ipc.Request{Command: "stop"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	cancel()
	<-done // Run waits for the notes goroutine

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Equal(t, "# Notes", st.notes[id])
}

func TestNotesFailureDoesNotAffectState(t *testing.T) {
	pipe := &fakePipeline{}
	st := newFakeStore()
	c := newTestController(pipe, st, notesFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	pipe.segFn(finalSeg(audio.SourceSystem, 100, "anything"))
	c.Handle(ctx, ipc.Request{Command: "stop"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, 1, st.savedCount())
}

func TestStatusDetail(t *testing.T) {
	pipe := &fakePipeline{}
	c := newTestController(pipe, newFakeStore(), nil)

	resp := c.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Empty(t, resp.Detail)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)

	resp = c.Handle(ctx, ipc.Request{Command: "status"})
	require.Equal(t, "recording", resp.State)
	require.Equal(t, "mic-dev", resp.Detail["mic"])
	require.Equal(t, "monitor-dev", resp.Detail["system"])
	require.Equal(t, "95.0%", resp.Detail["sync_rate"])
}

func TestUnknownCommand(t *testing.T) {
	c := newTestController(&fakePipeline{}, newFakeStore(), nil)
	resp := c.Handle(context.Background(), ipc.Request{Command: "bogus"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

type countingGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGenerator) Suggest(context.Context, string, []transcribe.Segment, []callout.Excerpt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return "a suggestion", nil
}

func (g *countingGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestStopTearsDownPendingCalloutTimer(t *testing.T) {
	pipe := &fakePipeline{}
	gen := &countingGenerator{}
	sched := callout.NewScheduler(callout.Config{DebounceMs: 150}, nil, gen, func(callout.Callout) {}, nil)
	c := NewController(config.Default(), nil, pipe, newFakeStore(), nil, sched, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)

	// A question lands just before stop; its debounce timer must not
	// outlive the session.
	pipe.segFn(finalSeg(audio.SourceSystem, 100, "What is the rollout plan?"))

	c.Handle(ctx, ipc.Request{Command: "stop"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	require.Zero(t, gen.callCount())
}

func TestCancelTearsDownPendingCalloutTimer(t *testing.T) {
	pipe := &fakePipeline{}
	gen := &countingGenerator{}
	sched := callout.NewScheduler(callout.Config{DebounceMs: 150}, nil, gen, func(callout.Callout) {}, nil)
	c := NewController(config.Default(), nil, pipe, newFakeStore(), nil, sched, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	pipe.segFn(finalSeg(audio.SourceSystem, 100, "Can you share the numbers?"))

	c.Handle(ctx, ipc.Request{Command: "cancel"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	require.Zero(t, gen.callCount())
}

func TestStateStaysIdleUntilPipelineIsUp(t *testing.T) {
	pipe := &fakePipeline{}
	var c *Controller
	var stateDuringStart fsm.State
	pipe.startFn = func() {
		stateDuringStart = c.State()
	}
	c = newTestController(pipe, newFakeStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Handle(ctx, ipc.Request{Command: "start"})
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)
	require.Equal(t, fsm.StateIdle, stateDuringStart)
}

func TestSegmentCallbacksFanOut(t *testing.T) {
	pipe := &fakePipeline{}
	c := newTestController(pipe, newFakeStore(), nil)

	var got []string
	var mu sync.Mutex
	c.OnSegment(func(seg transcribe.Segment) {
		mu.Lock()
		got = append(got, seg.Text)
		mu.Unlock()
	})

	pipe.segFn(transcribe.Segment{Text: "interim", Source: audio.SourceMic})
	pipe.segFn(finalSeg(audio.SourceMic, 0, "final"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"interim", "final"}, got)
}
