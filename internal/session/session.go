// Package session coordinates the recording lifecycle, segment collection,
// and the ordered stop flow.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/fsm"
	"github.com/awender/crosstalk/internal/ipc"
	"github.com/awender/crosstalk/internal/store"
	"github.com/awender/crosstalk/internal/transcribe"
	"github.com/awender/crosstalk/internal/transcript"
)

type action int

const (
	actionStart action = iota + 1
	actionPause
	actionResume
	actionStop
	actionCancel
)

const (
	// drainGrace is how long stop waits for trailing segments after the
	// backend closed its stream.
	drainGrace = 1500 * time.Millisecond

	disconnectTimeout = 10 * time.Second
	titleTimeout      = time.Second
)

// Controller orchestrates one recording session at a time: state machine,
// segment collection, and the strict stop ordering (captures, then backend,
// then grace, then persist).
type Controller struct {
	cfg       config.Config
	logger    *slog.Logger
	pipeline  Pipeline
	store     Store
	notes     Notes
	observer  Observer
	titler    Titler
	indicator Indicator

	mu        sync.RWMutex
	state     fsm.State
	sessionID string
	title     string
	startedAt time.Time
	finals    []transcribe.Segment

	segMu      sync.Mutex
	onSegment  []func(transcribe.Segment)
	actions    chan action
	notesWG    sync.WaitGroup
}

// NewController wires a controller with safe fallbacks for absent
// collaborators.
func NewController(
	cfg config.Config,
	logger *slog.Logger,
	pipeline Pipeline,
	sessions Store,
	notes Notes,
	observer Observer,
	titler Titler,
	indicator Indicator,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if pipeline == nil {
		pipeline = noopPipeline{}
	}
	if sessions == nil {
		sessions = noopStore{}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}

	c := &Controller{
		cfg:       cfg,
		logger:    logger,
		pipeline:  pipeline,
		store:     sessions,
		notes:     notes,
		observer:  observer,
		titler:    titler,
		indicator: indicator,
		state:     fsm.StateIdle,
		actions:   make(chan action, 4),
	}
	pipeline.OnSegment(c.handleSegment)
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID returns the active session id, empty when idle.
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// OnSegment registers a callback invoked for every segment, in delivery
// order. Register before the session starts.
func (c *Controller) OnSegment(fn func(transcribe.Segment)) {
	c.segMu.Lock()
	defer c.segMu.Unlock()
	c.onSegment = append(c.onSegment, fn)
}

// Run processes lifecycle actions until ctx is cancelled. An active session
// is aborted on exit.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if state := c.State(); state == fsm.StateRecording || state == fsm.StatePaused {
				c.cancel()
			}
			c.notesWG.Wait()
			return
		case a := <-c.actions:
			switch a {
			case actionStart:
				c.start(ctx)
			case actionPause:
				c.pause()
			case actionResume:
				c.resume()
			case actionStop:
				c.stop()
			case actionCancel:
				c.cancel()
			}
		}
	}
}

// transition applies one state machine event.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// start begins a new session. Any failure unwinds completely and the
// controller stays Idle. The state flips to Recording only once the pipeline
// is fully up, so status never reports a half-started session.
func (c *Controller) start(ctx context.Context) {
	if _, err := fsm.Transition(c.State(), fsm.EventStart); err != nil {
		c.logger.Warn("start rejected", "error", err)
		return
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.startedAt = time.Now()
	c.finals = nil
	c.title = c.defaultTitle()
	c.mu.Unlock()

	c.observer.Reset()

	if err := c.pipeline.Start(ctx); err != nil {
		c.logger.Error("session start failed", "session", id, "error", err)
		c.indicator.ShowError(ctx, "Unable to start recording")
		return
	}

	if err := c.transition(fsm.EventStart); err != nil {
		c.logger.Warn("start rejected", "error", err)
		c.pipeline.Abort()
		return
	}

	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()

	c.probeTitle(ctx)
	c.indicator.RecordingStarted(ctx)
	c.logger.Info("session started", "session", id)
}

func (c *Controller) pause() {
	if err := c.transition(fsm.EventPause); err != nil {
		c.logger.Warn("pause rejected", "error", err)
		return
	}
	c.pipeline.Pause()
	c.indicator.RecordingPaused(context.Background())
	c.logger.Info("session paused", "session", c.SessionID())
}

func (c *Controller) resume() {
	if err := c.transition(fsm.EventResume); err != nil {
		c.logger.Warn("resume rejected", "error", err)
		return
	}
	c.pipeline.Resume()
	c.indicator.RecordingResumed(context.Background())
	c.logger.Info("session resumed", "session", c.SessionID())
}

// stop runs the ordered shutdown: captures first, then the backend, then a
// trailing-segment grace wait, then persistence. Errors along the way are
// logged; the session always completes back to Idle.
func (c *Controller) stop() {
	if err := c.transition(fsm.EventStop); err != nil {
		c.logger.Warn("stop rejected", "error", err)
		return
	}
	id := c.SessionID()
	c.indicator.RecordingStopped(context.Background())

	// Stop is the cancellation point for any pending callout timer; nothing
	// may fire once the session is over.
	c.observer.Reset()

	c.pipeline.StopCaptures()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	if err := c.pipeline.CloseProvider(disconnectCtx); err != nil {
		c.logger.Warn("backend disconnect failed", "session", id, "error", err)
	}
	cancel()

	c.pipeline.Drain(drainGrace)

	c.persist(id)

	c.pipeline.Reset()
	if err := c.transition(fsm.EventComplete); err != nil {
		c.logger.Warn("complete transition failed", "error", err)
	}
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	c.logger.Info("session stopped", "session", id)
}

// cancel aborts without persisting anything.
func (c *Controller) cancel() {
	if err := c.transition(fsm.EventCancel); err != nil {
		c.logger.Warn("cancel rejected", "error", err)
		return
	}
	id := c.SessionID()
	c.observer.Reset()
	c.pipeline.Abort()
	c.mu.Lock()
	c.finals = nil
	c.sessionID = ""
	c.mu.Unlock()
	c.indicator.RecordingCancelled(context.Background())
	c.logger.Info("session cancelled", "session", id)
}

// persist renders and stores the session, then kicks async note generation.
// Sessions with no finalized speech are not stored.
func (c *Controller) persist(id string) {
	c.mu.Lock()
	finals := make([]transcribe.Segment, len(c.finals))
	copy(finals, c.finals)
	title := c.title
	startedAt := c.startedAt
	c.mu.Unlock()

	if len(finals) == 0 {
		c.logger.Info("no speech finalized; session not stored", "session", id)
		return
	}

	rendered := transcript.Render(finals, transcript.Options{
		NormalizeCase: c.cfg.Transcription.Backend == "batch",
	})

	var micSegments, systemSegments int
	for _, seg := range finals {
		if seg.Source.String() == "mic" {
			micSegments++
		} else {
			systemSegments++
		}
	}

	meta := store.Meta{
		ID:             id,
		Title:          title,
		StartedAt:      startedAt,
		EndedAt:        time.Now(),
		Backend:        c.cfg.Transcription.Backend,
		MicSegments:    micSegments,
		SystemSegments: systemSegments,
		SyncRate:       c.pipeline.SyncStats().SyncRate,
	}
	if err := c.store.SaveSession(meta, finals, rendered); err != nil {
		c.logger.Error("persist failed", "session", id, "error", err)
		return
	}

	if c.notes == nil || !c.cfg.Notes.Enable {
		return
	}
	c.notesWG.Add(1)
	go func() {
		defer c.notesWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		notes, err := c.notes.Generate(ctx, rendered)
		if err != nil {
			c.logger.Warn("notes generation failed", "session", id, "error", err)
			return
		}
		if err := c.store.SaveNotes(id, notes); err != nil {
			c.logger.Warn("notes save failed", "session", id, "error", err)
		}
	}()
}

// handleSegment is the single dispatch point for backend segments: final
// collection, the callout observer, then registered callbacks.
func (c *Controller) handleSegment(seg transcribe.Segment) {
	if seg.IsFinal {
		c.mu.Lock()
		c.finals = append(c.finals, seg)
		c.mu.Unlock()
	}
	c.observer.Observe(seg)

	c.segMu.Lock()
	callbacks := c.onSegment
	c.segMu.Unlock()
	for _, fn := range callbacks {
		fn(seg)
	}
}

func (c *Controller) defaultTitle() string {
	return "Conversation " + time.Now().Format("2006-01-02 15:04")
}

// probeTitle asks the window manager for the focused window title to use as
// the meeting title. Never fatal.
func (c *Controller) probeTitle(ctx context.Context) {
	if c.titler == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	title, err := c.titler.ActiveTitle(probeCtx)
	if err != nil || strings.TrimSpace(title) == "" {
		return
	}
	c.mu.Lock()
	c.title = strings.TrimSpace(title)
	c.mu.Unlock()
}

// Handle serves IPC commands against the running controller.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		return c.statusResponse()
	case "start":
		return c.request(actionStart, fsm.EventStart, "start requested")
	case "pause":
		return c.request(actionPause, fsm.EventPause, "pause requested")
	case "resume":
		return c.request(actionResume, fsm.EventResume, "resume requested")
	case "stop":
		return c.request(actionStop, fsm.EventStop, "stop requested")
	case "cancel":
		return c.request(actionCancel, fsm.EventCancel, "cancel requested")
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// request validates the event against the current state and enqueues it.
func (c *Controller) request(a action, event fsm.Event, message string) ipc.Response {
	state := c.State()
	if _, err := fsm.Transition(state, event); err != nil {
		return ipc.Response{OK: false, State: string(state), Error: err.Error()}
	}
	select {
	case c.actions <- a:
		return ipc.Response{OK: true, State: string(state), Message: message}
	default:
		return ipc.Response{OK: false, State: string(state), Error: "action queue full"}
	}
}

func (c *Controller) statusResponse() ipc.Response {
	state := c.State()
	detail := map[string]string{}
	if id := c.SessionID(); id != "" {
		detail["session"] = id
		mic, system := c.pipeline.Devices()
		if mic != "" {
			detail["mic"] = mic
		}
		if system != "" {
			detail["system"] = system
		}
		if stats := c.pipeline.SyncStats(); stats.Total > 0 {
			detail["sync_rate"] = fmt.Sprintf("%.1f%%", stats.SyncRate)
		}
	}
	return ipc.Response{OK: true, State: string(state), Message: "status", Detail: detail}
}
