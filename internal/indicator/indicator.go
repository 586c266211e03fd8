// Package indicator surfaces session state through desktop notifications and audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/awender/crosstalk/internal/config"
)

// Desktop routes session state changes to freedesktop notifications over DBus
// and plays short synthesized cues through PulseAudio.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
}

// NewDesktop creates a desktop indicator from config.
func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	return &Desktop{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// RecordingStarted signals recording start and emits the start cue.
func (d *Desktop) RecordingStarted(ctx context.Context) {
	d.playCue(cueStart)
	d.show(ctx, d.messages.recording, 300000)
}

// RecordingPaused signals that capture is held.
func (d *Desktop) RecordingPaused(ctx context.Context) {
	d.show(ctx, d.messages.paused, 300000)
}

// RecordingResumed signals that capture restarted after a pause.
func (d *Desktop) RecordingResumed(ctx context.Context) {
	d.show(ctx, d.messages.recording, 300000)
}

// RecordingStopped emits the stop cue and dismisses the persistent notification.
func (d *Desktop) RecordingStopped(ctx context.Context) {
	d.playCue(cueStop)
	d.hide(ctx)
}

// RecordingCancelled emits the cancel cue and dismisses the persistent notification.
func (d *Desktop) RecordingCancelled(ctx context.Context) {
	d.playCue(cueCancel)
	d.hide(ctx)
}

// CalloutReady surfaces a generated suggestion with an attention chime. The
// question is the notification summary and the suggestion its body.
func (d *Desktop) CalloutReady(ctx context.Context, question string, suggestion string) {
	d.playCue(cueCallout)
	if !d.cfg.Enable {
		return
	}
	if question == "" {
		question = d.messages.calloutTitle
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, question, suggestion, 15000)
	})
}

// ShowError displays a short-lived error toast.
func (d *Desktop) ShowError(ctx context.Context, text string) {
	if !d.cfg.Enable {
		return
	}
	if text == "" {
		text = d.messages.errorText
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, text, "", 2500)
	})
}

// show posts or replaces the persistent state notification.
func (d *Desktop) show(ctx context.Context, text string, timeoutMS int) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, text, "", timeoutMS)
	})
}

// hide dismisses the active notification when one is posted.
func (d *Desktop) hide(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, d.dismiss)
}

// notify sends a replaceable desktop notification and stores its ID.
func (d *Desktop) notify(ctx context.Context, summary string, body string, timeoutMS int) error {
	d.mu.Lock()
	replaceID := d.notificationID
	d.mu.Unlock()

	id, err := desktopNotify(ctx, d.appName(), replaceID, summary, body, timeoutMS)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

// dismiss closes the current notification ID when present.
func (d *Desktop) dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

func (d *Desktop) appName() string {
	name := strings.TrimSpace(d.cfg.DesktopAppName)
	if name == "" {
		return "crosstalk"
	}
	return name
}

// run executes an indicator operation with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (d *Desktop) playCue(kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	go func() {
		d.soundMu.Lock()
		defer d.soundMu.Unlock()
		if err := emitCue(kind); err != nil {
			d.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (d *Desktop) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
