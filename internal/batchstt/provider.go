// Package batchstt implements the windowed HTTP transcription backend: audio
// accumulates per channel and each fixed window is posted as one WAV request.
// The backend has no interim capability; it synthesizes final segments only.
package batchstt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/transcribe"
)

// Config controls the endpoint and window geometry.
type Config struct {
	URL        string
	Language   string
	SampleRate int
	WindowMs   int

	// HTTPClient is swappable for tests.
	HTTPClient *http.Client
}

type window struct {
	samples  []float32
	startMs  int64
	hasStart bool
}

// Provider satisfies the dual-channel contract over per-window POST requests.
type Provider struct {
	cfg     Config
	logger  *slog.Logger
	gate    *transcribe.ChannelGate
	emitter *transcribe.Emitter

	mu      sync.Mutex
	windows map[audio.Source]*window

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a disconnected provider; Connect probes the endpoint.
func New(cfg Config, emitter *transcribe.Emitter, logger *slog.Logger) *Provider {
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = 3000
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Duration(2*cfg.WindowMs) * time.Millisecond}
	}
	return &Provider{
		cfg:     cfg,
		logger:  logger,
		gate:    transcribe.NewChannelGate(),
		emitter: emitter,
		windows: map[audio.Source]*window{
			audio.SourceMic:    {},
			audio.SourceSystem: {},
		},
	}
}

// Segments returns the shared delivery stream.
func (p *Provider) Segments() <-chan transcribe.Segment {
	return p.emitter.Segments()
}

// Connect probes the endpoint so a dead server fails the whole start, then
// opens both channels and begins the window ticker.
func (p *Provider) Connect(ctx context.Context) error {
	p.gate.BeginConnect(audio.SourceMic)
	p.gate.BeginConnect(audio.SourceSystem)

	if err := p.probe(ctx); err != nil {
		p.gate.SetClosed(audio.SourceMic)
		p.gate.SetClosed(audio.SourceSystem)
		p.emitter.Close()
		return fmt.Errorf("probe batch endpoint: %w", err)
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.gate.SetOpen(audio.SourceMic)
	p.gate.SetOpen(audio.SourceSystem)
	go p.windowLoop()
	return nil
}

// probe checks endpoint reachability without sending audio.
func (p *Provider) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// SendAudio appends samples to the channel's current window when Open.
func (p *Provider) SendAudio(samples []float32, source audio.Source) {
	if len(samples) == 0 || !p.gate.IsOpen(source) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	win := p.windows[source]
	if !win.hasStart {
		win.startMs = p.emitter.RelativeMs(time.Now())
		win.hasStart = true
	}
	win.samples = append(win.samples, samples...)
}

// windowLoop fires one transcription request per elapsed window per channel.
func (p *Provider) windowLoop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(time.Duration(p.cfg.WindowMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			for _, source := range []audio.Source{audio.SourceMic, audio.SourceSystem} {
				p.flushWindow(context.Background(), source)
			}
		}
	}
}

// flushWindow posts the accumulated window, if any, and emits its final
// segment. One request per window, no retry: failures are logged and the
// audio dropped.
func (p *Provider) flushWindow(ctx context.Context, source audio.Source) {
	p.mu.Lock()
	win := p.windows[source]
	samples := win.samples
	startMs := win.startMs
	hasAudio := win.hasStart && len(samples) > 0
	p.windows[source] = &window{}
	p.mu.Unlock()

	if !hasAudio {
		return
	}

	text, err := p.transcribeWindow(ctx, source, samples)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("batch window transcription failed; dropping",
				"source", source.String(), "samples", len(samples), "error", err.Error())
		}
		return
	}
	if text == "" {
		return
	}

	p.emitter.EmitFinal(transcribe.Segment{
		Text:        text,
		TimestampMs: startMs,
		Source:      source,
		Confidence:  1.0,
	})
}

// transcribeWindow encodes one window as WAV and posts it multipart.
func (p *Provider) transcribeWindow(ctx context.Context, source audio.Source, samples []float32) (string, error) {
	wav := buildWAV(audio.PCM16FromFloat32(samples), p.cfg.SampleRate, 1)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fmt.Sprintf("%s-window.wav", source))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	_ = writer.WriteField("channel", source.String())
	if lang := strings.TrimSpace(p.cfg.Language); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(payload.Text), nil
}

// Disconnect flushes the partial windows once, stops the ticker, and closes
// the delivery stream.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.gate.BeginClose(audio.SourceMic)
	p.gate.BeginClose(audio.SourceSystem)

	if p.stopCh != nil {
		close(p.stopCh)
		select {
		case <-p.doneCh:
		case <-ctx.Done():
		}
		p.stopCh = nil
	}

	for _, source := range []audio.Source{audio.SourceMic, audio.SourceSystem} {
		p.flushWindow(ctx, source)
	}

	p.gate.SetClosed(audio.SourceMic)
	p.gate.SetClosed(audio.SourceSystem)
	p.emitter.Close()
	return nil
}
