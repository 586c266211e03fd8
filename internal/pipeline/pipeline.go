// Package pipeline wires dual-source capture, echo cancellation, chunk
// buffering, and the transcription backend into one session-scoped dataflow.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awender/crosstalk/internal/aec"
	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/metrics"
	"github.com/awender/crosstalk/internal/transcribe"
)

// Pipeline owns the per-session machinery between the Pulse sources and
// the segment callback. One instance serves one recording session.
type Pipeline struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	started    bool
	epoch      time.Time
	micSel     audio.Selection
	sysSel     audio.Selection
	micCapture *audio.Capture
	sysCapture *audio.Capture
	provider   transcribe.Provider
	sync       *aec.Synchronizer

	paused    atomic.Bool
	micLevel  atomic.Uint64
	sysLevel  atomic.Uint64
	onSegment func(transcribe.Segment)

	forwardWG sync.WaitGroup
	deliverWG sync.WaitGroup
}

// New builds an idle pipeline. m may be nil.
func New(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger, metrics: m}
}

// OnSegment registers the single segment callback. Must be set before Start;
// all backend segments are dispatched from one delivery goroutine.
func (p *Pipeline) OnSegment(fn func(transcribe.Segment)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSegment = fn
}

// Start resolves both sources, connects the backend, and starts the capture
// and forward loops. Any failure unwinds completely.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	micSel, err := audio.SelectMic(ctx, p.cfg.Audio.Mic, p.cfg.Audio.MicFallback)
	if err != nil {
		return fmt.Errorf("select microphone: %w", err)
	}
	if micSel.Warning != "" {
		p.logger.Warn(micSel.Warning)
	}
	sysSel, err := audio.SelectMonitor(ctx, p.cfg.Audio.System)
	if err != nil {
		return fmt.Errorf("select system monitor: %w", err)
	}
	if sysSel.Warning != "" {
		p.logger.Warn(sysSel.Warning)
	}

	epoch := time.Now()
	emitter := transcribe.NewEmitter(epoch, 0)
	provider, err := newProvider(p.cfg, emitter, p.logger)
	if err != nil {
		return err
	}

	connectStart := time.Now()
	if err := provider.Connect(ctx); err != nil {
		return fmt.Errorf("connect transcription backend: %w", err)
	}
	p.metrics.RecordConnect(time.Since(connectStart).Seconds())

	params := audio.CaptureParams{
		SampleRate: p.cfg.Audio.SampleRate,
		FrameMs:    p.cfg.Audio.FrameMs,
	}
	params.MediaName = "crosstalk mic"
	micCapture, err := audio.StartCapture(ctx, micSel.Device, params)
	if err != nil {
		_ = provider.Disconnect(context.Background())
		return fmt.Errorf("start mic capture: %w", err)
	}
	params.MediaName = "crosstalk loopback"
	sysCapture, err := audio.StartCapture(ctx, sysSel.Device, params)
	if err != nil {
		_ = micCapture.Stop()
		_ = provider.Disconnect(context.Background())
		return fmt.Errorf("start loopback capture: %w", err)
	}

	var synchronizer *aec.Synchronizer
	if p.cfg.AEC.Enable {
		filter := aec.NewNLMS(p.cfg.AEC.FilterTaps, p.cfg.AEC.StepSize)
		synchronizer = aec.NewSynchronizer(aec.Config{
			SampleRate:  p.cfg.Audio.SampleRate,
			LookbackMs:  p.cfg.AEC.LookbackMs,
			ToleranceMs: p.cfg.AEC.ToleranceMs,
		}, filter, p.logger)
	}

	p.epoch = epoch
	p.micSel = micSel
	p.sysSel = sysSel
	p.micCapture = micCapture
	p.sysCapture = sysCapture
	p.provider = provider
	p.sync = synchronizer
	p.paused.Store(false)
	p.started = true

	p.forwardWG.Add(2)
	go p.forwardMic(micCapture)
	go p.forwardSystem(sysCapture)
	p.deliverWG.Add(1)
	go p.deliverLoop(provider, p.onSegment)

	p.logger.Info("pipeline started",
		"mic", micSel.Device.ID,
		"system", sysSel.Device.ID,
		"backend", p.cfg.Transcription.Backend,
		"aec", p.cfg.AEC.Enable)
	return nil
}

// Pause gates chunk forwarding. Capture and the backend connection remain
// open; buffered audio is dropped so the buffers stay bounded.
func (p *Pipeline) Pause() {
	p.paused.Store(true)
}

// Resume reopens chunk forwarding.
func (p *Pipeline) Resume() {
	p.paused.Store(false)
}

// Paused reports the forwarding gate.
func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// StopCaptures halts both Pulse streams and waits for the forward loops to
// drain. The backend connection stays open for trailing results.
func (p *Pipeline) StopCaptures() {
	p.mu.Lock()
	micCapture := p.micCapture
	sysCapture := p.sysCapture
	p.mu.Unlock()

	if micCapture != nil {
		_ = micCapture.Stop()
	}
	if sysCapture != nil {
		_ = sysCapture.Stop()
	}
	p.forwardWG.Wait()

	if p.cfg.Debug.EnableAudioDump {
		p.dumpCaptureAudio(micCapture, sysCapture)
	}
}

// CloseProvider disconnects the backend; it resolves when both channels
// report closed or ctx expires.
func (p *Pipeline) CloseProvider(ctx context.Context) error {
	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()
	if provider == nil {
		return nil
	}
	return provider.Disconnect(ctx)
}

// Drain waits up to grace for the delivery loop to finish dispatching
// trailing segments after the backend closed its stream.
func (p *Pipeline) Drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		p.deliverWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		p.logger.Warn("segment drain grace elapsed", "grace_ms", grace.Milliseconds())
	}
}

// Reset clears per-session state so the pipeline can be started again.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.micCapture = nil
	p.sysCapture = nil
	p.provider = nil
	p.sync = nil
	p.micLevel.Store(0)
	p.sysLevel.Store(0)
}

// Abort tears everything down without waiting for trailing segments.
func (p *Pipeline) Abort() {
	p.StopCaptures()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.CloseProvider(ctx); err != nil {
		p.logger.Warn("abort disconnect failed", "error", err)
	}
	p.mu.Lock()
	if p.sync != nil {
		p.sync.Clear()
	}
	p.mu.Unlock()
	p.Reset()
}

// SyncStats reports echo-alignment statistics; zero when AEC is disabled.
func (p *Pipeline) SyncStats() aec.Stats {
	p.mu.Lock()
	synchronizer := p.sync
	p.mu.Unlock()
	if synchronizer == nil {
		return aec.Stats{}
	}
	return synchronizer.Stats()
}

// Epoch returns the session start instant segment timestamps are relative to.
func (p *Pipeline) Epoch() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// Devices describes the selected sources for status output.
func (p *Pipeline) Devices() (mic string, system string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return describeDevice(p.micSel.Device), describeDevice(p.sysSel.Device)
}

// Levels returns the most recent RMS level per source for UI metering.
func (p *Pipeline) Levels() (mic float64, system float64) {
	return math.Float64frombits(p.micLevel.Load()), math.Float64frombits(p.sysLevel.Load())
}

// forwardMic runs capture chunk -> float32 -> echo filter -> buffer -> send.
func (p *Pipeline) forwardMic(capture *audio.Capture) {
	defer p.forwardWG.Done()

	buf := audio.NewSampleBuffer(p.cfg.Audio.SampleRate, p.cfg.Audio.MinChunkMs)
	var lastAligned int64

	for chunk := range capture.Chunks() {
		samples := audio.Float32FromPCM16(chunk.PCM)
		if len(samples) == 0 {
			continue
		}
		p.micLevel.Store(math.Float64bits(audio.Level(samples)))

		if p.sync != nil {
			samples = p.sync.ProcessCaptureWithSync(audio.Frame{
				Source:    audio.SourceMic,
				Samples:   samples,
				CaptureMs: chunk.CaptureMs,
			})
			stats := p.sync.Stats()
			p.metrics.RecordSync(stats.SyncRate, stats.Aligned == lastAligned)
			lastAligned = stats.Aligned
		}

		if p.paused.Load() {
			buf.Clear()
			continue
		}
		buf.Push(samples, chunk.CaptureMs)
		if buf.HasEnough() {
			p.flush(buf, audio.SourceMic)
		}
	}
	// Residual audio below the threshold still goes out at stream end.
	p.flush(buf, audio.SourceMic)
}

// forwardSystem mirrors forwardMic and additionally feeds the echo
// reference window before buffering.
func (p *Pipeline) forwardSystem(capture *audio.Capture) {
	defer p.forwardWG.Done()

	buf := audio.NewSampleBuffer(p.cfg.Audio.SampleRate, p.cfg.Audio.MinChunkMs)

	for chunk := range capture.Chunks() {
		samples := audio.Float32FromPCM16(chunk.PCM)
		if len(samples) == 0 {
			continue
		}
		p.sysLevel.Store(math.Float64bits(audio.Level(samples)))

		if p.sync != nil {
			p.sync.AddRenderAudio(audio.Frame{
				Source:    audio.SourceSystem,
				Samples:   samples,
				CaptureMs: chunk.CaptureMs,
			})
		}

		if p.paused.Load() {
			buf.Clear()
			continue
		}
		buf.Push(samples, chunk.CaptureMs)
		if buf.HasEnough() {
			p.flush(buf, audio.SourceSystem)
		}
	}
	p.flush(buf, audio.SourceSystem)
}

// flush hands one accumulated chunk to the backend. SendAudio drops
// silently when the channel is not open, so this never blocks capture.
func (p *Pipeline) flush(buf *audio.SampleBuffer, source audio.Source) {
	if buf.Len() == 0 {
		return
	}
	samples, _ := buf.Flush()
	p.metrics.RecordChunk(source, len(samples))

	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()
	if provider == nil {
		p.metrics.RecordSendFailure(source)
		return
	}
	provider.SendAudio(samples, source)
}

// deliverLoop is the single dispatch point for backend segments.
func (p *Pipeline) deliverLoop(provider transcribe.Provider, onSegment func(transcribe.Segment)) {
	defer p.deliverWG.Done()
	for seg := range provider.Segments() {
		p.metrics.RecordSegment(seg.Source, seg.IsFinal)
		if onSegment != nil {
			onSegment(seg)
		}
	}
}

// describeDevice formats device metadata for logs and status output.
func describeDevice(device audio.Device) string {
	if device.Description == "" {
		return device.ID
	}
	if device.ID == "" {
		return device.Description
	}
	return fmt.Sprintf("%s (%s)", device.Description, device.ID)
}
