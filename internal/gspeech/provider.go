// Package gspeech implements the continuous-streaming transcription backend
// on Google Cloud Speech-to-Text.
package gspeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/transcribe"
)

// Config controls stream geometry and recognition behavior for both channels.
type Config struct {
	SampleRate     int
	Language       string
	Model          string
	Punctuation    bool
	Interim        bool
	Endpoint       string
	Phrases        []config.SpeechPhrase
	ConnectTimeout time.Duration
}

// Provider drives one StreamingRecognize stream per logical channel.
type Provider struct {
	cfg     Config
	logger  *slog.Logger
	gate    *transcribe.ChannelGate
	emitter *transcribe.Emitter

	mu      sync.Mutex
	client  *speech.Client
	streams map[audio.Source]speechpb.Speech_StreamingRecognizeClient
	sendMu  map[audio.Source]*sync.Mutex
	cancel  context.CancelFunc

	recvWG sync.WaitGroup
}

// New builds a disconnected provider; Connect opens the channels.
func New(cfg Config, emitter *transcribe.Emitter, logger *slog.Logger) *Provider {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en-US"
	}
	return &Provider{
		cfg:     cfg,
		logger:  logger,
		gate:    transcribe.NewChannelGate(),
		emitter: emitter,
		streams: make(map[audio.Source]speechpb.Speech_StreamingRecognizeClient),
		sendMu: map[audio.Source]*sync.Mutex{
			audio.SourceMic:    {},
			audio.SourceSystem: {},
		},
	}
}

// Segments returns the shared delivery stream.
func (p *Provider) Segments() <-chan transcribe.Segment {
	return p.emitter.Segments()
}

// Connect creates the client and opens both channel streams concurrently.
// Either channel failing tears the whole attempt down.
func (p *Provider) Connect(ctx context.Context) error {
	client, err := speech.NewClient(ctx, clientOptions(p.cfg.Endpoint)...)
	if err != nil {
		return fmt.Errorf("create speech client: %w", err)
	}

	// Streams must outlive Connect's deadline; they are torn down by
	// Disconnect through this cancel.
	streamCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.client = client
	p.cancel = cancel
	p.mu.Unlock()

	sources := []audio.Source{audio.SourceMic, audio.SourceSystem}
	errCh := make(chan error, len(sources))
	var wg sync.WaitGroup
	for _, source := range sources {
		wg.Add(1)
		go func(src audio.Source) {
			defer wg.Done()
			errCh <- p.openChannel(ctx, streamCtx, src)
		}(source)
	}
	wg.Wait()
	close(errCh)

	var openErr error
	for err := range errCh {
		if err != nil && openErr == nil {
			openErr = err
		}
	}
	if openErr != nil {
		p.teardown()
		return openErr
	}
	return nil
}

// openChannel opens one stream, sends the recognition config, and starts its
// receive loop.
func (p *Provider) openChannel(connectCtx context.Context, streamCtx context.Context, source audio.Source) error {
	p.gate.BeginConnect(source)

	stream, err := p.openStreamWithTimeout(connectCtx, streamCtx)
	if err != nil {
		p.gate.SetClosed(source)
		return fmt.Errorf("open %s recognize stream: %w", source, err)
	}

	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig(p.cfg),
				InterimResults: p.cfg.Interim,
			},
		},
	}
	if err := stream.Send(req); err != nil {
		p.gate.SetClosed(source)
		return fmt.Errorf("send %s streaming config: %w", source, err)
	}

	p.mu.Lock()
	p.streams[source] = stream
	p.mu.Unlock()

	p.gate.SetOpen(source)
	p.recvWG.Add(1)
	go p.recvLoop(source, stream)
	return nil
}

// openStreamWithTimeout bounds stream-open latency when the backend stalls.
func (p *Provider) openStreamWithTimeout(connectCtx context.Context, streamCtx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
	type result struct {
		stream speechpb.Speech_StreamingRecognizeClient
		err    error
	}

	resultCh := make(chan result, 1)
	go func() {
		stream, err := p.client.StreamingRecognize(streamCtx)
		resultCh <- result{stream: stream, err: err}
	}()

	timer := time.NewTimer(p.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-connectCtx.Done():
		return nil, connectCtx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("timed out after %s", p.cfg.ConnectTimeout)
	case r := <-resultCh:
		return r.stream, r.err
	}
}

// SendAudio forwards one chunk when the channel is Open; anything else is a
// silent no-op because stale real-time audio has no value.
func (p *Provider) SendAudio(samples []float32, source audio.Source) {
	if len(samples) == 0 || !p.gate.IsOpen(source) {
		return
	}

	p.mu.Lock()
	stream := p.streams[source]
	mu := p.sendMu[source]
	p.mu.Unlock()
	if stream == nil {
		return
	}

	mu.Lock()
	err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio.PCM16FromFloat32(samples),
		},
	})
	mu.Unlock()

	if err != nil && p.logger != nil {
		p.logger.Warn("speech chunk send failed; dropping", "source", source.String(), "error", err.Error())
	}
}

// Disconnect half-closes both streams, waits for trailing results, and closes
// the segment channel.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	streams := make(map[audio.Source]speechpb.Speech_StreamingRecognizeClient, len(p.streams))
	for src, st := range p.streams {
		streams[src] = st
	}
	p.mu.Unlock()

	var closeErr error
	for src, stream := range streams {
		p.gate.BeginClose(src)
		p.sendMu[src].Lock()
		if err := stream.CloseSend(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("close %s send: %w", src, err)
		}
		p.sendMu[src].Unlock()
	}

	done := make(chan struct{})
	go func() {
		p.recvWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if closeErr == nil {
			closeErr = ctx.Err()
		}
	}

	p.teardown()
	return closeErr
}

// teardown releases the client and finishes the delivery stream.
func (p *Provider) teardown() {
	p.mu.Lock()
	client := p.client
	cancel := p.cancel
	p.client = nil
	p.cancel = nil
	p.streams = make(map[audio.Source]speechpb.Speech_StreamingRecognizeClient)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		_ = client.Close()
	}
	p.gate.SetClosed(audio.SourceMic)
	p.gate.SetClosed(audio.SourceSystem)
	p.emitter.Close()
}

// recvLoop turns streaming responses into segments until EOF or error.
func (p *Provider) recvLoop(source audio.Source, stream speechpb.Speech_StreamingRecognizeClient) {
	defer p.recvWG.Done()

	for {
		resp, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) && p.logger != nil {
				p.logger.Warn("speech receive loop ended", "source", source.String(), "error", err.Error())
			}
			return
		}
		for _, result := range resp.GetResults() {
			p.emitResult(source, result)
		}
	}
}

// emitResult maps one vendor result onto the shared segment shape.
func (p *Provider) emitResult(source audio.Source, result *speechpb.StreamingRecognitionResult) {
	alternatives := result.GetAlternatives()
	if len(alternatives) == 0 {
		return
	}
	best := alternatives[0]
	text := strings.TrimSpace(best.GetTranscript())
	if text == "" {
		return
	}

	seg := transcribe.Segment{
		Text:        text,
		TimestampMs: p.emitter.RelativeMs(time.Now()),
		Source:      source,
		Confidence:  float64(best.GetConfidence()),
		Words:       wordsFromAlternative(best),
		SpeakerID:   speakerID(best),
	}

	if result.GetIsFinal() {
		p.emitter.EmitFinal(seg)
		return
	}
	p.emitter.EmitInterim(seg)
}

// wordsFromAlternative converts vendor word info into segment words.
func wordsFromAlternative(alt *speechpb.SpeechRecognitionAlternative) []transcribe.Word {
	vendorWords := alt.GetWords()
	if len(vendorWords) == 0 {
		return nil
	}
	words := make([]transcribe.Word, 0, len(vendorWords))
	for _, w := range vendorWords {
		words = append(words, transcribe.Word{
			Text:       w.GetWord(),
			Confidence: float64(w.GetConfidence()),
			StartMs:    w.GetStartTime().AsDuration().Milliseconds(),
			EndMs:      w.GetEndTime().AsDuration().Milliseconds(),
		})
	}
	return words
}

// speakerID passes through the vendor speaker tag when diarization labels
// arrive with word info.
func speakerID(alt *speechpb.SpeechRecognitionAlternative) string {
	for _, w := range alt.GetWords() {
		if tag := w.GetSpeakerTag(); tag != 0 {
			return fmt.Sprintf("speaker-%d", tag)
		}
	}
	return ""
}

// recognitionConfig builds the per-stream vendor recognition settings.
func recognitionConfig(cfg Config) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(cfg.SampleRate),
		LanguageCode:               cfg.Language,
		EnableAutomaticPunctuation: cfg.Punctuation,
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
		AudioChannelCount:          1,
		Model:                      strings.TrimSpace(cfg.Model),
	}
	for _, phrase := range cfg.Phrases {
		text := strings.TrimSpace(phrase.Phrase)
		if text == "" {
			continue
		}
		rc.SpeechContexts = append(rc.SpeechContexts, &speechpb.SpeechContext{
			Phrases: []string{text},
			Boost:   phrase.Boost,
		})
	}
	return rc
}

// clientOptions supports self-hosted STT gateways via a custom endpoint with
// authentication bypassed.
func clientOptions(endpoint string) []option.ClientOption {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(endpoint),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}
