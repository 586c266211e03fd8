// Package wsstream implements the hosted realtime transcription backend over
// a websocket streaming API with short-lived connection tokens.
package wsstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/transcribe"
)

const (
	writeWait      = 10 * time.Second
	tokenExpirySec = 60
)

// Config controls endpoints, credentials, and stream geometry.
type Config struct {
	URL            string
	TokenURL       string
	APIKey         string
	SampleRate     int
	FormatTurns    bool
	ConnectTimeout time.Duration

	// HTTPClient and Dialer are swappable for tests.
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Provider holds one websocket connection per logical channel.
type Provider struct {
	cfg     Config
	logger  *slog.Logger
	gate    *transcribe.ChannelGate
	emitter *transcribe.Emitter

	mu       sync.Mutex
	conns    map[audio.Source]*websocket.Conn
	writeMu  map[audio.Source]*sync.Mutex
	recvDone map[audio.Source]chan struct{}
}

// New builds a disconnected provider; Connect opens both channels.
func New(cfg Config, emitter *transcribe.Emitter, logger *slog.Logger) *Provider {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.ConnectTimeout}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	return &Provider{
		cfg:     cfg,
		logger:  logger,
		gate:    transcribe.NewChannelGate(),
		emitter: emitter,
		conns:   make(map[audio.Source]*websocket.Conn),
		writeMu: map[audio.Source]*sync.Mutex{
			audio.SourceMic:    {},
			audio.SourceSystem: {},
		},
		recvDone: make(map[audio.Source]chan struct{}),
	}
}

// Segments returns the shared delivery stream.
func (p *Provider) Segments() <-chan transcribe.Segment {
	return p.emitter.Segments()
}

// Connect fetches a token and dials the stream for both channels
// concurrently; a token fetch failure counts as a channel-open failure and
// aborts the whole attempt.
func (p *Provider) Connect(ctx context.Context) error {
	sources := []audio.Source{audio.SourceMic, audio.SourceSystem}
	errCh := make(chan error, len(sources))
	var wg sync.WaitGroup
	for _, source := range sources {
		wg.Add(1)
		go func(src audio.Source) {
			defer wg.Done()
			errCh <- p.openChannel(ctx, src)
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

// openChannel performs the token fetch plus dial for one channel.
func (p *Provider) openChannel(ctx context.Context, source audio.Source) error {
	p.gate.BeginConnect(source)

	token, err := p.fetchToken(ctx)
	if err != nil {
		p.gate.SetClosed(source)
		return fmt.Errorf("fetch %s stream token: %w", source, err)
	}

	endpoint, err := streamEndpoint(p.cfg, token)
	if err != nil {
		p.gate.SetClosed(source)
		return err
	}

	conn, resp, err := p.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		p.gate.SetClosed(source)
		return fmt.Errorf("dial %s stream: %w", source, err)
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.conns[source] = conn
	p.recvDone[source] = done
	p.mu.Unlock()

	p.gate.SetOpen(source)
	go p.readLoop(source, conn, done)
	return nil
}

// fetchToken trades the API key for a short-lived connection token.
func (p *Provider) fetchToken(ctx context.Context) (string, error) {
	tokenURL, err := url.Parse(p.cfg.TokenURL)
	if err != nil {
		return "", fmt.Errorf("parse token url: %w", err)
	}
	query := tokenURL.Query()
	query.Set("expires_in_seconds", strconv.Itoa(tokenExpirySec))
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", p.cfg.APIKey)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return payload.Token, nil
}

// streamEndpoint appends stream parameters and the token to the base URL.
func streamEndpoint(cfg Config, token string) (string, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	query := endpoint.Query()
	query.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	query.Set("format_turns", strconv.FormatBool(cfg.FormatTurns))
	query.Set("token", token)
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

// SendAudio writes one binary PCM16 frame when the channel is Open.
func (p *Provider) SendAudio(samples []float32, source audio.Source) {
	if len(samples) == 0 || !p.gate.IsOpen(source) {
		return
	}

	p.mu.Lock()
	conn := p.conns[source]
	mu := p.writeMu[source]
	p.mu.Unlock()
	if conn == nil {
		return
	}

	mu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.BinaryMessage, audio.PCM16FromFloat32(samples))
	mu.Unlock()

	if err != nil && p.logger != nil {
		p.logger.Warn("realtime chunk send failed; dropping", "source", source.String(), "error", err.Error())
	}
}

// Disconnect sends Terminate on both channels, waits for their read loops to
// observe Termination (bounded by ctx), and closes the delivery stream.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	conns := make(map[audio.Source]*websocket.Conn, len(p.conns))
	dones := make(map[audio.Source]chan struct{}, len(p.recvDone))
	for src, conn := range p.conns {
		conns[src] = conn
		dones[src] = p.recvDone[src]
	}
	p.mu.Unlock()

	var closeErr error
	for src, conn := range conns {
		p.gate.BeginClose(src)
		mu := p.writeMu[src]
		mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("send %s terminate: %w", src, err)
		}
		mu.Unlock()
	}

	for src, done := range dones {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			if closeErr == nil {
				closeErr = fmt.Errorf("wait for %s termination: %w", src, ctx.Err())
			}
		}
	}

	p.teardown()
	return closeErr
}

// teardown closes any open connections and finishes the segment channel.
func (p *Provider) teardown() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[audio.Source]*websocket.Conn)
	p.recvDone = make(map[audio.Source]chan struct{})
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	p.gate.SetClosed(audio.SourceMic)
	p.gate.SetClosed(audio.SourceSystem)
	p.emitter.Close()
}

// wire message shapes for the realtime protocol.
type turnMessage struct {
	Type            string     `json:"type"`
	Transcript      string     `json:"transcript"`
	EndOfTurn       bool       `json:"end_of_turn"`
	TurnIsFormatted bool       `json:"turn_is_formatted"`
	Words           []wireWord `json:"words,omitempty"`
}

type wireWord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

// readLoop parses Begin/Turn/Termination messages until the peer closes.
func (p *Provider) readLoop(source audio.Source, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if p.gate.IsOpen(source) && p.logger != nil {
				p.logger.Warn("realtime read loop ended", "source", source.String(), "error", err.Error())
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case "Turn":
			var turn turnMessage
			if err := json.Unmarshal(payload, &turn); err != nil {
				continue
			}
			p.emitTurn(source, turn)
		case "Termination":
			return
		}
	}
}

// emitTurn maps one turn onto the segment shape. A formatted end-of-turn is
// the single final for its utterance; everything else is interim.
func (p *Provider) emitTurn(source audio.Source, turn turnMessage) {
	text := strings.TrimSpace(turn.Transcript)
	if text == "" {
		return
	}

	seg := transcribe.Segment{
		Text:        text,
		TimestampMs: p.emitter.RelativeMs(time.Now()),
		Source:      source,
		Confidence:  wordsConfidence(turn.Words),
		Words:       wordsFromWire(turn.Words),
	}

	if turn.EndOfTurn && (turn.TurnIsFormatted || !p.cfg.FormatTurns) {
		p.emitter.EmitFinal(seg)
		return
	}
	p.emitter.EmitInterim(seg)
}

// wordsFromWire converts wire words (seconds) to segment words (ms).
func wordsFromWire(wire []wireWord) []transcribe.Word {
	if len(wire) == 0 {
		return nil
	}
	words := make([]transcribe.Word, 0, len(wire))
	for _, w := range wire {
		words = append(words, transcribe.Word{
			Text:       w.Text,
			Confidence: w.Confidence,
			StartMs:    int64(w.Start * 1000),
			EndMs:      int64(w.End * 1000),
		})
	}
	return words
}

// wordsConfidence averages word confidences; the protocol carries no
// turn-level score.
func wordsConfidence(wire []wireWord) float64 {
	if len(wire) == 0 {
		return 0
	}
	var sum float64
	for _, w := range wire {
		sum += w.Confidence
	}
	return sum / float64(len(wire))
}
