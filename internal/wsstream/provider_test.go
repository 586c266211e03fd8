package wsstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/transcribe"
)

// fakeRealtime is a minimal realtime endpoint: it accepts upgrades, replies
// to Terminate with Termination, and can push scripted turns.
type fakeRealtime struct {
	upgrader websocket.Upgrader
	turns    []turnMessage
	dials    atomic.Int64
}

func (f *fakeRealtime) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		f.dials.Add(1)

		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, turn := range f.turns {
			payload, _ := json.Marshal(turn)
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}

		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			var envelope struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(payload, &envelope)
			if envelope.Type == "Terminate" {
				_ = conn.WriteJSON(map[string]any{"type": "Termination"})
				return
			}
		}
	}
}

func tokenServer(t *testing.T, status int, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestProvider(t *testing.T, realtime *httptest.Server, tokens *httptest.Server) (*Provider, *transcribe.Emitter) {
	t.Helper()
	emitter := transcribe.NewEmitter(time.Now(), 64)
	provider := New(Config{
		URL:            wsURL(realtime),
		TokenURL:       tokens.URL,
		APIKey:         "test-key",
		SampleRate:     16000,
		FormatTurns:    true,
		ConnectTimeout: 2 * time.Second,
	}, emitter, nil)
	return provider, emitter
}

func TestConnectOpensBothChannelsAndDisconnectCloses(t *testing.T) {
	fake := &fakeRealtime{}
	realtime := httptest.NewServer(fake.handler(t))
	defer realtime.Close()
	tokens := tokenServer(t, http.StatusOK, "tok-1")
	defer tokens.Close()

	provider, emitter := newTestProvider(t, realtime, tokens)

	require.NoError(t, provider.Connect(context.Background()))
	require.True(t, provider.gate.IsOpen(audio.SourceMic))
	require.True(t, provider.gate.IsOpen(audio.SourceSystem))
	require.Equal(t, int64(2), fake.dials.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, provider.Disconnect(ctx))
	require.Equal(t, transcribe.ChannelClosed, provider.gate.State(audio.SourceMic))
	require.Equal(t, transcribe.ChannelClosed, provider.gate.State(audio.SourceSystem))

	_, ok := <-emitter.Segments()
	require.False(t, ok, "segment channel closes after disconnect")
}

func TestConnectFailsWhenTokenFetchFails(t *testing.T) {
	fake := &fakeRealtime{}
	realtime := httptest.NewServer(fake.handler(t))
	defer realtime.Close()
	tokens := tokenServer(t, http.StatusForbidden, "")
	defer tokens.Close()

	provider, _ := newTestProvider(t, realtime, tokens)

	err := provider.Connect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "token")
	require.Equal(t, transcribe.ChannelClosed, provider.gate.State(audio.SourceMic))
	require.Equal(t, transcribe.ChannelClosed, provider.gate.State(audio.SourceSystem))
}

func TestConnectFailsWhenDialRefused(t *testing.T) {
	tokens := tokenServer(t, http.StatusOK, "tok-1")
	defer tokens.Close()

	emitter := transcribe.NewEmitter(time.Now(), 4)
	provider := New(Config{
		URL:            "ws://127.0.0.1:1/ws",
		TokenURL:       tokens.URL,
		APIKey:         "test-key",
		SampleRate:     16000,
		ConnectTimeout: 500 * time.Millisecond,
	}, emitter, nil)

	err := provider.Connect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial")
}

func TestTurnsBecomeInterimAndFinalSegments(t *testing.T) {
	fake := &fakeRealtime{turns: []turnMessage{
		{Type: "Turn", Transcript: "what do you", EndOfTurn: false},
		{Type: "Turn", Transcript: "what do you think?", EndOfTurn: true, TurnIsFormatted: true,
			Words: []wireWord{
				{Text: "what", Confidence: 0.9, Start: 0.1, End: 0.3},
				{Text: "think?", Confidence: 0.7, Start: 0.8, End: 1.1},
			}},
	}}
	realtime := httptest.NewServer(fake.handler(t))
	defer realtime.Close()
	tokens := tokenServer(t, http.StatusOK, "tok-1")
	defer tokens.Close()

	provider, emitter := newTestProvider(t, realtime, tokens)
	require.NoError(t, provider.Connect(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = provider.Disconnect(ctx)
	}()

	collectFinal := func() transcribe.Segment {
		deadline := time.After(2 * time.Second)
		for {
			select {
			case seg := <-emitter.Segments():
				if seg.IsFinal {
					return seg
				}
			case <-deadline:
				t.Fatal("timed out waiting for final segment")
			}
		}
	}

	final := collectFinal()
	require.Equal(t, "what do you think?", final.Text)
	require.Len(t, final.Words, 2)
	require.Equal(t, int64(100), final.Words[0].StartMs)
	require.InDelta(t, 0.8, final.Confidence, 1e-6)
}

func TestSendAudioNoopWhenNotOpen(t *testing.T) {
	emitter := transcribe.NewEmitter(time.Now(), 4)
	provider := New(Config{SampleRate: 16000}, emitter, nil)

	provider.SendAudio([]float32{0.5}, audio.SourceMic)
	provider.SendAudio(nil, audio.SourceSystem)
}

func TestStreamEndpointCarriesParams(t *testing.T) {
	endpoint, err := streamEndpoint(Config{URL: "wss://example.test/v3/ws", SampleRate: 16000, FormatTurns: true}, "tok-9")
	require.NoError(t, err)
	require.Contains(t, endpoint, "sample_rate=16000")
	require.Contains(t, endpoint, "format_turns=true")
	require.Contains(t, endpoint, "token=tok-9")
}
