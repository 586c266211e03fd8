package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/awender/crosstalk/internal/batchstt"
	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/gspeech"
	"github.com/awender/crosstalk/internal/transcribe"
	"github.com/awender/crosstalk/internal/wsstream"
)

const connectTimeout = 5 * time.Second

// newProvider builds the configured transcription backend. The three
// variants share the emitter, so channel gating and segment semantics are
// identical regardless of backend.
func newProvider(cfg config.Config, emitter *transcribe.Emitter, logger *slog.Logger) (transcribe.Provider, error) {
	switch cfg.Transcription.Backend {
	case "google":
		phrases, _, err := config.BuildSpeechPhrases(cfg)
		if err != nil {
			return nil, fmt.Errorf("build speech phrases: %w", err)
		}
		return gspeech.New(gspeech.Config{
			SampleRate:     cfg.Audio.SampleRate,
			Language:       cfg.Transcription.Language,
			Model:          cfg.Transcription.Google.Model,
			Punctuation:    cfg.Transcription.Google.Punctuation,
			Interim:        cfg.Transcription.Interim,
			Endpoint:       cfg.Transcription.Google.Endpoint,
			Phrases:        phrases,
			ConnectTimeout: connectTimeout,
		}, emitter, logger), nil

	case "realtime":
		apiKey := os.Getenv(cfg.Transcription.Realtime.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("realtime backend: %s is not set", cfg.Transcription.Realtime.APIKeyEnv)
		}
		return wsstream.New(wsstream.Config{
			URL:            cfg.Transcription.Realtime.URL,
			TokenURL:       cfg.Transcription.Realtime.TokenURL,
			APIKey:         apiKey,
			SampleRate:     cfg.Audio.SampleRate,
			FormatTurns:    true,
			ConnectTimeout: connectTimeout,
		}, emitter, logger), nil

	case "batch":
		return batchstt.New(batchstt.Config{
			URL:        cfg.Transcription.Batch.URL,
			Language:   cfg.Transcription.Language,
			SampleRate: cfg.Audio.SampleRate,
			WindowMs:   cfg.Transcription.Batch.WindowMs,
		}, emitter, logger), nil

	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Transcription.Backend)
	}
}
