package config

import (
	"fmt"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if cfg.Audio.FrameMs <= 0 {
		return nil, fmt.Errorf("audio.frame_ms must be > 0")
	}
	if cfg.Audio.MinChunkMs <= 0 {
		return nil, fmt.Errorf("audio.min_chunk_ms must be > 0")
	}
	if cfg.Audio.MinChunkMs < cfg.Audio.FrameMs {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.min_chunk_ms=%d is below audio.frame_ms=%d; every frame will flush immediately", cfg.Audio.MinChunkMs, cfg.Audio.FrameMs)})
	}
	switch cfg.Audio.SampleRate {
	case 8000, 16000, 22050, 24000, 32000, 44100, 48000:
	default:
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.sample_rate=%d is unusual; transcription backends may reject it", cfg.Audio.SampleRate)})
	}

	if cfg.AEC.Enable {
		if cfg.AEC.LookbackMs <= 0 {
			return nil, fmt.Errorf("aec.lookback_ms must be > 0")
		}
		if cfg.AEC.ToleranceMs < 0 {
			return nil, fmt.Errorf("aec.tolerance_ms must be >= 0")
		}
		if cfg.AEC.FilterTaps <= 0 {
			return nil, fmt.Errorf("aec.filter_taps must be > 0")
		}
		if cfg.AEC.StepSize <= 0 || cfg.AEC.StepSize > 2 {
			return nil, fmt.Errorf("aec.step_size must be in (0, 2]")
		}
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Transcription.Backend))
	switch backend {
	case "google", "realtime", "batch":
	case "":
		return nil, fmt.Errorf("transcription.backend must not be empty")
	default:
		return nil, fmt.Errorf("transcription.backend must be one of: google, realtime, batch")
	}
	if strings.TrimSpace(cfg.Transcription.Language) == "" {
		return nil, fmt.Errorf("transcription.language must not be empty")
	}
	if backend == "realtime" {
		if strings.TrimSpace(cfg.Transcription.Realtime.URL) == "" {
			return nil, fmt.Errorf("transcription.realtime.url must not be empty")
		}
		if strings.TrimSpace(cfg.Transcription.Realtime.TokenURL) == "" {
			return nil, fmt.Errorf("transcription.realtime.token_url must not be empty")
		}
		if strings.TrimSpace(cfg.Transcription.Realtime.APIKeyEnv) == "" {
			return nil, fmt.Errorf("transcription.realtime.api_key_env must not be empty")
		}
	}
	if backend == "batch" {
		if strings.TrimSpace(cfg.Transcription.Batch.URL) == "" {
			return nil, fmt.Errorf("transcription.batch.url must not be empty")
		}
		if cfg.Transcription.Batch.WindowMs <= 0 {
			return nil, fmt.Errorf("transcription.batch.window_ms must be > 0")
		}
		if cfg.Transcription.Batch.WindowMs < cfg.Audio.MinChunkMs {
			return nil, fmt.Errorf("transcription.batch.window_ms must be >= audio.min_chunk_ms")
		}
		if cfg.Transcription.Interim {
			warnings = append(warnings, Warning{Message: "transcription.interim has no effect with the batch backend; it emits final segments only"})
		}
	}

	if cfg.Callout.Enable {
		if cfg.Callout.DebounceMs <= 0 {
			return nil, fmt.Errorf("callout.debounce_ms must be > 0")
		}
		if cfg.Callout.WindowSize <= 0 {
			return nil, fmt.Errorf("callout.window_size must be > 0")
		}
		if cfg.Callout.MinCancelWords < 1 {
			return nil, fmt.Errorf("callout.min_cancel_words must be >= 1")
		}
	}

	if strings.TrimSpace(cfg.Suggest.Model) == "" {
		return nil, fmt.Errorf("suggest.model must not be empty")
	}
	if strings.TrimSpace(cfg.Suggest.APIKeyEnv) == "" {
		return nil, fmt.Errorf("suggest.api_key_env must not be empty")
	}
	if cfg.Suggest.TimeoutMs <= 0 {
		return nil, fmt.Errorf("suggest.timeout_ms must be > 0")
	}
	if cfg.Suggest.MaxExcerpts < 0 {
		return nil, fmt.Errorf("suggest.max_excerpts must be >= 0")
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" && !strings.Contains(listen, ":") {
		return nil, fmt.Errorf("metrics.listen must be a host:port address")
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}
	if cfg.Callout.CopyToClipboard && len(cfg.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("clipboard_cmd must not be empty when callout.copy_to_clipboard=true")
	}

	_, vocabWarnings, err := BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

// BuildSpeechPhrases merges enabled vocab sets into deterministic phrase payloads.
func BuildSpeechPhrases(cfg Config) ([]SpeechPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]SpeechPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, SpeechPhrase{Phrase: phrase, Boost: float32(c.boost)})
	}

	sort.Slice(phrases, func(i, j int) bool {
		if phrases[i].Phrase == phrases[j].Phrase {
			return phrases[i].Boost < phrases[j].Boost
		}
		return phrases[i].Phrase < phrases[j].Phrase
	})

	return phrases, warnings, nil
}
