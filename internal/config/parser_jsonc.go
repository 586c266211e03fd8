package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Audio         *jsoncAudio         `json:"audio"`
	AEC           *jsoncAEC           `json:"aec"`
	Transcription *jsoncTranscription `json:"transcription"`
	Callout       *jsoncCallout       `json:"callout"`
	Suggest       *jsoncSuggest       `json:"suggest"`
	Notes         *jsoncNotes         `json:"notes"`
	Store         *jsoncStore         `json:"store"`
	Indicator     *jsoncIndicator     `json:"indicator"`
	Metrics       *jsoncMetrics       `json:"metrics"`
	Vocab         *jsoncVocab         `json:"vocab"`
	Debug         *jsoncDebug         `json:"debug"`

	ClipboardCmd *string `json:"clipboard_cmd"`
}

type jsoncAudio struct {
	Mic         *string `json:"mic"`
	MicFallback *string `json:"mic_fallback"`
	System      *string `json:"system"`
	SampleRate  *int    `json:"sample_rate"`
	FrameMs     *int    `json:"frame_ms"`
	MinChunkMs  *int    `json:"min_chunk_ms"`
}

type jsoncAEC struct {
	Enable      *bool    `json:"enable"`
	LookbackMs  *int     `json:"lookback_ms"`
	ToleranceMs *int     `json:"tolerance_ms"`
	FilterTaps  *int     `json:"filter_taps"`
	StepSize    *float64 `json:"step_size"`
}

type jsoncTranscription struct {
	Backend  *string        `json:"backend"`
	Language *string        `json:"language"`
	Interim  *bool          `json:"interim"`
	Google   *jsoncGoogle   `json:"google"`
	Realtime *jsoncRealtime `json:"realtime"`
	Batch    *jsoncBatch    `json:"batch"`
}

type jsoncGoogle struct {
	Endpoint    *string `json:"endpoint"`
	Model       *string `json:"model"`
	Punctuation *bool   `json:"punctuation"`
}

type jsoncRealtime struct {
	URL       *string `json:"url"`
	TokenURL  *string `json:"token_url"`
	APIKeyEnv *string `json:"api_key_env"`
}

type jsoncBatch struct {
	URL      *string `json:"url"`
	WindowMs *int    `json:"window_ms"`
}

type jsoncCallout struct {
	Enable          *bool `json:"enable"`
	DebounceMs      *int  `json:"debounce_ms"`
	WindowSize      *int  `json:"window_size"`
	MinCancelWords  *int  `json:"min_cancel_words"`
	CopyToClipboard *bool `json:"copy_to_clipboard"`
}

type jsoncSuggest struct {
	Model       *string `json:"model"`
	APIKeyEnv   *string `json:"api_key_env"`
	TimeoutMs   *int    `json:"timeout_ms"`
	MaxExcerpts *int    `json:"max_excerpts"`
}

type jsoncNotes struct {
	Enable *bool `json:"enable"`
}

type jsoncStore struct {
	Dir *string `json:"dir"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncVocab struct {
	Global     *jsoncStringList         `json:"global"`
	MaxPhrases *int                     `json:"max_phrases"`
	Sets       map[string]jsoncVocabSet `json:"sets"`
}

type jsoncVocabSet struct {
	Boost   *float64 `json:"boost"`
	Phrases []string `json:"phrases"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.Audio != nil {
		if payload.Audio.Mic != nil {
			cfg.Audio.Mic = *payload.Audio.Mic
		}
		if payload.Audio.MicFallback != nil {
			cfg.Audio.MicFallback = *payload.Audio.MicFallback
		}
		if payload.Audio.System != nil {
			cfg.Audio.System = *payload.Audio.System
		}
		if payload.Audio.SampleRate != nil {
			cfg.Audio.SampleRate = *payload.Audio.SampleRate
		}
		if payload.Audio.FrameMs != nil {
			cfg.Audio.FrameMs = *payload.Audio.FrameMs
		}
		if payload.Audio.MinChunkMs != nil {
			cfg.Audio.MinChunkMs = *payload.Audio.MinChunkMs
		}
	}

	if payload.AEC != nil {
		if payload.AEC.Enable != nil {
			cfg.AEC.Enable = *payload.AEC.Enable
		}
		if payload.AEC.LookbackMs != nil {
			cfg.AEC.LookbackMs = *payload.AEC.LookbackMs
		}
		if payload.AEC.ToleranceMs != nil {
			cfg.AEC.ToleranceMs = *payload.AEC.ToleranceMs
		}
		if payload.AEC.FilterTaps != nil {
			cfg.AEC.FilterTaps = *payload.AEC.FilterTaps
		}
		if payload.AEC.StepSize != nil {
			cfg.AEC.StepSize = *payload.AEC.StepSize
		}
	}

	if payload.Transcription != nil {
		if payload.Transcription.Backend != nil {
			cfg.Transcription.Backend = strings.ToLower(strings.TrimSpace(*payload.Transcription.Backend))
		}
		if payload.Transcription.Language != nil {
			cfg.Transcription.Language = strings.TrimSpace(*payload.Transcription.Language)
		}
		if payload.Transcription.Interim != nil {
			cfg.Transcription.Interim = *payload.Transcription.Interim
		}
		if payload.Transcription.Google != nil {
			if payload.Transcription.Google.Endpoint != nil {
				cfg.Transcription.Google.Endpoint = strings.TrimSpace(*payload.Transcription.Google.Endpoint)
			}
			if payload.Transcription.Google.Model != nil {
				cfg.Transcription.Google.Model = strings.TrimSpace(*payload.Transcription.Google.Model)
			}
			if payload.Transcription.Google.Punctuation != nil {
				cfg.Transcription.Google.Punctuation = *payload.Transcription.Google.Punctuation
			}
		}
		if payload.Transcription.Realtime != nil {
			if payload.Transcription.Realtime.URL != nil {
				cfg.Transcription.Realtime.URL = strings.TrimSpace(*payload.Transcription.Realtime.URL)
			}
			if payload.Transcription.Realtime.TokenURL != nil {
				cfg.Transcription.Realtime.TokenURL = strings.TrimSpace(*payload.Transcription.Realtime.TokenURL)
			}
			if payload.Transcription.Realtime.APIKeyEnv != nil {
				cfg.Transcription.Realtime.APIKeyEnv = strings.TrimSpace(*payload.Transcription.Realtime.APIKeyEnv)
			}
		}
		if payload.Transcription.Batch != nil {
			if payload.Transcription.Batch.URL != nil {
				cfg.Transcription.Batch.URL = strings.TrimSpace(*payload.Transcription.Batch.URL)
			}
			if payload.Transcription.Batch.WindowMs != nil {
				cfg.Transcription.Batch.WindowMs = *payload.Transcription.Batch.WindowMs
			}
		}
	}

	if payload.Callout != nil {
		if payload.Callout.Enable != nil {
			cfg.Callout.Enable = *payload.Callout.Enable
		}
		if payload.Callout.DebounceMs != nil {
			cfg.Callout.DebounceMs = *payload.Callout.DebounceMs
		}
		if payload.Callout.WindowSize != nil {
			cfg.Callout.WindowSize = *payload.Callout.WindowSize
		}
		if payload.Callout.MinCancelWords != nil {
			cfg.Callout.MinCancelWords = *payload.Callout.MinCancelWords
		}
		if payload.Callout.CopyToClipboard != nil {
			cfg.Callout.CopyToClipboard = *payload.Callout.CopyToClipboard
		}
	}

	if payload.Suggest != nil {
		if payload.Suggest.Model != nil {
			cfg.Suggest.Model = strings.TrimSpace(*payload.Suggest.Model)
		}
		if payload.Suggest.APIKeyEnv != nil {
			cfg.Suggest.APIKeyEnv = strings.TrimSpace(*payload.Suggest.APIKeyEnv)
		}
		if payload.Suggest.TimeoutMs != nil {
			cfg.Suggest.TimeoutMs = *payload.Suggest.TimeoutMs
		}
		if payload.Suggest.MaxExcerpts != nil {
			cfg.Suggest.MaxExcerpts = *payload.Suggest.MaxExcerpts
		}
	}

	if payload.Notes != nil && payload.Notes.Enable != nil {
		cfg.Notes.Enable = *payload.Notes.Enable
	}

	if payload.Store != nil && payload.Store.Dir != nil {
		cfg.Store.Dir = strings.TrimSpace(*payload.Store.Dir)
	}

	if payload.Indicator != nil {
		if payload.Indicator.Enable != nil {
			cfg.Indicator.Enable = *payload.Indicator.Enable
		}
		if payload.Indicator.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*payload.Indicator.DesktopAppName)
		}
		if payload.Indicator.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
		}
	}

	if payload.Metrics != nil && payload.Metrics.Listen != nil {
		cfg.Metrics.Listen = strings.TrimSpace(*payload.Metrics.Listen)
	}

	if payload.ClipboardCmd != nil {
		raw := *payload.ClipboardCmd
		argv, err := splitCommand(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid clipboard_cmd: %w", err)
		}
		cfg.Clipboard = CommandConfig{Raw: raw, Argv: argv}
	}

	if payload.Vocab != nil {
		if payload.Vocab.Global != nil {
			cfg.Vocab.GlobalSets = cfg.Vocab.GlobalSets[:0]
			for _, name := range *payload.Vocab.Global {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				cfg.Vocab.GlobalSets = append(cfg.Vocab.GlobalSets, name)
			}
		}
		if payload.Vocab.MaxPhrases != nil {
			cfg.Vocab.MaxPhrases = *payload.Vocab.MaxPhrases
		}
		if payload.Vocab.Sets != nil {
			if cfg.Vocab.Sets == nil {
				cfg.Vocab.Sets = make(map[string]VocabSet)
			}
			for name, set := range payload.Vocab.Sets {
				trimmedName := strings.TrimSpace(name)
				if trimmedName == "" {
					return nil, fmt.Errorf("vocab.sets contains an empty set name")
				}

				phrases := make([]string, 0, len(set.Phrases))
				phrases = append(phrases, set.Phrases...)

				entry := VocabSet{Name: trimmedName, Phrases: phrases}
				if set.Boost != nil {
					entry.Boost = *set.Boost
				}
				cfg.Vocab.Sets[trimmedName] = entry
			}
		}
	}

	if payload.Debug != nil && payload.Debug.AudioDump != nil {
		cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
