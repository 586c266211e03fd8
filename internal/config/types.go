// Package config resolves, parses, validates, and defaults crosstalk configuration.
package config

// Config is the fully materialized runtime configuration used by crosstalk.
type Config struct {
	Audio         AudioConfig
	AEC           AECConfig
	Transcription TranscriptionConfig
	Callout       CalloutConfig
	Suggest       SuggestConfig
	Notes         NotesConfig
	Store         StoreConfig
	Indicator     IndicatorConfig
	Metrics       MetricsConfig
	Clipboard     CommandConfig
	Vocab         VocabConfig
	Debug         DebugConfig
}

// AudioConfig controls source selection and capture/chunking geometry.
type AudioConfig struct {
	Mic         string
	MicFallback string
	System      string
	SampleRate  int
	FrameMs     int
	MinChunkMs  int
}

// AECConfig controls echo-cancellation alignment and the adaptive filter.
type AECConfig struct {
	Enable      bool
	LookbackMs  int
	ToleranceMs int
	FilterTaps  int
	StepSize    float64
}

// TranscriptionConfig selects and parameterizes the speech-to-text backend.
type TranscriptionConfig struct {
	Backend  string
	Language string
	Interim  bool
	Google   GoogleBackendConfig
	Realtime RealtimeBackendConfig
	Batch    BatchBackendConfig
}

// GoogleBackendConfig controls the Cloud Speech streaming backend.
type GoogleBackendConfig struct {
	Endpoint    string
	Model       string
	Punctuation bool
}

// RealtimeBackendConfig controls the hosted websocket backend.
type RealtimeBackendConfig struct {
	URL       string
	TokenURL  string
	APIKeyEnv string
}

// BatchBackendConfig controls the windowed HTTP backend.
type BatchBackendConfig struct {
	URL      string
	WindowMs int
}

// CalloutConfig controls question detection and the debounce scheduler.
type CalloutConfig struct {
	Enable          bool
	DebounceMs      int
	WindowSize      int
	MinCancelWords  int
	CopyToClipboard bool
}

// SuggestConfig controls the suggestion generator model and budgets.
type SuggestConfig struct {
	Model       string
	APIKeyEnv   string
	TimeoutMs   int
	MaxExcerpts int
}

// NotesConfig controls post-session note generation.
type NotesConfig struct {
	Enable bool
}

// StoreConfig controls where session artifacts are written.
type StoreConfig struct {
	Dir string
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	DesktopAppName string
	SoundEnable    bool
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Listen string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// VocabConfig controls enabled speech phrase sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// SpeechPhrase is the normalized phrase payload sent to transcription backends.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
