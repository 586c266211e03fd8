package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Audio: AudioConfig{
			Mic:         "default",
			MicFallback: "default",
			System:      "default",
			SampleRate:  16000,
			FrameMs:     20,
			MinChunkMs:  50,
		},
		AEC: AECConfig{
			Enable:      true,
			LookbackMs:  500,
			ToleranceMs: 20,
			FilterTaps:  256,
			StepSize:    0.5,
		},
		Transcription: TranscriptionConfig{
			Backend:  "google",
			Language: "en-US",
			Interim:  true,
			Google: GoogleBackendConfig{
				Endpoint:    "",
				Model:       "latest_long",
				Punctuation: true,
			},
			Realtime: RealtimeBackendConfig{
				URL:       "wss://streaming.assemblyai.com/v3/ws",
				TokenURL:  "https://streaming.assemblyai.com/v3/token",
				APIKeyEnv: "ASSEMBLYAI_API_KEY",
			},
			Batch: BatchBackendConfig{
				URL:      "http://127.0.0.1:8578/inference",
				WindowMs: 3000,
			},
		},
		Callout: CalloutConfig{
			Enable:          true,
			DebounceMs:      5000,
			WindowSize:      20,
			MinCancelWords:  3,
			CopyToClipboard: false,
		},
		Suggest: SuggestConfig{
			Model:       "gemini-2.0-flash",
			APIKeyEnv:   "GEMINI_API_KEY",
			TimeoutMs:   12000,
			MaxExcerpts: 3,
		},
		Notes: NotesConfig{Enable: true},
		Store: StoreConfig{Dir: ""},
		Indicator: IndicatorConfig{
			Enable:         true,
			DesktopAppName: "crosstalk",
			SoundEnable:    true,
		},
		Metrics:   MetricsConfig{Listen: ""},
		Clipboard: CommandConfig{Raw: clipboard, Argv: mustSplitCommand(clipboard)},
		Vocab: VocabConfig{
			GlobalSets: nil,
			Sets:       map[string]VocabSet{},
			MaxPhrases: 1024,
		},
		Debug: DebugConfig{},
	}
}
