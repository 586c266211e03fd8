// Package doctor runs runtime readiness diagnostics for config, audio, backends, and tools.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/config"
	"github.com/awender/crosstalk/internal/store"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	configMsg := fmt.Sprintf("loaded %q", cfg.Path)
	if len(cfg.Warnings) > 0 {
		configMsg = fmt.Sprintf("loaded %q with %d warning(s)", cfg.Path, len(cfg.Warnings))
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: configMsg})

	checks = append(checks, checkMicSelection(cfg.Config))
	checks = append(checks, checkMonitorSelection(cfg.Config))
	checks = append(checks, checkBackend(cfg.Config))

	if cfg.Config.Callout.Enable || cfg.Config.Notes.Enable {
		checks = append(checks, checkSuggestKey(cfg.Config.Suggest))
	}
	if cfg.Config.Callout.CopyToClipboard {
		checks = append(checks, checkCommand(cfg.Config.Clipboard.Argv, "clipboard_cmd"))
	}
	if cfg.Config.Indicator.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications available"))
	}

	checks = append(checks, checkStoreDir(cfg.Config.Store))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkMicSelection runs live microphone selection to surface fallback issues.
func checkMicSelection(cfg config.Config) Check {
	selection, err := audio.SelectMic(context.Background(), cfg.Audio.Mic, cfg.Audio.MicFallback)
	if err != nil {
		return Check{Name: "audio.mic", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.mic", Pass: true, Message: message}
}

// checkMonitorSelection verifies a loopback monitor source is available.
func checkMonitorSelection(cfg config.Config) Check {
	selection, err := audio.SelectMonitor(context.Background(), cfg.Audio.System)
	if err != nil {
		return Check{Name: "audio.monitor", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.monitor", Pass: true, Message: message}
}

// checkBackend dispatches the readiness probe for the configured backend.
func checkBackend(cfg config.Config) Check {
	switch strings.ToLower(strings.TrimSpace(cfg.Transcription.Backend)) {
	case "google":
		return checkGoogleCredentials(cfg.Transcription.Google)
	case "realtime":
		return checkRealtimeKey(cfg.Transcription.Realtime)
	case "batch":
		return checkBatchReachable(cfg.Transcription.Batch)
	default:
		return Check{
			Name:    "backend",
			Pass:    false,
			Message: fmt.Sprintf("unknown transcription backend %q", cfg.Transcription.Backend),
		}
	}
}

// checkGoogleCredentials validates Cloud Speech auth material is present.
func checkGoogleCredentials(cfg config.GoogleBackendConfig) Check {
	if strings.TrimSpace(cfg.Endpoint) != "" {
		return Check{
			Name:    "backend.google",
			Pass:    true,
			Message: fmt.Sprintf("custom endpoint %q configured", cfg.Endpoint),
		}
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if path == "" {
		return Check{
			Name:    "backend.google",
			Pass:    false,
			Message: "GOOGLE_APPLICATION_CREDENTIALS is unset",
		}
	}
	if _, err := os.Stat(path); err != nil {
		return Check{
			Name:    "backend.google",
			Pass:    false,
			Message: fmt.Sprintf("credentials file %q: %v", path, err),
		}
	}
	return Check{Name: "backend.google", Pass: true, Message: fmt.Sprintf("credentials at %q", path)}
}

// checkRealtimeKey validates the websocket backend API key and endpoints.
func checkRealtimeKey(cfg config.RealtimeBackendConfig) Check {
	if strings.TrimSpace(cfg.URL) == "" {
		return Check{Name: "backend.realtime", Pass: false, Message: "realtime URL is empty"}
	}
	env := strings.TrimSpace(cfg.APIKeyEnv)
	if env == "" {
		return Check{Name: "backend.realtime", Pass: false, Message: "api_key_env is empty"}
	}
	if strings.TrimSpace(os.Getenv(env)) == "" {
		return Check{Name: "backend.realtime", Pass: false, Message: fmt.Sprintf("%s is unset", env)}
	}
	return Check{Name: "backend.realtime", Pass: true, Message: fmt.Sprintf("%s is set", env)}
}

// checkBatchReachable probes the batch inference endpoint over HTTP.
func checkBatchReachable(cfg config.BatchBackendConfig) Check {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return Check{Name: "backend.batch", Pass: false, Message: "batch URL is empty"}
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return Check{Name: "backend.batch", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	// Inference endpoints commonly reject GET; reachability is what matters here.
	if resp.StatusCode >= 500 {
		return Check{Name: "backend.batch", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: "backend.batch", Pass: true, Message: fmt.Sprintf("reachable at %s (HTTP %d)", url, resp.StatusCode)}
}

// checkSuggestKey validates the generation API key referenced by config.
func checkSuggestKey(cfg config.SuggestConfig) Check {
	env := strings.TrimSpace(cfg.APIKeyEnv)
	if env == "" {
		return Check{Name: "suggest.key", Pass: false, Message: "api_key_env is empty"}
	}
	return checkEnv(env, func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, fmt.Sprintf("%s is set", env), fmt.Sprintf("%s is unset", env))
}

// checkStoreDir validates the session store directory is creatable and writable.
func checkStoreDir(cfg config.StoreConfig) Check {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		resolved, err := store.DefaultDir()
		if err != nil {
			return Check{Name: "store.dir", Pass: false, Message: err.Error()}
		}
		dir = resolved
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: "store.dir", Pass: false, Message: fmt.Sprintf("create %q: %v", dir, err)}
	}

	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{Name: "store.dir", Pass: false, Message: fmt.Sprintf("write %q: %v", dir, err)}
	}
	_ = os.Remove(probe)

	return Check{Name: "store.dir", Pass: true, Message: fmt.Sprintf("writable at %q", dir)}
}
