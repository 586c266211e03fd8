package doctor

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awender/crosstalk/internal/config"
	"github.com/stretchr/testify/require"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "value")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.TrimSpace(v) != "" },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckCommandEmpty(t *testing.T) {
	check := checkCommand(nil, "clipboard_cmd")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "command is empty")
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckGoogleCredentialsUnset(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	check := checkGoogleCredentials(config.GoogleBackendConfig{})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "GOOGLE_APPLICATION_CREDENTIALS")
}

func TestCheckGoogleCredentialsFilePresent(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(credsPath, []byte("{}"), 0o600))
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", credsPath)

	check := checkGoogleCredentials(config.GoogleBackendConfig{})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, credsPath)
}

func TestCheckGoogleCredentialsCustomEndpointSkipsCreds(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	check := checkGoogleCredentials(config.GoogleBackendConfig{Endpoint: "localhost:9090"})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "localhost:9090")
}

func TestCheckRealtimeKeyMissing(t *testing.T) {
	t.Setenv("TEST_RT_KEY", "")

	cfg := config.Default().Transcription.Realtime
	cfg.APIKeyEnv = "TEST_RT_KEY"

	check := checkRealtimeKey(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "TEST_RT_KEY is unset")
}

func TestCheckRealtimeKeySet(t *testing.T) {
	t.Setenv("TEST_RT_KEY", "secret")

	cfg := config.Default().Transcription.Realtime
	cfg.APIKeyEnv = "TEST_RT_KEY"

	check := checkRealtimeKey(cfg)
	require.True(t, check.Pass)
}

func TestCheckBatchReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	t.Cleanup(server.Close)

	check := checkBatchReachable(config.BatchBackendConfig{URL: server.URL})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "reachable at")
}

func TestCheckBatchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	check := checkBatchReachable(config.BatchBackendConfig{URL: server.URL})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 500")
}

func TestCheckBatchEmptyURL(t *testing.T) {
	check := checkBatchReachable(config.BatchBackendConfig{})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "batch URL is empty")
}

func TestCheckSuggestKey(t *testing.T) {
	t.Setenv("TEST_SUGGEST_KEY", "secret")

	check := checkSuggestKey(config.SuggestConfig{APIKeyEnv: "TEST_SUGGEST_KEY"})
	require.True(t, check.Pass)

	t.Setenv("TEST_SUGGEST_KEY", "")
	check = checkSuggestKey(config.SuggestConfig{APIKeyEnv: "TEST_SUGGEST_KEY"})
	require.False(t, check.Pass)
}

func TestCheckStoreDirWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")

	check := checkStoreDir(config.StoreConfig{Dir: dir})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, dir)

	_, err := os.Stat(dir)
	require.NoError(t, err)
}

func TestCheckMicSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkMicSelection(config.Default())
	require.False(t, check.Pass)
	require.Equal(t, "audio.mic", check.Name)
}

func TestRunIncludesBackendAndStoreChecks(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg := config.Default()
	cfg.Store.Dir = filepath.Join(t.TempDir(), "sessions")
	cfg.Indicator.Enable = false
	cfg.Callout.CopyToClipboard = false

	report := Run(config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	require.NotEmpty(t, report.Checks)

	names := make(map[string]bool)
	for _, check := range report.Checks {
		names[check.Name] = true
	}
	require.True(t, names["config"])
	require.True(t, names["audio.mic"])
	require.True(t, names["audio.monitor"])
	require.True(t, names["backend.google"])
	require.True(t, names["GEMINI_API_KEY"])
	require.True(t, names["store.dir"])
}
