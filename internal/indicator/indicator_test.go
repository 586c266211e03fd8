package indicator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awender/crosstalk/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDesktopLifecycleNotificationsReplaceAndDismiss(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
echo "u 42"
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false

	ind := NewDesktop(cfg, nil)
	ind.RecordingStarted(context.Background())
	ind.RecordingPaused(context.Background())
	ind.RecordingResumed(context.Background())
	ind.RecordingStopped(context.Background())

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)

	require.Contains(t, lines[0], "Notify")
	require.Contains(t, lines[0], "Recording…")
	require.Contains(t, lines[1], "Paused")
	require.Contains(t, lines[2], "Recording…")

	// Second notification replaces the ID returned for the first.
	require.Contains(t, lines[1], " 42 ")

	// Stop dismisses the posted notification by ID.
	require.Contains(t, lines[3], "CloseNotification")
	require.Contains(t, lines[3], "42")
}

func TestDesktopCalloutReadyIncludesQuestionAndSuggestion(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
echo "u 7"
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false

	ind := NewDesktop(cfg, nil)
	ind.CalloutReady(context.Background(), "How does failover work?", "Traffic shifts to the standby region.")

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "How does failover work?")
	require.Contains(t, string(data), "Traffic shifts to the standby region.")
}

func TestDesktopDisabledSkipsBusctlDispatch(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
echo "u 1"
`)

	cfg := config.Default().Indicator
	cfg.Enable = false
	cfg.SoundEnable = false

	ind := NewDesktop(cfg, nil)
	ind.RecordingStarted(context.Background())
	ind.RecordingStopped(context.Background())
	ind.ShowError(context.Background(), "ignored")
	ind.CalloutReady(context.Background(), "q", "s")

	_, err := os.Stat(argsFile)
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestDesktopShowErrorFallsBackToDefaultText(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
echo "u 3"
`)

	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false

	ind := NewDesktop(cfg, nil)
	ind.ShowError(context.Background(), "")

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "Recording error")
}

func TestDesktopAppNameDefault(t *testing.T) {
	cfg := config.IndicatorConfig{}
	ind := NewDesktop(cfg, nil)
	require.Equal(t, "crosstalk", ind.appName())

	cfg.DesktopAppName = " meetings "
	ind = NewDesktop(cfg, nil)
	require.Equal(t, "meetings", ind.appName())
}

func installBusctlStub(t *testing.T, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "busctl")
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}
