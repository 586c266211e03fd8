package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/awender/crosstalk/internal/config"
	"github.com/stretchr/testify/require"
)

func TestRunCommandWithInputWritesStdin(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	outputPath := filepath.Join(t.TempDir(), "stdin.txt")

	err := runCommandWithInput(context.Background(), []string{scriptPath, outputPath}, "suggested reply")
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, "suggested reply", string(data))
}

func TestRunCommandWithInputRejectsEmptyArgv(t *testing.T) {
	err := runCommandWithInput(context.Background(), nil, "text")
	require.Error(t, err)
}

func TestClipboardCopyWritesText(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	clipboardPath := filepath.Join(t.TempDir(), "clipboard.txt")

	clip := NewClipboard(config.CommandConfig{Argv: []string{scriptPath, clipboardPath}}, nil)
	err := clip.Copy(context.Background(), "captured suggestion")
	require.NoError(t, err)

	data, err := os.ReadFile(clipboardPath)
	require.NoError(t, err)
	require.Equal(t, "captured suggestion", string(data))
}

func TestClipboardCopySkipsEmptyText(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	clipboardPath := filepath.Join(t.TempDir(), "clipboard.txt")

	clip := NewClipboard(config.CommandConfig{Argv: []string{scriptPath, clipboardPath}}, nil)
	err := clip.Copy(context.Background(), "")
	require.NoError(t, err)

	_, err = os.Stat(clipboardPath)
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestClipboardCopyReportsCommandFailure(t *testing.T) {
	clip := NewClipboard(config.CommandConfig{Argv: []string{"/bin/false"}}, nil)
	err := clip.Copy(context.Background(), "text")
	require.Error(t, err)
}

// writeStdinCaptureScript creates a script that copies stdin to its first argument.
func writeStdinCaptureScript(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "capture.sh")
	script := "#!/usr/bin/env bash\nset -euo pipefail\ncat > \"$1\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
