// Package wm probes the window manager for the focused window title.
package wm

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

type activeWindow struct {
	Title        string `json:"title"`
	Class        string `json:"class"`
	InitialClass string `json:"initialClass"`
}

// Prober resolves a meeting title from the focused window. Best-effort: the
// session proceeds untitled when the compositor is unreachable.
type Prober struct{}

// ActiveTitle queries hyprctl for the focused window and derives a title.
func (Prober) ActiveTitle(ctx context.Context) (string, error) {
	output, err := runHyprctlOutput(ctx, "-j", "activewindow")
	if err != nil {
		return "", err
	}

	var window activeWindow
	if err := json.Unmarshal(output, &window); err != nil {
		return "", fmt.Errorf("decode hyprctl activewindow json: %w", err)
	}
	return deriveTitle(window.Title, window.Class, window.InitialClass), nil
}

// deriveTitle prefers a meeting-app name and trims browser-window noise.
func deriveTitle(title string, class string, initialClass string) string {
	title = strings.TrimSpace(title)
	class = strings.TrimSpace(class)
	if class == "" {
		class = strings.TrimSpace(initialClass)
	}

	app := meetingApp(class, title)
	switch {
	case app != "" && title != "":
		return app + " — " + title
	case app != "":
		return app
	default:
		return title
	}
}

// meetingApp maps window classes and title fragments to a known meeting app.
func meetingApp(class string, title string) string {
	lowClass := strings.ToLower(class)
	lowTitle := strings.ToLower(title)
	switch {
	case strings.Contains(lowClass, "zoom") || strings.Contains(lowTitle, "zoom meeting"):
		return "Zoom"
	case strings.Contains(lowTitle, "google meet") || strings.Contains(lowTitle, "meet.google"):
		return "Meet"
	case strings.Contains(lowClass, "teams") || strings.Contains(lowTitle, "microsoft teams"):
		return "Teams"
	case strings.Contains(lowClass, "slack") && strings.Contains(lowTitle, "huddle"):
		return "Slack"
	default:
		return ""
	}
}

func runHyprctlOutput(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "hyprctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, fmt.Errorf("hyprctl %v failed: %w", args, err)
		}
		return nil, fmt.Errorf("hyprctl %v failed: %w (%s)", args, err, trimmed)
	}
	return out, nil
}
