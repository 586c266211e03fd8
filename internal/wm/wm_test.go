package wm

import "testing"

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name         string
		title        string
		class        string
		initialClass string
		want         string
	}{
		{"zoom by class", "Weekly sync", "zoom", "", "Zoom — Weekly sync"},
		{"zoom no title", "", "Zoom Workplace", "", "Zoom"},
		{"meet in browser title", "standup - Google Meet - Chromium", "chromium", "", "Meet — standup - Google Meet - Chromium"},
		{"teams", "Microsoft Teams", "teams-for-linux", "", "Teams — Microsoft Teams"},
		{"slack huddle", "Huddle: platform", "Slack", "", "Slack — Huddle: platform"},
		{"plain window", "notes.md - nvim", "kitty", "", "notes.md - nvim"},
		{"initial class fallback", "call", "", "zoom", "Zoom — call"},
		{"empty", "", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveTitle(tc.title, tc.class, tc.initialClass); got != tc.want {
				t.Errorf("deriveTitle(%q, %q, %q) = %q, want %q", tc.title, tc.class, tc.initialClass, got, tc.want)
			}
		})
	}
}
