// Package store persists finished sessions under the XDG data directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/awender/crosstalk/internal/audio"
	"github.com/awender/crosstalk/internal/transcribe"
)

// Meta is the summary record kept for each stored session.
type Meta struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Backend        string    `json:"backend"`
	MicSegments    int       `json:"mic_segments"`
	SystemSegments int       `json:"system_segments"`
	SyncRate       float64   `json:"sync_rate"`
}

// Duration returns the wall-clock span of the session.
func (m Meta) Duration() time.Duration {
	if m.EndedAt.Before(m.StartedAt) {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}

// storedWord and storedSegment fix the on-disk transcript.json schema
// independently of the in-memory types.
type storedWord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
}

type storedSegment struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	TimestampMs int64        `json:"timestamp_ms"`
	Source      string       `json:"source"`
	Confidence  float64      `json:"confidence"`
	SpeakerID   string       `json:"speaker_id,omitempty"`
	Words       []storedWord `json:"words,omitempty"`
}

const (
	metaFile       = "meta.json"
	transcriptJSON = "transcript.json"
	transcriptText = "transcript.txt"
	notesFile      = "notes.md"
)

// Store reads and writes session artifacts under a base directory.
type Store struct {
	dir string
}

// DefaultDir resolves $XDG_DATA_HOME/crosstalk/sessions with the usual
// ~/.local/share fallback.
func DefaultDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "crosstalk", "sessions"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "crosstalk", "sessions"), nil
}

// New opens a store rooted at dir, resolving the default when dir is empty.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		resolved, err := DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("store: resolve dir: %w", err)
		}
		dir = resolved
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the base sessions directory.
func (s *Store) Dir() string { return s.dir }

// SaveSession writes meta.json, transcript.json, and transcript.txt for one
// finished session.
func (s *Store) SaveSession(meta Meta, segments []transcribe.Segment, rendered string) error {
	if meta.ID == "" {
		return fmt.Errorf("store: session id is empty")
	}
	dir := filepath.Join(s.dir, meta.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create session dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, metaFile), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, transcriptJSON), toStored(segments)); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, transcriptText), []byte(rendered), 0o600); err != nil {
		return fmt.Errorf("store: write transcript: %w", err)
	}
	return nil
}

// SaveNotes writes notes.md for an existing session.
func (s *Store) SaveNotes(id, notes string) error {
	dir := filepath.Join(s.dir, id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("store: session %s: %w", id, err)
	}
	if err := os.WriteFile(filepath.Join(dir, notesFile), []byte(notes), 0o600); err != nil {
		return fmt.Errorf("store: write notes: %w", err)
	}
	return nil
}

// ListSessions returns the stored session metas, newest first. Directories
// without a readable meta.json are skipped.
func (s *Store) ListSessions() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read dir: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name(), metaFile))
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].StartedAt.After(metas[j].StartedAt)
	})
	return metas, nil
}

// LoadTranscript returns the rendered transcript text for a session.
func (s *Store) LoadTranscript(id string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, id, transcriptText))
	if err != nil {
		return "", fmt.Errorf("store: load transcript: %w", err)
	}
	return string(raw), nil
}

// LoadSegments returns the ordered final segments for a session.
func (s *Store) LoadSegments(id string) ([]transcribe.Segment, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, id, transcriptJSON))
	if err != nil {
		return nil, fmt.Errorf("store: load segments: %w", err)
	}
	var stored []storedSegment
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("store: parse segments: %w", err)
	}
	return fromStored(stored), nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func toStored(segments []transcribe.Segment) []storedSegment {
	out := make([]storedSegment, 0, len(segments))
	for _, seg := range segments {
		rec := storedSegment{
			ID:          seg.ID,
			Text:        seg.Text,
			TimestampMs: seg.TimestampMs,
			Source:      seg.Source.String(),
			Confidence:  seg.Confidence,
			SpeakerID:   seg.SpeakerID,
		}
		for _, w := range seg.Words {
			rec.Words = append(rec.Words, storedWord(w))
		}
		out = append(out, rec)
	}
	return out
}

func fromStored(stored []storedSegment) []transcribe.Segment {
	out := make([]transcribe.Segment, 0, len(stored))
	for _, rec := range stored {
		seg := transcribe.Segment{
			ID:          rec.ID,
			Text:        rec.Text,
			TimestampMs: rec.TimestampMs,
			Source:      parseSource(rec.Source),
			Confidence:  rec.Confidence,
			SpeakerID:   rec.SpeakerID,
			IsFinal:     true,
		}
		for _, w := range rec.Words {
			seg.Words = append(seg.Words, transcribe.Word(w))
		}
		out = append(out, seg)
	}
	return out
}

func parseSource(name string) audio.Source {
	if name == audio.SourceSystem.String() {
		return audio.SourceSystem
	}
	return audio.SourceMic
}
