package transcribe

import (
	"sync"

	"github.com/awender/crosstalk/internal/audio"
)

// ChannelState tracks one logical channel's connection lifecycle.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

// String returns the log name for a channel state.
func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelGate holds per-source channel state so every backend variant applies
// the same send-gating semantics.
type ChannelGate struct {
	mu     sync.Mutex
	states map[audio.Source]ChannelState
}

// NewChannelGate starts both channels at Idle.
func NewChannelGate() *ChannelGate {
	return &ChannelGate{states: map[audio.Source]ChannelState{
		audio.SourceMic:    ChannelIdle,
		audio.SourceSystem: ChannelIdle,
	}}
}

// BeginConnect marks a channel as connecting.
func (g *ChannelGate) BeginConnect(source audio.Source) {
	g.set(source, ChannelConnecting)
}

// SetOpen marks a channel as open for sends.
func (g *ChannelGate) SetOpen(source audio.Source) {
	g.set(source, ChannelOpen)
}

// BeginClose marks a channel as closing; sends gate shut immediately.
func (g *ChannelGate) BeginClose(source audio.Source) {
	g.set(source, ChannelClosing)
}

// SetClosed marks a channel as fully closed.
func (g *ChannelGate) SetClosed(source audio.Source) {
	g.set(source, ChannelClosed)
}

// IsOpen reports whether sends to the channel are currently allowed.
func (g *ChannelGate) IsOpen(source audio.Source) bool {
	return g.State(source) == ChannelOpen
}

// State returns the channel's current state.
func (g *ChannelGate) State(source audio.Source) ChannelState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[source]
}

func (g *ChannelGate) set(source audio.Source, state ChannelState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[source] = state
}
