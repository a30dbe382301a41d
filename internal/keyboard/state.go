package keyboard

import (
	"github.com/rivo/uniseg"

	"vkbd/internal/layout"
)

// BackspaceKey is the key name that deletes instead of typing.
const BackspaceKey = "Backspace"

// Phase is where the controller is in the show/submit cycle.
type Phase int

const (
	// PhaseIdle is before the first session was shown.
	PhaseIdle Phase = iota
	// PhaseShown is while a session accepts input.
	PhaseShown
	// PhaseSubmitting is while the host has not yet acknowledged a submit.
	// Input is still accepted.
	PhaseSubmitting
	// PhaseHidden is after a submit was acknowledged, until the next show.
	PhaseHidden
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseShown:
		return "shown"
	case PhaseSubmitting:
		return "submitting"
	case PhaseHidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// AcceptsInput reports whether key, change and dictation events are applied
// in this phase.
func (p Phase) AcceptsInput() bool {
	return p == PhaseShown || p == PhaseSubmitting
}

// State is a snapshot of the keyboard session.
type State struct {
	SessionID string
	Phase     Phase
	Settings  Settings

	// Value is the composed text. Empty means nothing typed.
	Value string

	ShiftActive     bool
	NumericMode     bool
	EmojiMode       bool
	DictationActive bool

	DictationAvailable bool

	// Visibility is the show/hide progress: 0 hidden, 1 shown.
	Visibility float64
	// Animating is set while Visibility is moving.
	Animating bool
}

// DisplayMode returns the layout to draw. Emoji wins over numeric.
func (s State) DisplayMode() layout.Mode {
	return layout.ModeFor(s.NumericMode, s.EmojiMode)
}

// Placeholder returns the hint text to draw, or "" when text was typed.
func (s State) Placeholder() string {
	if s.Value != "" {
		return ""
	}
	return s.Settings.Placeholder
}

// initialState is the state of a freshly constructed controller.
func initialState(defaults Settings) State {
	return State{
		Phase:       PhaseIdle,
		Settings:    defaults,
		ShiftActive: true,
	}
}

// withValue sets the value and re-derives shift: shift is on exactly when
// nothing is typed.
func withValue(s *State, value string) {
	s.Value = value
	s.ShiftActive = value == ""
}

// typeKey returns value after key was pressed. BackspaceKey removes the last
// user-perceived character; any other key is appended verbatim.
func typeKey(value, key string) string {
	if key == BackspaceKey {
		return dropLastGrapheme(value)
	}
	return value + key
}

// dropLastGrapheme removes the last grapheme cluster, so a backspace after
// an emoji with a skin tone modifier removes the whole emoji.
func dropLastGrapheme(s string) string {
	if s == "" {
		return s
	}
	last := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		last, _ = g.Positions()
	}
	return s[:last]
}
