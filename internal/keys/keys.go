// Package keys defines the logical input events the keyboard controller
// consumes, and maps renderer taps and hardware keys onto them.
package keys

import "fmt"

// Kind identifies a logical event.
type Kind int

const (
	// Char appends Text to the value.
	Char Kind = iota
	// Backspace removes the last character.
	Backspace
	ToggleShift
	ToggleNumeric
	ToggleEmoji
	DictationStart
	DictationEnd
	Submit
	// Change replaces the whole value with Text.
	Change
)

var kindNames = map[Kind]string{
	Char:           "Char",
	Backspace:      "Backspace",
	ToggleShift:    "ToggleShift",
	ToggleNumeric:  "ToggleNumeric",
	ToggleEmoji:    "ToggleEmoji",
	DictationStart: "DictationStart",
	DictationEnd:   "DictationEnd",
	Submit:         "Submit",
	Change:         "Change",
}

// String returns the logical name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one logical input event.
type Event struct {
	Kind Kind
	Text string
}

// String renders the event for logs without exposing typed text.
func (e Event) String() string {
	if e.Kind == Char || e.Kind == Change {
		return fmt.Sprintf("%s(len=%d)", e.Kind, len(e.Text))
	}
	return e.Kind.String()
}

// Type returns a Char event for text.
func Type(text string) Event {
	return Event{Kind: Char, Text: text}
}

// Space returns the event produced by the space bar.
func Space() Event {
	return Type(" ")
}

// Set returns a Change event replacing the value with text.
func Set(text string) Event {
	return Event{Kind: Change, Text: text}
}

// Parse maps a key label to an event. The names of the control kinds
// ("Backspace", "ToggleShift", ...) select that kind; anything else is
// typed verbatim.
func Parse(label string) Event {
	for kind, name := range kindNames {
		if kind == Char || kind == Change {
			continue
		}
		if label == name {
			return Event{Kind: kind}
		}
	}
	return Type(label)
}
