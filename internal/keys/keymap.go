package keys

import (
	"gioui.org/io/key"
)

// Keymap translates hardware key presses into logical events so the overlay
// can also be driven from a physical keyboard.
type Keymap struct {
	bindings map[key.Name]Kind
}

// DefaultKeymap returns the standard bindings.
func DefaultKeymap() *Keymap {
	return &Keymap{
		bindings: map[key.Name]Kind{
			key.NameDeleteBackward: Backspace,
			key.NameReturn:         Submit,
			key.NameEnter:          Submit,
			key.NameTab:            ToggleNumeric,
			key.NameEscape:         ToggleEmoji,
		},
	}
}

// Bind maps name to kind, replacing any existing binding.
func (m *Keymap) Bind(name key.Name, kind Kind) {
	m.bindings[name] = kind
}

// Lookup returns the event bound to a key press, if any.
// The space bar maps to a typed space.
func (m *Keymap) Lookup(name key.Name) (Event, bool) {
	if name == key.NameSpace {
		return Space(), true
	}
	kind, ok := m.bindings[name]
	if !ok {
		return Event{}, false
	}
	return Event{Kind: kind}, true
}

// Names returns the bound key names, for building a key.Filter set.
func (m *Keymap) Names() []key.Name {
	names := make([]key.Name, 0, len(m.bindings)+1)
	names = append(names, key.NameSpace)
	for name := range m.bindings {
		names = append(names, name)
	}
	return names
}
