package ui

import (
	"strings"

	"gioui.org/io/event"
	"gioui.org/io/key"

	"vkbd/internal/keys"
)

// keyFilters returns the hardware keys the overlay listens for: the keymap
// bindings plus letters and digits.
func keyFilters(km *keys.Keymap) []event.Filter {
	var filters []event.Filter
	add := func(name key.Name) {
		filters = append(filters, key.Filter{Name: name, Optional: key.ModShift})
	}
	for _, name := range km.Names() {
		add(name)
	}
	for c := 'A'; c <= 'Z'; c++ {
		add(key.Name(string(c)))
	}
	for c := '0'; c <= '9'; c++ {
		add(key.Name(string(c)))
	}
	return filters
}

// translate maps a hardware key press to a logical event. Letters are
// upper case when shift is held or the on-screen shift is on.
func translate(km *keys.Keymap, e key.Event, shift bool) (keys.Event, bool) {
	if e.State != key.Press {
		return keys.Event{}, false
	}
	if ev, ok := km.Lookup(e.Name); ok {
		return ev, true
	}

	s := string(e.Name)
	if len(s) != 1 {
		return keys.Event{}, false
	}
	switch c := s[0]; {
	case c >= 'A' && c <= 'Z':
		if !shift && !e.Modifiers.Contain(key.ModShift) {
			s = strings.ToLower(s)
		}
		return keys.Type(s), true
	case c >= '0' && c <= '9':
		return keys.Type(s), true
	}
	return keys.Event{}, false
}
