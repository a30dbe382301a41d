package ui

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"gioui.org/font/gofont"
	"gioui.org/io/key"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/text"
	"gioui.org/widget/material"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkbd/cmd/vkbd/internal/theme"
	"vkbd/internal/keyboard"
	"vkbd/internal/keys"
)

type fakeSession struct {
	mu     sync.Mutex
	state  keyboard.State
	events []keys.Event
	err    error
	block  chan struct{}
}

func (f *fakeSession) Snapshot() keyboard.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Dispatch(ctx context.Context, ev keys.Event) error {
	if ev.Kind == keys.Submit && f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeSession) seen() []keys.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]keys.Event(nil), f.events...)
}

func newTheme() *theme.Theme {
	mt := material.NewTheme()
	mt.Shaper = text.NewShaper(text.NoSystemFonts(), text.WithCollection(gofont.Collection()))
	return theme.NewTheme(mt)
}

func TestTranslate(t *testing.T) {
	km := keys.DefaultKeymap()
	tests := []struct {
		name  string
		event key.Event
		shift bool
		want  keys.Event
		ok    bool
	}{
		{"letter", key.Event{Name: "H", State: key.Press}, false, keys.Type("h"), true},
		{"shifted letter", key.Event{Name: "H", State: key.Press, Modifiers: key.ModShift}, false, keys.Type("H"), true},
		{"auto shift", key.Event{Name: "H", State: key.Press}, true, keys.Type("H"), true},
		{"digit", key.Event{Name: "7", State: key.Press}, false, keys.Type("7"), true},
		{"space", key.Event{Name: key.NameSpace, State: key.Press}, false, keys.Space(), true},
		{"backspace", key.Event{Name: key.NameDeleteBackward, State: key.Press}, false, keys.Event{Kind: keys.Backspace}, true},
		{"return", key.Event{Name: key.NameReturn, State: key.Press}, false, keys.Event{Kind: keys.Submit}, true},
		{"release", key.Event{Name: "H", State: key.Release}, false, keys.Event{}, false},
		{"unbound", key.Event{Name: key.NameF1, State: key.Press}, false, keys.Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translate(km, tt.event, tt.shift)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyFiltersCoverKeymap(t *testing.T) {
	km := keys.DefaultKeymap()
	filters := keyFilters(km)
	assert.Len(t, filters, len(km.Names())+26+10)

	names := make(map[key.Name]bool)
	for _, f := range filters {
		kf, ok := f.(key.Filter)
		require.True(t, ok)
		names[kf.Name] = true
	}
	for _, n := range km.Names() {
		assert.True(t, names[n], "missing filter for %s", n)
	}
}

func TestDispatchIgnoresHiddenInput(t *testing.T) {
	s := &fakeSession{err: keyboard.ErrNotShown}
	k := NewKeyboard(newTheme(), s, nil, nil)
	defer k.Close()

	k.dispatch(keys.Type("a"))
	assert.Equal(t, []keys.Event{keys.Type("a")}, s.seen())
}

func TestSubmitDoesNotBlock(t *testing.T) {
	s := &fakeSession{block: make(chan struct{})}
	k := NewKeyboard(newTheme(), s, nil, nil)

	submit := keys.Event{Kind: keys.Submit}
	k.dispatch(submit)
	// A second tap while the first is pending is dropped.
	k.dispatch(submit)
	k.dispatch(keys.Type("x"))
	assert.Equal(t, []keys.Event{keys.Type("x")}, s.seen())

	close(s.block)
	require.Eventually(t, func() bool { return len(s.seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, submit, s.seen()[1])
	require.Eventually(t, func() bool { return !k.submitting.Load() }, time.Second, 5*time.Millisecond)

	k.dispatch(submit)
	require.Eventually(t, func() bool { return len(s.seen()) == 3 }, time.Second, 5*time.Millisecond)
	k.Close()
}

func TestCloseAbandonsSubmit(t *testing.T) {
	s := &fakeSession{block: make(chan struct{})}
	k := NewKeyboard(newTheme(), s, nil, nil)
	k.dispatch(keys.Event{Kind: keys.Submit})

	done := make(chan struct{})
	go func() {
		k.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func frame(k *Keyboard, size image.Point) layout.Dimensions {
	gtx := layout.Context{
		Ops:         new(op.Ops),
		Now:         time.Now(),
		Constraints: layout.Exact(size),
	}
	return k.Layout(gtx)
}

func TestLayoutFollowsState(t *testing.T) {
	th := newTheme()
	s := &fakeSession{}
	k := NewKeyboard(th, s, nil, nil)
	defer k.Close()
	size := image.Pt(720, 360)

	// Hidden: nothing is drawn.
	assert.Equal(t, size, frame(k, size).Size)
	assert.Empty(t, k.caps)

	settings := keyboard.DefaultSettings()
	settings.AccentColor = "#102080"
	settings.Placeholder = "Search"
	s.state = keyboard.State{
		Phase:              keyboard.PhaseShown,
		Settings:           settings,
		ShiftActive:        true,
		DictationAvailable: true,
		Visibility:         1,
	}
	assert.Equal(t, size, frame(k, size).Size)
	assert.Equal(t, "#102080", k.accent)
	assert.Equal(t, uint8(0x80), th.Palette.Accent.B)
	require.Len(t, k.caps, 3)
	assert.Len(t, k.caps[0], 10)

	s.state.EmojiMode = true
	s.state.Visibility = 0.5
	s.state.Animating = true
	frame(k, size)
	assert.Empty(t, s.seen(), "drawing must not dispatch")
}
