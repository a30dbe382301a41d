package ui

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"

	"gioui.org/io/event"
	"gioui.org/io/key"
	"gioui.org/io/pointer"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"vkbd/cmd/vkbd/internal/theme"
	"vkbd/internal/anim"
	"vkbd/internal/keyboard"
	"vkbd/internal/keys"
	kblayout "vkbd/internal/layout"
)

// Session is the part of the keyboard controller the overlay drives.
type Session interface {
	Snapshot() keyboard.State
	Dispatch(ctx context.Context, ev keys.Event) error
}

// Keyboard draws the session state and turns taps and hardware keys into
// controller events.
type Keyboard struct {
	theme   *theme.Theme
	session Session
	keymap  *keys.Keymap
	filters []event.Filter
	logger  *slog.Logger

	accent string

	display   widget.Clickable
	caps      [][]*widget.Clickable
	shift     widget.Clickable
	backspace widget.Clickable
	bottom    map[kblayout.BottomKey]*widget.Clickable

	// mic is the pointer tag of the dictation key, which reacts to press
	// and release rather than clicks.
	mic     int
	micHeld bool

	submitting atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewKeyboard creates the overlay widget for s.
func NewKeyboard(t *theme.Theme, s Session, km *keys.Keymap, logger *slog.Logger) *Keyboard {
	if km == nil {
		km = keys.DefaultKeymap()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Keyboard{
		theme:   t,
		session: s,
		keymap:  km,
		filters: keyFilters(km),
		logger:  logger.With("component", "ui"),
		bottom:  make(map[kblayout.BottomKey]*widget.Clickable),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close abandons a pending submit and waits for it to return.
func (k *Keyboard) Close() {
	k.cancel()
	k.wg.Wait()
}

func (k *Keyboard) dispatch(ev keys.Event) {
	if ev.Kind == keys.Submit {
		// Submit waits on the host, so it must not block the frame.
		if !k.submitting.CompareAndSwap(false, true) {
			return
		}
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			defer k.submitting.Store(false)
			if err := k.session.Dispatch(k.ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
				k.logger.Warn("submit failed", "error", err)
			}
		}()
		return
	}

	if err := k.session.Dispatch(k.ctx, ev); err != nil {
		if errors.Is(err, keyboard.ErrNotShown) {
			k.logger.Debug("input while hidden", "event", ev.String())
			return
		}
		k.logger.Warn("input rejected", "event", ev.String(), "error", err)
	}
}

// Layout renders the keyboard.
func (k *Keyboard) Layout(gtx layout.Context) layout.Dimensions {
	st := k.session.Snapshot()

	for {
		e, ok := gtx.Event(k.filters...)
		if !ok {
			break
		}
		if ke, ok := e.(key.Event); ok {
			if ev, ok := translate(k.keymap, ke, st.ShiftActive); ok {
				k.dispatch(ev)
			}
		}
	}

	if st.Animating {
		gtx.Execute(op.InvalidateCmd{})
	}
	if st.Visibility <= 0 {
		return layout.Dimensions{Size: gtx.Constraints.Min}
	}

	if st.Settings.AccentColor != k.accent {
		if err := k.theme.SetAccent(st.Settings.AccentColor); err != nil {
			k.logger.Warn("ignoring accent color", "color", st.Settings.AccentColor, "error", err)
		}
		k.accent = st.Settings.AccentColor
	}

	defer paint.PushOpacity(gtx.Ops, float32(st.Visibility)).Pop()
	dy := anim.Interpolate(st.Visibility, 0, 1, -150, 0)
	defer op.Offset(image.Pt(0, gtx.Dp(unit.Dp(dy)))).Push(gtx.Ops).Pop()

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return k.layoutDisplay(gtx, st)
		}),
		layout.Rigid(layout.Spacer{Height: k.theme.Config.KeyGap}.Layout),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return k.layoutKeys(gtx, st)
		}),
	)
}

func (k *Keyboard) layoutDisplay(gtx layout.Context, st keyboard.State) layout.Dimensions {
	for k.display.Clicked(gtx) {
		k.dispatch(keys.Set(""))
	}

	txt, fg := st.Value, k.theme.Palette.Text
	if txt == "" {
		txt, fg = st.Placeholder(), k.theme.Palette.TextMuted
	}
	if st.DictationActive {
		txt, fg = "Listening…", k.theme.Palette.Recording
	}

	return k.display.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.UniformInset(k.theme.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			l := material.Label(k.theme.Theme, k.theme.Config.FontDisplay, txt)
			l.Color = fg
			l.MaxLines = 1
			gtx.Constraints.Min.X = gtx.Constraints.Max.X
			return l.Layout(gtx)
		})
	})
}

func (k *Keyboard) layoutKeys(gtx layout.Context, st keyboard.State) layout.Dimensions {
	size := gtx.Constraints.Max
	radius := gtx.Dp(k.theme.Config.CornerRadius) * 2
	paint.FillShape(gtx.Ops, k.theme.Palette.Backdrop, clip.UniformRRect(image.Rectangle{Max: size}, radius).Op(gtx.Ops))

	mode := st.DisplayMode()
	rows := kblayout.Rows(mode, st.ShiftActive)

	children := make([]layout.FlexChild, 0, len(rows)+1)
	for i, row := range rows {
		i, row := i, row
		children = append(children, layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return k.layoutRow(gtx, st, mode, i, row)
		}))
	}
	children = append(children, layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
		return k.layoutBottom(gtx, st)
	}))

	return layout.UniformInset(k.theme.Config.KeyGap).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx, children...)
	})
}

func (k *Keyboard) layoutRow(gtx layout.Context, st keyboard.State, mode kblayout.Mode, i int, row []string) layout.Dimensions {
	p := k.theme.Palette
	fontSize := k.theme.Config.FontKey
	if mode == kblayout.Emoji {
		fontSize = k.theme.Config.FontEmoji
	}

	var children []layout.FlexChild
	flank := kblayout.HasFlankKeys(mode, i)
	if flank {
		shiftBg := p.Special
		if st.ShiftActive {
			shiftBg = p.KeyActive
		}
		children = append(children, layout.Flexed(1.5, func(gtx layout.Context) layout.Dimensions {
			return k.button(gtx, &k.shift, "⇧", shiftBg, p.Text, k.theme.Config.FontKey, keys.Event{Kind: keys.ToggleShift})
		}))
	}
	for j, label := range row {
		label := label
		btn := k.capButton(i, j)
		children = append(children, layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return k.button(gtx, btn, label, p.Key, p.Text, fontSize, keys.Type(label))
		}))
	}
	if flank || (mode == kblayout.Emoji && i == len(kblayout.EmojiRows)-1) {
		children = append(children, layout.Flexed(1.5, func(gtx layout.Context) layout.Dimensions {
			return k.button(gtx, &k.backspace, "⌫", p.Special, p.Text, k.theme.Config.FontKey, keys.Event{Kind: keys.Backspace})
		}))
	}

	inset := layout.Inset{}
	if mode != kblayout.Emoji && i == kblayout.IndentRow {
		inset.Left, inset.Right = unit.Dp(20), unit.Dp(20)
	}
	return inset.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Horizontal}.Layout(gtx, children...)
	})
}

func (k *Keyboard) layoutBottom(gtx layout.Context, st keyboard.State) layout.Dimensions {
	p := k.theme.Palette
	fontSize := k.theme.Config.FontKey

	slots := kblayout.BottomRow(st.DictationAvailable)
	children := make([]layout.FlexChild, 0, len(slots))
	for _, slot := range slots {
		slot := slot
		var w layout.Widget
		switch slot.Key {
		case kblayout.KeyModeToggle:
			w = func(gtx layout.Context) layout.Dimensions {
				return k.button(gtx, k.bottomButton(slot.Key), kblayout.ToggleLabel(st.NumericMode), p.Special, p.Text, fontSize,
					keys.Event{Kind: keys.ToggleNumeric})
			}
		case kblayout.KeyEmoji:
			label := "☺"
			if st.EmojiMode {
				label = "abc"
			}
			w = func(gtx layout.Context) layout.Dimensions {
				return k.button(gtx, k.bottomButton(slot.Key), label, p.Special, p.Text, fontSize, keys.Event{Kind: keys.ToggleEmoji})
			}
		case kblayout.KeySpace:
			w = func(gtx layout.Context) layout.Dimensions {
				return k.button(gtx, k.bottomButton(slot.Key), "", p.Key, p.Text, fontSize, keys.Space())
			}
		case kblayout.KeyDictation:
			w = func(gtx layout.Context) layout.Dimensions {
				return k.layoutMic(gtx, st)
			}
		case kblayout.KeyReturn:
			w = func(gtx layout.Context) layout.Dimensions {
				return k.button(gtx, k.bottomButton(slot.Key), st.Settings.ReturnKeyLabel, p.Accent, p.OnAccent, fontSize,
					keys.Event{Kind: keys.Submit})
			}
		}
		children = append(children, layout.Flexed(slot.Grow, w))
	}
	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx, children...)
}

// layoutMic draws the push-to-talk key: press starts dictation and release
// or cancel ends it.
func (k *Keyboard) layoutMic(gtx layout.Context, st keyboard.State) layout.Dimensions {
	for {
		e, ok := gtx.Event(pointer.Filter{
			Target: &k.mic,
			Kinds:  pointer.Press | pointer.Release | pointer.Cancel,
		})
		if !ok {
			break
		}
		pe, ok := e.(pointer.Event)
		if !ok {
			continue
		}
		switch pe.Kind {
		case pointer.Press:
			if !k.micHeld {
				k.micHeld = true
				k.dispatch(keys.Event{Kind: keys.DictationStart})
			}
		case pointer.Release, pointer.Cancel:
			if k.micHeld {
				k.micHeld = false
				k.dispatch(keys.Event{Kind: keys.DictationEnd})
			}
		}
	}

	bg := k.theme.Palette.Special
	if st.DictationActive {
		bg = k.theme.Palette.Recording
	}
	dims := k.keyCap(gtx, "🎤", bg, k.theme.Palette.Text, k.theme.Config.FontKey)

	area := clip.Rect(image.Rectangle{Max: dims.Size}).Push(gtx.Ops)
	event.Op(gtx.Ops, &k.mic)
	area.Pop()
	return dims
}

func (k *Keyboard) capButton(i, j int) *widget.Clickable {
	for len(k.caps) <= i {
		k.caps = append(k.caps, nil)
	}
	for len(k.caps[i]) <= j {
		k.caps[i] = append(k.caps[i], new(widget.Clickable))
	}
	return k.caps[i][j]
}

func (k *Keyboard) bottomButton(key kblayout.BottomKey) *widget.Clickable {
	btn, ok := k.bottom[key]
	if !ok {
		btn = new(widget.Clickable)
		k.bottom[key] = btn
	}
	return btn
}

// button lays out a clickable key and dispatches ev for each click.
func (k *Keyboard) button(gtx layout.Context, btn *widget.Clickable, label string, bg, fg color.NRGBA, size unit.Sp, ev keys.Event) layout.Dimensions {
	for btn.Clicked(gtx) {
		k.dispatch(ev)
	}
	if btn.Pressed() {
		bg = k.theme.Palette.KeyActive
	}
	return btn.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return k.keyCap(gtx, label, bg, fg, size)
	})
}

// keyCap fills the available space with one key.
func (k *Keyboard) keyCap(gtx layout.Context, label string, bg, fg color.NRGBA, size unit.Sp) layout.Dimensions {
	return layout.UniformInset(k.theme.Config.KeyGap/2).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		sz := gtx.Constraints.Max
		if h := gtx.Dp(k.theme.Config.KeyHeight); sz.Y > h {
			sz.Y = h
		}
		rect := clip.UniformRRect(image.Rectangle{Max: sz}, gtx.Dp(k.theme.Config.CornerRadius)).Op(gtx.Ops)
		paint.FillShape(gtx.Ops, bg, rect)

		gtx.Constraints = layout.Exact(sz)
		return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			l := material.Label(k.theme.Theme, size, label)
			l.Color = fg
			l.Alignment = text.Middle
			l.MaxLines = 1
			return l.Layout(gtx)
		})
	})
}
