// Package layout holds the static key tables of the virtual keyboard.
//
// The tables carry no behavior. The renderer asks for the rows of the
// current display mode and turns each cap into a key; the controller only
// ever sees the text of the cap that was tapped.
package layout

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mode is the layout currently shown on the keyboard.
type Mode int

const (
	// Letters shows the QWERTY letter rows.
	Letters Mode = iota
	// Numeric shows digits and punctuation.
	Numeric
	// Emoji shows the emoji picker.
	Emoji
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Letters:
		return "letters"
	case Numeric:
		return "numeric"
	case Emoji:
		return "emoji"
	default:
		return "unknown"
	}
}

// ModeFor resolves the two independent toggles into one display mode.
// Emoji wins over numeric.
func ModeFor(numeric, emoji bool) Mode {
	switch {
	case emoji:
		return Emoji
	case numeric:
		return Numeric
	default:
		return Letters
	}
}

// QWERTY is the letter layout, lower case.
var QWERTY = [][]string{
	{"q", "w", "e", "r", "t", "y", "u", "i", "o", "p"},
	{"a", "s", "d", "f", "g", "h", "j", "k", "l"},
	{"z", "x", "c", "v", "b", "n", "m"},
}

// NumericRows is the digit and symbol layout.
var NumericRows = [][]string{
	{"1", "2", "3", "4", "5", "6", "7", "8", "9", "0"},
	{"-", "/", ":", ";", "(", ")", "$", "@", "\""},
	{".", ",", "?", "!", "`"},
}

// EmojiRows is the emoji picker, grouped loosely by theme.
var EmojiRows = [][]string{
	{"😀", "😂", "😍", "😎", "😢", "😡", "🤔", "😴"},
	{"👍", "👎", "👏", "🙏", "💪", "👋", "👌", "✌️"},
	{"❤️", "🔥", "⭐", "🎉", "🍕", "☕", "🚀", "👍🏽"},
}

// FlankRow is the index of the row that carries the shift and backspace keys.
const FlankRow = 2

// IndentRow is the index of the row drawn with a side margin.
const IndentRow = 1

// Rows returns the key caps for mode. When shift is set, letter caps are
// upper-cased. The returned slices are fresh copies.
func Rows(mode Mode, shift bool) [][]string {
	var src [][]string
	switch mode {
	case Numeric:
		src = NumericRows
	case Emoji:
		src = EmojiRows
	default:
		src = QWERTY
	}

	// A Caser keeps state, so each call gets its own.
	upper := cases.Upper(language.Und)
	rows := make([][]string, len(src))
	for i, row := range src {
		rows[i] = make([]string, len(row))
		for j, key := range row {
			if shift && mode == Letters {
				key = upper.String(key)
			}
			rows[i][j] = key
		}
	}
	return rows
}

// HasFlankKeys reports whether row i of mode carries shift and backspace.
// The emoji picker has its own backspace in the bottom row instead.
func HasFlankKeys(mode Mode, i int) bool {
	return mode != Emoji && i == FlankRow
}

// ToggleLabel is the caption of the numeric toggle key.
func ToggleLabel(numeric bool) string {
	if numeric {
		return "ABC"
	}
	return "123"
}

// BottomKey identifies one key of the fixed bottom row.
type BottomKey int

const (
	KeyModeToggle BottomKey = iota
	KeyEmoji
	KeySpace
	KeyDictation
	KeyReturn
)

// BottomSlot describes a bottom row key and its relative width.
type BottomSlot struct {
	Key  BottomKey
	Grow float32
}

// BottomRow returns the fixed bottom row. The dictation key is only present
// when the host offers dictation.
func BottomRow(dictationAvailable bool) []BottomSlot {
	slots := []BottomSlot{
		{Key: KeyModeToggle, Grow: 2},
		{Key: KeyEmoji, Grow: 2},
		{Key: KeySpace, Grow: 6},
	}
	if dictationAvailable {
		slots = append(slots, BottomSlot{Key: KeyDictation, Grow: 2})
	}
	return append(slots, BottomSlot{Key: KeyReturn, Grow: 3})
}
