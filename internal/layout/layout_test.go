package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeFor(t *testing.T) {
	tests := []struct {
		numeric, emoji bool
		want           Mode
	}{
		{false, false, Letters},
		{true, false, Numeric},
		{false, true, Emoji},
		{true, true, Emoji},
	}
	for _, tc := range tests {
		t.Run(tc.want.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, ModeFor(tc.numeric, tc.emoji))
		})
	}
}

func TestRowsShiftUppercasesLettersOnly(t *testing.T) {
	rows := Rows(Letters, true)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Q", "W", "E", "R", "T", "Y", "U", "I", "O", "P"}, rows[0])
	assert.Equal(t, "M", rows[2][6])

	numeric := Rows(Numeric, true)
	assert.Equal(t, NumericRows, numeric)
}

func TestRowsReturnsCopies(t *testing.T) {
	rows := Rows(Letters, false)
	rows[0][0] = "x"
	assert.Equal(t, "q", QWERTY[0][0])
}

func TestHasFlankKeys(t *testing.T) {
	assert.True(t, HasFlankKeys(Letters, FlankRow))
	assert.True(t, HasFlankKeys(Numeric, FlankRow))
	assert.False(t, HasFlankKeys(Emoji, FlankRow))
	assert.False(t, HasFlankKeys(Letters, 0))
}

func TestToggleLabel(t *testing.T) {
	assert.Equal(t, "123", ToggleLabel(false))
	assert.Equal(t, "ABC", ToggleLabel(true))
}

func TestBottomRow(t *testing.T) {
	without := BottomRow(false)
	require.Len(t, without, 4)
	assert.Equal(t, KeyReturn, without[3].Key)

	with := BottomRow(true)
	require.Len(t, with, 5)
	assert.Equal(t, KeyDictation, with[3].Key)
	assert.Equal(t, float32(6), with[2].Grow)
}
