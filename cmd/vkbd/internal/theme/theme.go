package theme

import (
	"fmt"
	"image/color"
	"runtime"
	"strconv"
	"strings"

	"gioui.org/unit"
	"gioui.org/widget/material"
)

// Palette defines the overlay colors.
type Palette struct {
	Backdrop  color.NRGBA
	Key       color.NRGBA
	KeyActive color.NRGBA
	Special   color.NRGBA
	Accent    color.NRGBA
	OnAccent  color.NRGBA
	Text      color.NRGBA
	TextMuted color.NRGBA
	Border    color.NRGBA
	Recording color.NRGBA
}

// Config defines the overlay metrics.
type Config struct {
	CornerRadius unit.Dp
	KeyGap       unit.Dp
	KeyHeight    unit.Dp
	Padding      unit.Dp
	FontDisplay  unit.Sp
	FontKey      unit.Sp
	FontEmoji    unit.Sp
}

// Theme wraps the material theme with keyboard styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// NewTheme creates a theme for the current OS.
func NewTheme(mtheme *material.Theme) *Theme {
	t := &Theme{
		Theme: mtheme,
	}

	if runtime.GOOS == "darwin" {
		setupMacOSTheme(t)
	} else {
		setupDefaultTheme(t)
	}

	t.Theme.Palette.Fg = t.Palette.Text
	t.Theme.Palette.Bg = t.Palette.Backdrop
	t.Theme.Palette.ContrastBg = t.Palette.Accent
	t.Theme.Palette.ContrastFg = t.Palette.OnAccent
	return t
}

func setupDefaultTheme(t *Theme) {
	t.Palette = Palette{
		Backdrop:  color.NRGBA{R: 0x12, G: 0x14, B: 0x18, A: 0xE6},
		Key:       color.NRGBA{R: 0x3A, G: 0x3D, B: 0x44, A: 0xFF},
		KeyActive: color.NRGBA{R: 0x55, G: 0x59, B: 0x62, A: 0xFF},
		Special:   color.NRGBA{R: 0x2A, G: 0x2C, B: 0x31, A: 0xFF},
		Accent:    color.NRGBA{R: 0x81, G: 0xD9, B: 0xFD, A: 0xFF},
		OnAccent:  color.NRGBA{R: 0x0B, G: 0x1B, B: 0x24, A: 0xFF},
		Text:      color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
		TextMuted: color.NRGBA{R: 0x9A, G: 0x9E, B: 0xA6, A: 0xFF},
		Border:    color.NRGBA{R: 0x4A, G: 0x4D, B: 0x55, A: 0xFF},
		Recording: color.NRGBA{R: 0xE8, G: 0x11, B: 0x23, A: 0xFF},
	}

	t.Config = Config{
		CornerRadius: unit.Dp(6),
		KeyGap:       unit.Dp(6),
		KeyHeight:    unit.Dp(52),
		Padding:      unit.Dp(12),
		FontDisplay:  unit.Sp(22),
		FontKey:      unit.Sp(18),
		FontEmoji:    unit.Sp(24),
	}
}

func setupMacOSTheme(t *Theme) {
	setupDefaultTheme(t)
	t.Palette.Key = color.NRGBA{R: 0x46, G: 0x46, B: 0x4A, A: 0xFF}
	t.Palette.Special = color.NRGBA{R: 0x2C, G: 0x2C, B: 0x2E, A: 0xFF}
	t.Palette.Recording = color.NRGBA{R: 0xFF, G: 0x45, B: 0x3A, A: 0xFF}
	t.Config.CornerRadius = unit.Dp(10) // macOS rounded corners are larger
	t.Config.FontKey = unit.Sp(17)
}

// SetAccent replaces the accent color from a #RRGGBB or #RRGGBBAA string
// and picks a readable foreground for it. An invalid string leaves the
// theme unchanged.
func (t *Theme) SetAccent(hex string) error {
	c, err := ParseHex(hex)
	if err != nil {
		return err
	}
	t.Palette.Accent = c
	t.Palette.OnAccent = Contrast(c)
	t.Theme.Palette.ContrastBg = t.Palette.Accent
	t.Theme.Palette.ContrastFg = t.Palette.OnAccent
	return nil
}

// ParseHex parses #RRGGBB or #RRGGBBAA.
func ParseHex(s string) (color.NRGBA, error) {
	h, ok := strings.CutPrefix(s, "#")
	if !ok || (len(h) != 6 && len(h) != 8) {
		return color.NRGBA{}, fmt.Errorf("theme: bad color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("theme: bad color %q: %w", s, err)
	}
	if len(h) == 6 {
		v = v<<8 | 0xFF
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}

// Contrast returns near-black for light colors and white for dark ones.
func Contrast(c color.NRGBA) color.NRGBA {
	// Rec. 601 luma, integer form.
	luma := (299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000
	if luma > 140 {
		return color.NRGBA{R: 0x0B, G: 0x1B, B: 0x24, A: 0xFF}
	}
	return color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
}

// Fade scales the alpha of c by v in [0, 1].
func Fade(c color.NRGBA, v float64) color.NRGBA {
	switch {
	case v <= 0:
		c.A = 0
	case v < 1:
		c.A = uint8(float64(c.A) * v)
	}
	return c
}
