package imaging

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Palette []color.NRGBA

// ParseHex parses "#rrggbb" or "#rrggbbaa".
func ParseHex(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("hex color %q: want 6 or 8 digits", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("hex color %q: %w", s, err)
	}
	if len(h) == 6 {
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// MustPalette panics on a malformed color; meant for package-level palettes.
func MustPalette(hex ...string) Palette {
	p := make(Palette, 0, len(hex))
	for _, h := range hex {
		c, err := ParseHex(h)
		if err != nil {
			panic(err)
		}
		p = append(p, c)
	}
	return p
}

// Hex formats c as "#rrggbb".
func Hex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Gradient linearly interpolates the stops into n colors.
func (p Palette) Gradient(n int) Palette {
	if n <= 0 || len(p) == 0 {
		return nil
	}
	if len(p) == 1 || n == 1 {
		out := make(Palette, n)
		for i := range out {
			out[i] = p[0]
		}
		return out
	}
	out := make(Palette, n)
	segs := float64(len(p) - 1)
	for i := range n {
		t := float64(i) / float64(n-1) * segs
		k := int(t)
		if k >= len(p)-1 {
			k = len(p) - 2
		}
		f := t - float64(k)
		a, b := p[k], p[k+1]
		out[i] = color.NRGBA{
			R: lerp(a.R, b.R, f),
			G: lerp(a.G, b.G, f),
			B: lerp(a.B, b.B, f),
			A: lerp(a.A, b.A, f),
		}
	}
	return out
}

// At maps v in [0,1] onto the palette.
func (p Palette) At(v float64) color.NRGBA {
	if len(p) == 0 {
		return color.NRGBA{}
	}
	i := int(v * float64(len(p)-1))
	i = max(0, min(i, len(p)-1))
	return p[i]
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*f + 0.5)
}

// Named palettes used by the bundled modules.
var (
	Fire   = MustPalette("#000000", "#7a0403", "#e52d00", "#ff8c00", "#ffe066", "#ffffff")
	Blues  = MustPalette("#f7fbff", "#c6dbef", "#6baed6", "#2171b5", "#08306b")
	Glow   = MustPalette("#000004", "#420a68", "#932667", "#dd513a", "#fca50a", "#fcffa4")
	Glasby = MustPalette("#d60000", "#8c3bff", "#018700", "#00acc6", "#97ff00",
		"#ff7ed1", "#6b004f", "#ffa52f", "#573b00", "#005659")
)

// HashColor derives a stable color from parts, keeping each channel at or
// below 191 so it stays visible on white.
func HashColor(parts ...string) color.NRGBA {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	v := d.Sum64()
	return color.NRGBA{R: uint8(v % 192), G: uint8((v >> 16) % 192), B: uint8((v >> 32) % 192), A: 0xff}
}
