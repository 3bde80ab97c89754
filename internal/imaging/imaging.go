// Package imaging provides the raster helpers shared by the compositor,
// the dispatcher and the rendering modules.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// MIMEType is the only output format the server produces.
const MIMEType = "image/png"

// Transparent returns a fully transparent w x h image.
func Transparent(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// HasAlpha reports whether the image's color model carries an alpha channel.
func HasAlpha(img image.Image) bool {
	switch m := img.ColorModel(); m {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model,
		color.AlphaModel, color.Alpha16Model:
		return true
	default:
		if p, ok := m.(color.Palette); ok {
			for _, c := range p {
				if _, _, _, a := c.RGBA(); a != 0xffff {
					return true
				}
			}
		}
		return false
	}
}

// EnsureAlpha returns img unchanged when it has an alpha channel, otherwise
// a copy with a fully opaque alpha channel.
func EnsureAlpha(img image.Image) image.Image {
	if HasAlpha(img) {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
