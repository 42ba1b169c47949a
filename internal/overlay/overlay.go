// Package overlay draws detection boxes and text labels onto frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	BoxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	LabelBG    = color.RGBA{R: 0, G: 0, B: 0, A: 180}
	LabelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	thickness = 2
	padding   = 3
)

var face = basicfont.Face7x13

// Clone copies src into a new RGBA with the same bounds.
func Clone(src image.Image) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// DrawRect outlines r on dst, clipped to dst's bounds.
func DrawRect(dst draw.Image, r image.Rectangle, c color.Color) {
	r = r.Canon()
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), u, image.Point{}, draw.Over)
	}
}

// TextSize returns the pixel size of s rendered with the label face.
func TextSize(s string) image.Point {
	w := font.MeasureString(face, s).Ceil()
	m := face.Metrics()
	return image.Pt(w, (m.Ascent + m.Descent).Ceil())
}

// DrawText renders s on a filled background whose top-left corner is at.
// The label is shifted to stay inside dst.
func DrawText(dst draw.Image, at image.Point, s string) image.Rectangle {
	if s == "" {
		return image.Rectangle{}
	}
	size := TextSize(s).Add(image.Pt(2*padding, 2*padding))
	bg := image.Rectangle{Min: at, Max: at.Add(size)}

	b := dst.Bounds()
	if bg.Max.X > b.Max.X {
		bg = bg.Sub(image.Pt(bg.Max.X-b.Max.X, 0))
	}
	if bg.Max.Y > b.Max.Y {
		bg = bg.Sub(image.Pt(0, bg.Max.Y-b.Max.Y))
	}
	if bg.Min.X < b.Min.X {
		bg = bg.Add(image.Pt(b.Min.X-bg.Min.X, 0))
	}
	if bg.Min.Y < b.Min.Y {
		bg = bg.Add(image.Pt(0, b.Min.Y-bg.Min.Y))
	}
	draw.Draw(dst, bg.Intersect(b), image.NewUniform(LabelBG), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(LabelColor),
		Face: face,
		Dot:  fixed.P(bg.Min.X+padding, bg.Min.Y+padding+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
	return bg
}

// Annotate returns a copy of img with box outlined and label drawn above
// it, or inside the box when there is no room above.
func Annotate(img image.Image, box image.Rectangle, label string) *image.RGBA {
	out := Clone(img)
	DrawRect(out, box, BoxColor)
	if label != "" {
		at := image.Pt(box.Min.X, box.Min.Y-TextSize(label).Y-2*padding)
		if at.Y < out.Bounds().Min.Y {
			at.Y = box.Min.Y + thickness
		}
		DrawText(out, at, label)
	}
	return out
}

// Stamp writes text in the bottom-left corner of img in place.
func Stamp(img draw.Image, text string) {
	b := img.Bounds()
	size := TextSize(text).Add(image.Pt(2*padding, 2*padding))
	DrawText(img, image.Pt(b.Min.X+4, b.Max.Y-size.Y-4), text)
}
