// Package media draws detections onto frames and exports events as JPEG
// stills and an animated GIF.
package media

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"pirwatch/internal/pipeline"
)

var (
	colorPerson = color.RGBA{0, 255, 0, 255}
	colorDog    = color.RGBA{255, 165, 0, 255}
	colorCat    = color.RGBA{255, 0, 255, 255}
	colorOther  = color.RGBA{0, 255, 255, 255}
	colorText   = color.RGBA{0, 0, 0, 255}
)

const boxThickness = 2

// ClassColor returns the box colour for a detection class.
func ClassColor(class string) color.RGBA {
	switch class {
	case pipeline.ClassPerson:
		return colorPerson
	case pipeline.ClassDog:
		return colorDog
	case pipeline.ClassCat:
		return colorCat
	default:
		return colorOther
	}
}

// Label renders the caption drawn above a box.
func Label(d pipeline.Detection) string {
	return fmt.Sprintf("%s: %.2f", d.Class, d.Confidence)
}

// Annotate returns a copy of img with a box and label per detection.
func Annotate(img image.Image, detections []pipeline.Detection) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, det := range detections {
		c := ClassColor(det.Class)
		b := det.BBox
		drawBox(rgba, b.X1, b.Y1, b.X2-b.X1, b.Y2-b.Y1, c, boxThickness)
		drawLabel(rgba, b.X1, b.Y1, Label(det), c)
	}
	return rgba
}

// drawBox draws a rectangle outline clipped to the image.
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	if w <= 0 || h <= 0 {
		return
	}
	bounds := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(bounds) {
			img.SetRGBA(px, py, c)
		}
	}

	for t := 0; t < thickness; t++ {
		for i := x; i <= x+w; i++ {
			set(i, y+t)
			set(i, y+h-t)
		}
		for j := y; j <= y+h; j++ {
			set(x+t, j)
			set(x+w-t, j)
		}
	}
}

// drawLabel draws text on a filled background whose bottom edge sits on
// the box top. Labels that would leave the frame are pushed inside.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	const textHeight = 13
	const pad = 2

	top := y - textHeight - 2*pad
	if top < img.Bounds().Min.Y {
		top = img.Bounds().Min.Y
	}
	if x < img.Bounds().Min.X {
		x = img.Bounds().Min.X
	}

	bg := image.Rect(x, top, x+textWidth+2*pad, top+textHeight+2*pad).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(c), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorText),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x + pad), Y: fixed.I(top + pad + face.Ascent)},
	}
	d.DrawString(label)
}
