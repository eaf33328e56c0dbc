// Package render turns a source image plus a list of detections into an
// annotated image with painted bounding boxes and class labels. It is pure:
// identical inputs produce pixel-identical output.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/govisionhq/lens/internal/govision"
)

// palette assigns stable colors per class; a class id always maps to the same
// entry across renders.
var palette = []color.NRGBA{
	{R: 0xef, G: 0x44, B: 0x44, A: 0xff},
	{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff},
	{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff},
	{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff},
	{R: 0xa8, G: 0x55, B: 0xf7, A: 0xff},
	{R: 0xec, G: 0x48, B: 0x99, A: 0xff},
	{R: 0x06, G: 0xb6, B: 0xd4, A: 0xff},
	{R: 0xf9, G: 0x73, B: 0x16, A: 0xff},
	{R: 0x14, G: 0xb8, B: 0xa6, A: 0xff},
	{R: 0x8b, G: 0x5c, B: 0xf6, A: 0xff},
}

var labelTextColor = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

const (
	labelPadX     = 8
	labelPadY     = 6
	labelInsetX   = 4
	labelBaseline = 4
	fallbackLabel = "object"
)

// Annotate paints each detection onto a copy of src and returns the result.
// Detections with non-positive width or height are skipped, not an error.
// Boxes arrive center-based and are converted to top-left here.
func Annotate(src image.Image, detections []govision.Detection) *image.NRGBA {
	dst := imaging.Clone(src)
	stroke := lineWidth(dst.Bounds().Dx())

	for _, d := range detections {
		if d.Width <= 0 || d.Height <= 0 {
			continue
		}
		x := int(math.Round(d.CenterX - d.Width/2))
		y := int(math.Round(d.CenterY - d.Height/2))
		w := int(math.Round(d.Width))
		h := int(math.Round(d.Height))
		col := BoxColor(d.ClassID)

		strokeRect(dst, image.Rect(x, y, x+w, y+h), stroke, col)
		drawLabel(dst, x, y, labelText(d), col)
	}
	return dst
}

// BoxColor returns the palette color for a class id.
func BoxColor(classID int) color.NRGBA {
	idx := classID % len(palette)
	if idx < 0 {
		idx = -idx
	}
	return palette[idx]
}

// lineWidth scales the box stroke with the image width, never below 2px.
func lineWidth(imageWidth int) int {
	w := int(math.Round(float64(imageWidth) / 300))
	if w < 2 {
		return 2
	}
	return w
}

func labelText(d govision.Detection) string {
	label := d.ClassLabel
	if label == "" {
		label = fallbackLabel
	}
	return fmt.Sprintf("%s %d%%", label, int(math.Round(d.Confidence*100)))
}

func strokeRect(dst draw.Image, r image.Rectangle, width int, col color.NRGBA) {
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), col)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), col)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), col)
	fillRect(dst, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), col)
}

func fillRect(dst draw.Image, r image.Rectangle, col color.NRGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
}

// drawLabel paints the label background above the box (clamped to the top
// edge) and the text over it.
func drawLabel(dst *image.NRGBA, x, y int, text string, col color.NRGBA) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()

	labelH := face.Height + labelPadY
	labelW := textWidth + labelPadX
	labelY := y - labelH
	if labelY < 0 {
		labelY = 0
	}

	fillRect(dst, image.Rect(x, labelY, x+labelW, labelY+labelH), col)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelTextColor),
		Face: face,
		Dot:  fixed.P(x+labelInsetX, labelY+labelH-labelBaseline),
	}
	drawer.DrawString(text)
}
