// Package sprite draws the cursor images used by the demo commands.
package sprite

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/vector"
)

// arrow outline in a unit square, tip at the origin
var arrowShape = [][2]float32{
	{0, 0},
	{0, 0.80},
	{0.21, 0.62},
	{0.36, 0.95},
	{0.48, 0.90},
	{0.34, 0.58},
	{0.60, 0.58},
}

// Arrow renders a size×size pointer with a dark outline.
func Arrow(size int, fill color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	s := float32(size)

	fillPolygon(img, arrowShape, s, 0, 0, color.Black)
	// the body is the outline shrunk towards the tip, nudged inwards
	inset := s * 0.07
	fillPolygon(img, arrowShape, s*0.82, inset*0.6, inset*1.5, fill)
	return img
}

func fillPolygon(dst *image.RGBA, pts [][2]float32, scale, dx, dy float32, c color.Color) {
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	for i, p := range pts {
		x, y := p[0]*scale+dx, p[1]*scale+dy
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

// WriteARGB8888 stores img in dst as little-endian ARGB8888 rows of pitch
// bytes, the layout of a DRM_FORMAT_ARGB8888 buffer. dst must hold
// img.Bounds().Dy() rows.
func WriteARGB8888(dst []byte, pitch int, img image.Image) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(b)
		draw.Draw(rgba, b, img, b.Min, draw.Src)
	}

	for y := 0; y < b.Dy(); y++ {
		row := dst[y*pitch:]
		src := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < b.Dx(); x++ {
			// image.RGBA is premultiplied like the scanout expects
			row[x*4+0] = src[x*4+2]
			row[x*4+1] = src[x*4+1]
			row[x*4+2] = src[x*4+0]
			row[x*4+3] = src[x*4+3]
		}
	}
}
