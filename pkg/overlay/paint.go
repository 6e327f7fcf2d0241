package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

var (
	smallFace font.Face = basicfont.Face7x13
	largeFace font.Face = inconsolata.Bold8x16
)

func uniform(c color.NRGBA) *image.Uniform {
	return image.NewUniform(c)
}

// Colours used by the layers. Kept as uniforms so rendering a frame does not
// allocate per shape.
var (
	boardFill    = uniform(color.NRGBA{11, 15, 20, 230})
	panelFill    = uniform(color.NRGBA{11, 15, 20, 217})
	mutedText    = uniform(color.NRGBA{154, 164, 175, 255})
	brightText   = uniform(color.NRGBA{230, 237, 243, 255})
	teamADot     = uniform(color.NRGBA{37, 194, 160, 255})
	teamBDot     = uniform(color.NRGBA{79, 70, 229, 255})
	serveGold    = uniform(color.NRGBA{255, 215, 0, 242})
	liveRed      = uniform(color.NRGBA{239, 68, 68, 242})
	white        = uniform(color.NRGBA{255, 255, 255, 255})
	whitePanel   = uniform(color.NRGBA{255, 255, 255, 230})
	darkText     = uniform(color.NRGBA{51, 51, 51, 255})
	logoText     = uniform(color.NRGBA{102, 126, 234, 255})
	black        = uniform(color.NRGBA{0, 0, 0, 255})
	frameAccent  = uniform(color.NRGBA{102, 126, 234, 204})
	cornerAccent = uniform(color.NRGBA{255, 215, 0, 230})
)

func fillRect(dst *image.RGBA, r image.Rectangle, src *image.Uniform) {
	draw.Draw(dst, r, src, image.Point{}, draw.Over)
}

// fillRoundRect fills r with corners of radius rad, one span per row.
func fillRoundRect(dst *image.RGBA, r image.Rectangle, rad int, src *image.Uniform) {
	if limit := min(r.Dx(), r.Dy()) / 2; rad > limit {
		rad = limit
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		inset := 0
		if dy := r.Min.Y + rad - y; dy > 0 {
			inset = cornerInset(rad, dy)
		} else if dy := y - (r.Max.Y - 1 - rad); dy > 0 {
			inset = cornerInset(rad, dy)
		}
		fillRect(dst, image.Rect(r.Min.X+inset, y, r.Max.X-inset, y+1), src)
	}
}

func cornerInset(rad, dy int) int {
	dx := math.Sqrt(float64(rad*rad - dy*dy))
	return rad - int(dx)
}

func fillCircle(dst *image.RGBA, cx, cy, radius int, src *image.Uniform) {
	for dy := -radius; dy <= radius; dy++ {
		dx := int(math.Sqrt(float64(radius*radius - dy*dy)))
		fillRect(dst, image.Rect(cx-dx, cy+dy, cx+dx+1, cy+dy+1), src)
	}
}

// strokeCircle draws a ring of the given width centred on radius.
func strokeCircle(dst *image.RGBA, cx, cy, radius, width int, src *image.Uniform) {
	outer := float64(radius) + float64(width)/2
	inner := float64(radius) - float64(width)/2
	c := src.C
	b := image.Rect(cx-int(outer)-1, cy-int(outer)-1, cx+int(outer)+2, cy+int(outer)+2).Intersect(dst.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := math.Hypot(float64(x-cx), float64(y-cy))
			if d >= inner && d <= outer {
				dst.Set(x, y, blend(dst.RGBAAt(x, y), c))
			}
		}
	}
}

func blend(under color.RGBA, over color.Color) color.RGBA {
	r, g, b, a := over.RGBA()
	ia := 0xffff - a
	return color.RGBA{
		R: uint8((uint32(under.R)*0x101*ia/0xffff + r) >> 8),
		G: uint8((uint32(under.G)*0x101*ia/0xffff + g) >> 8),
		B: uint8((uint32(under.B)*0x101*ia/0xffff + b) >> 8),
		A: uint8((uint32(under.A)*0x101*ia/0xffff + a) >> 8),
	}
}

type align int

const (
	alignLeft align = iota
	alignCenter
	alignRight
)

// drawText draws s with its baseline at y.
func drawText(dst *image.RGBA, face font.Face, src *image.Uniform, x, y int, a align, s string) {
	if s == "" {
		return
	}
	switch a {
	case alignCenter:
		x -= font.MeasureString(face, s).Ceil() / 2
	case alignRight:
		x -= font.MeasureString(face, s).Ceil()
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func clearSurface(dst *image.RGBA) {
	for i := range dst.Pix {
		dst.Pix[i] = 0
	}
}
