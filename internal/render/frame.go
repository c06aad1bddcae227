package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/world"
)

// AgentRadius is the drawn radius of one agent in pixels.
const AgentRadius = 6

// FrameRenderer draws agent snapshots over a shaded world backdrop at one
// pixel per world unit.
type FrameRenderer struct {
	Backdrop *world.Backdrop // nil = plain white

	once       sync.Once
	background *image.RGBA
}

// NewFrameRenderer creates a renderer over the given backdrop.
func NewFrameRenderer(b *world.Backdrop) *FrameRenderer {
	return &FrameRenderer{Backdrop: b}
}

func (r *FrameRenderer) base() *image.RGBA {
	r.once.Do(func() {
		bounds := image.Rect(0, 0, int(world.Width), int(world.Height))
		bg := image.NewRGBA(bounds)
		draw.Draw(bg, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
		if r.Backdrop != nil {
			for y := 0; y < bounds.Dy(); y++ {
				for x := 0; x < bounds.Dx(); x++ {
					// Light paper tones between 225 and 255.
					v := uint8(225 + 30*r.Backdrop.Shade(float64(x), float64(y)))
					bg.SetRGBA(x, y, color.RGBA{v, v, uint8(min(255, int(v)+6)), 255})
				}
			}
		}
		r.background = bg
	})
	return r.background
}

// Render draws one snapshot: agents as state-colored discs with a dark
// outline, and a day/count caption in the top-left corner.
func (r *FrameRenderer) Render(st engine.State) *image.RGBA {
	bg := r.base()
	img := image.NewRGBA(bg.Bounds())
	copy(img.Pix, bg.Pix)

	// Dead first so living agents stay visible on top.
	for _, pass := range []bool{true, false} {
		for _, a := range st.Agents {
			if (a.State == agents.Dead) != pass {
				continue
			}
			drawDisc(img, int(a.X), int(a.Y), AgentRadius, StateColor(a.State), color.Black)
		}
	}

	caption := fmt.Sprintf("Day %d  S:%d I:%d R:%d D:%d",
		st.Day, st.Stats.S, st.Stats.I, st.Stats.R, st.Stats.D)
	addLabel(img, 8, 18, caption, color.Black)
	return img
}

// drawDisc fills a circle and strokes its rim.
func drawDisc(img *image.RGBA, cx, cy, radius int, fill, stroke color.Color) {
	outer := radius * radius
	inner := (radius - 1) * (radius - 1)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d := dx*dx + dy*dy
			if d > outer {
				continue
			}
			x, y := cx+dx, cy+dy
			if !(image.Point{X: x, Y: y}).In(img.Rect) {
				continue
			}
			if d > inner {
				img.Set(x, y, stroke)
			} else {
				img.Set(x, y, fill)
			}
		}
	}
}

// addLabel draws a text label with its baseline at (x, y).
func addLabel(img *image.RGBA, x, y int, label string, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}

// EncodeJPEG encodes an image at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
