// Package signature turns pointer input into raster ink and exports it as
// a PNG data URL.
package signature

import (
	"bytes"
	"image/color"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/drfirst/go-clinic/internal/domain/consent"
)

// Rect is the surface's bounding box in device coordinates.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Options control how ink is drawn.
type Options struct {
	LineWidth  float64
	Ink        color.Color
	Background color.Color
	// Scale is the device pixel ratio; the raster is Width*Scale wide.
	Scale float64
}

// DefaultOptions returns a 2px black pen on white.
func DefaultOptions() Options {
	return Options{
		LineWidth:  2,
		Ink:        color.Black,
		Background: color.White,
		Scale:      1,
	}
}

// tapOffset is the length of the segment drawn on pointer-down, so a tap
// without movement still leaves a round dot.
const tapOffset = 0.01

// Pad is a signature surface. It only reacts to pointer input while active;
// a deactivated pad releases its raster. Pad is safe for concurrent use.
type Pad struct {
	mu      sync.Mutex
	opts    Options
	dc      *gg.Context
	bounds  Rect
	active  bool
	drawing bool
	hasInk  bool
	lastX   float64
	lastY   float64
}

// NewPad creates an inactive pad.
func NewPad(opts Options) *Pad {
	d := DefaultOptions()
	if opts.LineWidth <= 0 {
		opts.LineWidth = d.LineWidth
	}
	if opts.Ink == nil {
		opts.Ink = d.Ink
	}
	if opts.Background == nil {
		opts.Background = d.Background
	}
	if opts.Scale <= 0 {
		opts.Scale = d.Scale
	}
	return &Pad{opts: opts}
}

// Activate attaches the pad to a visible surface with the given bounds. A
// pad that is already active with the same size keeps its ink.
func (p *Pad) Activate(bounds Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := int(math.Ceil(bounds.Width * p.opts.Scale))
	h := int(math.Ceil(bounds.Height * p.opts.Scale))
	if w < 1 || h < 1 {
		return
	}
	if p.dc == nil || p.dc.Width() != w || p.dc.Height() != h {
		p.dc = gg.NewContext(w, h)
		p.dc.SetLineCapRound()
		p.dc.SetLineJoinRound()
		p.reset()
	}
	p.bounds = bounds
	p.active = true
}

// Deactivate detaches the pad. Pointer input is ignored and the raster is
// released until the next Activate.
func (p *Pad) Deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.drawing = false
	p.hasInk = false
	p.dc = nil
}

// Active reports whether the pad accepts input.
func (p *Pad) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pad) local(x, y float64) (float64, float64) {
	return (x - p.bounds.X) * p.opts.Scale, (y - p.bounds.Y) * p.opts.Scale
}

// PointerDown starts a stroke at device coordinate (x, y).
func (p *Pad) PointerDown(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || p.dc == nil {
		return
	}
	lx, ly := p.local(x, y)
	p.stroke(lx, ly, lx+tapOffset, ly+tapOffset)
	p.drawing = true
	p.hasInk = true
	p.lastX, p.lastY = lx, ly
}

// PointerMove extends the current stroke.
func (p *Pad) PointerMove(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || !p.drawing || p.dc == nil {
		return
	}
	lx, ly := p.local(x, y)
	p.stroke(p.lastX, p.lastY, lx, ly)
	p.lastX, p.lastY = lx, ly
}

// PointerUp ends the current stroke. It is accepted from anywhere, so a
// drag that leaves the surface still terminates.
func (p *Pad) PointerUp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawing = false
}

func (p *Pad) stroke(x1, y1, x2, y2 float64) {
	p.dc.SetColor(p.opts.Ink)
	p.dc.SetLineWidth(p.opts.LineWidth * p.opts.Scale)
	p.dc.DrawLine(x1, y1, x2, y2)
	p.dc.Stroke()
}

// HasInk reports whether anything was drawn since the last clear.
func (p *Pad) HasInk() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasInk
}

// Clear wipes the raster and the ink flag.
func (p *Pad) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawing = false
	if p.dc != nil {
		p.reset()
	}
	p.hasInk = false
}

func (p *Pad) reset() {
	p.dc.SetColor(p.opts.Background)
	p.dc.Clear()
}

// Export returns the raster as a PNG data URL, or "" when the pad has no
// raster. It never fails loudly.
func (p *Pad) Export() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dc == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := p.dc.EncodePNG(&buf); err != nil {
		return ""
	}
	return consent.EncodePNGDataURL(buf.Bytes())
}
