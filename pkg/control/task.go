package control

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/pickletour/courtlive/pkg/overlay"
)

// frameTask is one periodic producer. It owns its surfaces and a timestamp
// cursor that advances by exactly one frame interval per tick, whatever the
// wall clock does.
type frameTask struct {
	name     string
	interval time.Duration
	cursorUs int64
	stepUs   int64

	overlay *image.RGBA
	surface *image.RGBA
	ticks   int64

	// render draws one frame into surface at the given timestamp.
	render func(t *frameTask, tsUs int64) error
}

func newFrameTask(name string, fps, width, height int, render func(*frameTask, int64) error) *frameTask {
	if fps <= 0 {
		fps = 30
	}
	bounds := image.Rect(0, 0, width, height)
	return &frameTask{
		name:     name,
		interval: time.Second / time.Duration(fps),
		stepUs:   int64(time.Second/time.Microsecond) / int64(fps),
		overlay:  image.NewRGBA(bounds),
		surface:  image.NewRGBA(bounds),
		render:   render,
	}
}

// tick renders one frame and advances the cursor.
func (t *frameTask) tick() error {
	ts := t.cursorUs
	t.cursorUs += t.stepUs
	t.ticks++
	return t.render(t, ts)
}

// run ticks until ctx is done or render fails.
func (t *frameTask) run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.tick(); err != nil {
				return err
			}
		}
	}
}

// composite draws the current camera frame with the overlay on top into the
// task surface.
func (t *frameTask) composite(frame image.Image, comp *overlay.Compositor, layers overlay.Layers) {
	comp.Render(t.overlay, layers)
	overlay.Compose(t.surface, frame, t.overlay)
}

// previewBuffer publishes preview frames without blocking the producer.
type previewBuffer struct {
	latest atomic.Pointer[image.RGBA]
}

func (p *previewBuffer) publish(src *image.RGBA) {
	cp := image.NewRGBA(src.Bounds())
	copy(cp.Pix, src.Pix)
	p.latest.Store(cp)
}

func (p *previewBuffer) load() *image.RGBA {
	return p.latest.Load()
}
