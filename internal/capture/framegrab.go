package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

// Still dimensions sent to the interpretation backend. Small enough to keep
// per-still payloads in the tens of kilobytes, large enough for slide text.
const (
	stillWidth  = 640
	stillHeight = 360
)

// stillJPEGQuality balances legibility against payload size.
const stillJPEGQuality = 70

// stillGrabber captures downscaled JPEG stills of one display. The scale
// target is preallocated; each Grab reuses it, so Grab is not safe for
// concurrent use and serialises internally.
type stillGrabber struct {
	mu      sync.Mutex
	display int
	target  *image.RGBA
	buf     bytes.Buffer
}

// newStillGrabber probes for a capturable display up front so a screen
// share that can never produce video fails at start rather than silently.
func newStillGrabber(display int) (*stillGrabber, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no capturable display found")
	}
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display %d out of range (have %d)", display, n)
	}
	return &stillGrabber{
		display: display,
		target:  image.NewRGBA(image.Rect(0, 0, stillWidth, stillHeight)),
	}, nil
}

// Grab captures the display and returns it scaled to fit the still
// dimensions, aspect ratio preserved, JPEG-encoded.
func (g *stillGrabber) Grab(ctx context.Context) (*StillImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := screenshot.CaptureDisplay(g.display)
	if err != nil {
		return nil, fmt.Errorf("capturing display %d: %w", g.display, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dst := fitRect(src.Bounds(), stillWidth, stillHeight)
	clear(g.target.Pix)
	draw.ApproxBiLinear.Scale(g.target, dst, src, src.Bounds(), draw.Src, nil)

	g.buf.Reset()
	if err := jpeg.Encode(&g.buf, g.target, &jpeg.Options{Quality: stillJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding still: %w", err)
	}

	return &StillImage{
		Data:   bytes.Clone(g.buf.Bytes()),
		Width:  stillWidth,
		Height: stillHeight,
	}, nil
}

// fitRect returns the largest rectangle with src's aspect ratio that fits in
// maxW×maxH, centred.
func fitRect(src image.Rectangle, maxW, maxH int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 {
		return image.Rect(0, 0, maxW, maxH)
	}

	w, h := maxW, sh*maxW/sw
	if h > maxH {
		w, h = sw*maxH/sh, maxH
	}
	x := (maxW - w) / 2
	y := (maxH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}
