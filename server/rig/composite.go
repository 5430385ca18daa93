package rig

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/sensorrig/server/camera"
)

// Compose places frames side by side, left to right, in the order given.
// All frames must be RGB and of the same height.
func Compose(frames []*camera.Frame) (*cimg.Image, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	height := frames[0].Height()
	width := 0
	for _, f := range frames {
		if f.Image.Format != cimg.PixelFormatRGB {
			return nil, fmt.Errorf("Composite frame must be RGB, not %v", f.Image.Format)
		}
		if f.Height() != height {
			return nil, fmt.Errorf("%w (%v != %v)", ErrCompositeHeight, f.Height(), height)
		}
		width += f.Width()
	}

	out := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	x := 0
	for _, f := range frames {
		src := f.Image
		rowBytes := src.Width * 3
		for y := 0; y < height; y++ {
			dst := out.Pixels[y*out.Stride+x*3:]
			copy(dst[:rowBytes], src.Pixels[y*src.Stride:y*src.Stride+rowBytes])
		}
		x += src.Width
	}
	return out, nil
}

// tryEmitComposite sends the latest frame of every visual device to the video sink,
// as one composite image. If any visual device has not yet produced a frame, it does nothing.
//
// Each device's latest frame is sampled independently, so the constituents of a
// composite are aligned on a best-effort basis only. They are not guaranteed to
// come from the same engine tick. When two visual devices trigger at the same
// moment, the order in which their composites reach the sink is also undefined.
func (r *Rig) tryEmitComposite() {
	frames := make([]*camera.Frame, len(r.visual))
	for i, d := range r.visual {
		f := d.Frames.Latest()
		if f == nil {
			return
		}
		frames[i] = f
	}

	img, err := Compose(frames)
	if err != nil {
		r.composeThrottle.Warnf(r.log, "Failed to compose video frame: %v", err)
		return
	}
	r.metrics.CompositeEmitted()
	if err := r.sink.Append(img); err != nil {
		r.composeThrottle.Warnf(r.log, "Failed to append video frame: %v", err)
	}
}
