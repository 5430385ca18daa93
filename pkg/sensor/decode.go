package sensor

import (
	"errors"
	"fmt"

	"github.com/bmharper/cimg/v2"
)

var ErrUnsupportedFormat = errors.New("Unsupported pixel format")
var ErrShortBuffer = errors.New("Pixel buffer is smaller than width * height")

// CityScapes palette, indexed by the engine's semantic tag.
// Tags beyond the end of the table are drawn black.
var cityScapesPalette = [][3]byte{
	{0, 0, 0},       // 0 unlabeled
	{70, 70, 70},    // 1 building
	{100, 40, 40},   // 2 fence
	{55, 90, 80},    // 3 other
	{220, 20, 60},   // 4 pedestrian
	{153, 153, 153}, // 5 pole
	{157, 234, 50},  // 6 road line
	{128, 64, 128},  // 7 road
	{244, 35, 232},  // 8 sidewalk
	{107, 142, 35},  // 9 vegetation
	{0, 0, 142},     // 10 vehicle
	{102, 102, 156}, // 11 wall
	{220, 220, 0},   // 12 traffic sign
	{70, 130, 180},  // 13 sky
	{81, 0, 81},     // 14 ground
	{150, 100, 100}, // 15 bridge
	{230, 150, 140}, // 16 rail track
	{180, 165, 180}, // 17 guard rail
	{250, 170, 30},  // 18 traffic light
	{110, 190, 160}, // 19 static
	{170, 120, 50},  // 20 dynamic
	{45, 60, 150},   // 21 water
	{145, 170, 100}, // 22 terrain
}

// PaletteColor returns the CityScapes RGB color of a semantic tag
func PaletteColor(tag byte) (r, g, b byte) {
	if int(tag) >= len(cityScapesPalette) {
		return 0, 0, 0
	}
	c := cityScapesPalette[tag]
	return c[0], c[1], c[2]
}

// Decode converts a raw engine image into a tightly packed RGB image.
// Segmentation sensors store their semantic tag in the red channel, and for those
// we emit the palette color instead of the raw channels.
// The source buffer is never modified.
func Decode(kind Kind, raw *RawImage) (*cimg.Image, error) {
	if raw.Format != FormatBGRA8 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, raw.Format)
	}
	if raw.Width <= 0 || raw.Height <= 0 {
		return nil, fmt.Errorf("Invalid image size %v x %v", raw.Width, raw.Height)
	}
	srcStride := raw.Width * 4
	if len(raw.Pixels) < srcStride*raw.Height {
		return nil, fmt.Errorf("%w (%v < %v)", ErrShortBuffer, len(raw.Pixels), srcStride*raw.Height)
	}

	dst := cimg.NewImage(raw.Width, raw.Height, cimg.PixelFormatRGB)
	palette := kind.NeedsPalette()
	for y := 0; y < raw.Height; y++ {
		src := raw.Pixels[y*srcStride : (y+1)*srcStride]
		out := dst.Pixels[y*dst.Stride : y*dst.Stride+raw.Width*3]
		for x := 0; x < raw.Width; x++ {
			b := src[x*4]
			g := src[x*4+1]
			r := src[x*4+2]
			if palette {
				r, g, b = PaletteColor(r)
			}
			out[x*3] = r
			out[x*3+1] = g
			out[x*3+2] = b
		}
	}
	return dst, nil
}
