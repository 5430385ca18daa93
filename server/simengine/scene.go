package simengine

import (
	"image"
	"image/color"
	"math"

	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/fogleman/gg"
)

// Semantic tags, in the engine's CityScapes numbering
const (
	tagBuilding   = 1
	tagPedestrian = 4
	tagRoadLine   = 6
	tagRoad       = 7
	tagSidewalk   = 8
	tagVegetation = 9
	tagVehicle    = 10
	tagSky        = 13
)

type box struct {
	x, y, w, h float64
	tag        byte
}

// layout returns the boxes of the scene at time t (seconds), in a w x h image.
// Coordinates are rounded so that segmentation edges are not anti-aliased into
// meaningless in-between tags.
func layout(w, h int, t float64) []box {
	fw, fh := float64(w), float64(h)
	horizon := math.Round(fh * 0.45)
	r := func(v float64) float64 { return math.Round(v) }
	boxes := []box{
		{0, 0, fw, horizon, tagSky},
		{0, horizon, fw, fh - horizon, tagRoad},
		{0, horizon, r(fw * 0.15), r(fh * 0.1), tagSidewalk},
		{r(fw * 0.85), horizon, fw - r(fw*0.85), r(fh * 0.1), tagSidewalk},
	}
	// buildings scroll past as the vehicle drives
	spacing := fw / 4
	offset := math.Mod(t*fw*0.1, spacing)
	for i := -1; i < 5; i++ {
		bx := r(float64(i)*spacing - offset)
		bh := r(fh * (0.2 + 0.05*float64((i+int(t))%3)))
		boxes = append(boxes, box{bx, horizon - bh, r(spacing * 0.6), bh, tagBuilding})
		boxes = append(boxes, box{bx + r(spacing*0.65), horizon - r(fh*0.08), r(spacing * 0.2), r(fh * 0.08), tagVegetation})
	}
	// lane markings
	for i := 0; i < 6; i++ {
		lx := r(math.Mod(float64(i)*fw/6+t*fw*0.2, fw))
		boxes = append(boxes, box{lx, r(fh * 0.75), r(fw / 24), math.Max(1, r(fh*0.02)), tagRoadLine})
	}
	// a vehicle ahead, weaving across the lane, and a pedestrian on the sidewalk
	vx := r(fw*0.4 + math.Sin(t)*fw*0.1)
	boxes = append(boxes, box{vx, r(fh * 0.55), r(fw * 0.2), r(fh * 0.15), tagVehicle})
	boxes = append(boxes, box{r(fw * 0.05), r(horizon - fh*0.12), math.Max(1, r(fw*0.02)), r(fh * 0.12), tagPedestrian})
	return boxes
}

// render draws the scene as the given sensor kind would see it
func render(kind sensor.Kind, w, h int, t float64) *image.RGBA {
	dc := gg.NewContext(w, h)
	switch kind {
	case sensor.KindSemanticSegmentation, sensor.KindInstanceSegmentation:
		dc.SetRGB255(0, 0, 0)
		dc.Clear()
		for i, b := range layout(w, h, t) {
			// The engine puts the tag in red. Instance segmentation also carries an instance id in green.
			g := 0
			if kind == sensor.KindInstanceSegmentation {
				g = i
			}
			dc.SetRGB255(int(b.tag), g, 0)
			dc.DrawRectangle(b.x, b.y, b.w, b.h)
			dc.Fill()
		}
	case sensor.KindDepth:
		// Far is bright, near is dark
		grad := gg.NewLinearGradient(0, 0, 0, float64(h))
		grad.AddColorStop(0, color.Gray{Y: 255})
		grad.AddColorStop(1, color.Gray{Y: 10})
		dc.SetFillStyle(grad)
		dc.DrawRectangle(0, 0, float64(w), float64(h))
		dc.Fill()
		for _, b := range layout(w, h, t) {
			if b.tag == tagVehicle || b.tag == tagPedestrian || b.tag == tagBuilding {
				v := int(40 + 150*(b.y+b.h)/float64(h))
				dc.SetRGB255(255-v, 255-v, 255-v)
				dc.DrawRectangle(b.x, b.y, b.w, b.h)
				dc.Fill()
			}
		}
	case sensor.KindNormals:
		dc.SetRGB255(128, 128, 255)
		dc.Clear()
		for _, b := range layout(w, h, t) {
			if b.tag == tagRoad || b.tag == tagSidewalk || b.tag == tagRoadLine {
				dc.SetRGB255(128, 255, 128)
			} else {
				dc.SetRGB255(255, 128, 128)
			}
			dc.DrawRectangle(b.x, b.y, b.w, b.h)
			dc.Fill()
		}
	default:
		for _, b := range layout(w, h, t) {
			r, g, bl := sensor.PaletteColor(b.tag)
			dc.SetRGB255(int(r), int(g), int(bl))
			dc.DrawRectangle(b.x, b.y, b.w, b.h)
			dc.Fill()
		}
		// sun
		dc.SetRGB255(255, 240, 180)
		dc.DrawCircle(float64(w)*0.8, float64(h)*0.12, math.Max(1, float64(h)*0.05))
		dc.Fill()
	}
	return dc.Image().(*image.RGBA)
}

// toBGRA writes img into dst as tightly packed BGRA, which is the engine's camera format
func toBGRA(img *image.RGBA, dst []byte) {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		out := dst[y*w*4 : (y+1)*w*4]
		for x := 0; x < w; x++ {
			out[x*4] = src[x*4+2]
			out[x*4+1] = src[x*4+1]
			out[x*4+2] = src[x*4]
			out[x*4+3] = 255
		}
	}
}
