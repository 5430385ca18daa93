package sensor

import "time"

// ActorID identifies a sensor that has been spawned inside the simulation engine
type ActorID int64

type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatBGRA8               // 4 bytes per pixel, B,G,R,A. This is what the engine's cameras produce.
)

func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGRA8:
		return 4
	}
	return 0
}

// RawImage is a single image event, exactly as the engine delivers it.
// The engine may reuse Pixels after the callback returns, so consumers must copy.
type RawImage struct {
	Frame     int64         // Engine frame number (simulation tick)
	Timestamp time.Duration // Simulation time since the episode began
	Width     int
	Height    int
	Format    PixelFormat
	Pixels    []byte
}

// ImageCallback receives raw images. It is called on a goroutine owned by the engine.
type ImageCallback func(img *RawImage)

// Engine is the part of the simulation engine that we need in order to
// attach cameras to the vehicle and receive their images.
type Engine interface {
	// Spawn a sensor, attached to the vehicle
	Spawn(spec Spec) (ActorID, error)

	// Start delivering images to cb. Each actor may only have one listener.
	Listen(id ActorID, cb ImageCallback) error

	// Stop delivering images. Callbacks that are already in flight may still run after this returns.
	StopListening(id ActorID) error

	// Remove the sensor from the world
	Destroy(id ActorID) error
}
