package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/cyclopcam/sensorrig/server/log"
	"github.com/cyclopcam/sensorrig/server/metrics"
)

var ErrFrameGeometry = errors.New("Frame size does not match the device resolution")

// Device is one camera sensor attached to the vehicle.
// The engine delivers images to OnImage, which decodes them and appends them to Frames.
type Device struct {
	Spec   sensor.Spec
	Log    logs.Log
	Frames *FrameBuffer

	// If not nil, called after every successful append, on the engine's callback goroutine.
	// The rig uses this to trigger composite video frames.
	OnFrame func(d *Device, f *Frame)

	metrics  *metrics.Metrics
	throttle *log.Throttle
	actor    sensor.ActorID
	spawned  bool
}

func NewDevice(logger logs.Log, spec sensor.Spec, retentionBytes int, m *metrics.Metrics) *Device {
	return &Device{
		Spec:     spec,
		Log:      logs.NewPrefixLogger(logger, fmt.Sprintf("Camera %v", spec.Name())),
		Frames:   NewFrameBuffer(retentionBytes),
		metrics:  m,
		throttle: log.NewThrottle(30 * time.Second),
	}
}

func (d *Device) Name() string {
	return d.Spec.Name()
}

func (d *Device) IsVisual() bool {
	return d.Spec.Role == sensor.RoleVisual
}

// SetActor records the engine actor that this device owns
func (d *Device) SetActor(id sensor.ActorID) {
	d.actor = id
	d.spawned = true
}

// Actor returns the engine actor, and false if the device has not been spawned
func (d *Device) Actor() (sensor.ActorID, bool) {
	return d.actor, d.spawned
}

// OnImage handles one image from the engine.
// Images that can't be decoded, or which are not the configured size, are dropped.
// The raw image is not retained or modified.
func (d *Device) OnImage(raw *sensor.RawImage) error {
	role := d.Spec.Role.String()
	kind := d.Spec.Kind.Shorthand()
	if raw.Width != d.Spec.Resolution.Width || raw.Height != d.Spec.Resolution.Height {
		d.metrics.FrameRejected(role, kind, metrics.RejectGeometry)
		err := fmt.Errorf("%w: got %v x %v, expected %v", ErrFrameGeometry, raw.Width, raw.Height, d.Spec.Resolution)
		d.throttle.Warnf(d.Log, "Dropping frame %v: %v", raw.Frame, err)
		return err
	}
	img, err := sensor.Decode(d.Spec.Kind, raw)
	if err != nil {
		d.metrics.FrameRejected(role, kind, metrics.RejectDecode)
		d.throttle.Warnf(d.Log, "Failed to decode frame %v: %v", raw.Frame, err)
		return err
	}
	f := &Frame{
		EngineFrame: raw.Frame,
		Timestamp:   raw.Timestamp,
		Received:    time.Now(),
		Image:       img,
	}
	d.Frames.Append(f)
	d.metrics.FrameReceived(role, kind, d.Frames.Len())

	if d.OnFrame != nil {
		d.OnFrame(d, f)
	}
	return nil
}

// LatestJPEG returns the most recent frame, compressed as a JPEG.
// Returns nil if there are no frames yet.
func (d *Device) LatestJPEG(quality int) ([]byte, error) {
	f := d.Frames.Latest()
	if f == nil {
		return nil, nil
	}
	return cimg.Compress(f.Image, cimg.MakeCompressParams(cimg.Sampling(cimg.Sampling420), quality, cimg.Flags(0)))
}
