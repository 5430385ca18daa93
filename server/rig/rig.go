// Package rig attaches a fixed set of cameras to the simulated vehicle, buffers
// everything they produce, and turns the visual cameras into a composite video.
package rig

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/cyclopcam/sensorrig/server/camera"
	"github.com/cyclopcam/sensorrig/server/config"
	"github.com/cyclopcam/sensorrig/server/log"
	"github.com/cyclopcam/sensorrig/server/metrics"
	"github.com/cyclopcam/sensorrig/server/recordingdb"
	"github.com/cyclopcam/sensorrig/server/videosink"
)

type State int32

const (
	StateConstructed State = iota
	StateActive
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Options struct {
	Metrics     *metrics.Metrics         // May be nil
	Recordings  *recordingdb.RecordingDB // If not nil, every finished video is added here
	OpenEncoder videosink.OpenFunc       // If nil, we run ffmpeg with the config's encoder parameters
}

// A registration is a device that has been spawned inside the engine
type registration struct {
	device    *camera.Device
	listening bool
}

// Rig owns the devices, their frame buffers, and the video sink.
// The engine calls into the rig from its own goroutines, one per device.
type Rig struct {
	log        logs.Log
	engine     sensor.Engine
	cfg        config.Config
	metrics    *metrics.Metrics
	recordings *recordingdb.RecordingDB
	sessionID  string

	devices []*camera.Device // Model devices, then visual devices
	model   []*camera.Device
	visual  []*camera.Device
	sink    *videosink.Sink // nil if video is disabled

	gate            *gate
	composeThrottle *log.Throttle

	lifecycleLock sync.Mutex // Serializes Start and Close
	state         atomic.Int32
	registered    []*registration
}

// New validates the configuration and creates the devices.
// Nothing is attached to the engine until Start.
func New(logger logs.Log, engine sensor.Engine, cfg *config.Config, opts Options) (*Rig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Rig{
		log:             logs.NewPrefixLogger(logger, "Rig:"),
		engine:          engine,
		cfg:             *cfg,
		metrics:         opts.Metrics,
		recordings:      opts.Recordings,
		sessionID:       recordingdb.NewSessionID(),
		composeThrottle: log.NewThrottle(30 * time.Second),
	}
	r.gate = newGate(r, opts.Metrics)

	for _, spec := range cfg.DeviceSpecs() {
		d := camera.NewDevice(logger, spec, cfg.RetentionBytes(), opts.Metrics)
		r.devices = append(r.devices, d)
		if spec.Role == sensor.RoleVisual {
			r.visual = append(r.visual, d)
		} else {
			r.model = append(r.model, d)
		}
	}

	if cfg.VideoEnabled() && len(r.visual) == 0 {
		r.log.Infof("No visual sensors, so no video will be recorded")
	}
	if cfg.VideoEnabled() && len(r.visual) > 0 {
		open := opts.OpenEncoder
		if open == nil {
			open = videosink.FFmpegOpener(cfg.EncoderParams())
		}
		r.sink = videosink.New(logger, cfg.Video.Path, open, opts.Metrics)
		for _, d := range r.visual {
			d.OnFrame = func(_ *camera.Device, _ *camera.Frame) {
				r.tryEmitComposite()
			}
		}
	}
	return r, nil
}

func (r *Rig) State() State {
	return State(r.state.Load())
}

func (r *Rig) setState(s State) {
	r.log.Debugf("State %v -> %v", r.State(), s)
	r.state.Store(int32(s))
}

// SessionID identifies this rig's recording in the recording DB
func (r *Rig) SessionID() string {
	return r.sessionID
}

func (r *Rig) VideoEnabled() bool {
	return r.sink != nil
}

// VideoPath is the configured output file, or empty if video is disabled
func (r *Rig) VideoPath() string {
	if r.sink == nil {
		return ""
	}
	return r.cfg.Video.Path
}

// Start spawns every device and begins listening to it, model devices first.
// If any device fails, everything that was already registered is torn down,
// the rig is closed, and a *PartialRegistrationError is returned.
func (r *Rig) Start() error {
	r.lifecycleLock.Lock()
	defer r.lifecycleLock.Unlock()

	if r.State() != StateConstructed {
		return ErrAlreadyStarted
	}

	for _, d := range r.devices {
		id, err := r.engine.Spawn(d.Spec)
		if err != nil {
			return r.abortStart(&PartialRegistrationError{Device: d.Name(), Stage: "spawn", Err: err})
		}
		d.SetActor(id)
		reg := &registration{device: d}
		r.registered = append(r.registered, reg)
		if err := r.engine.Listen(id, r.gate.callback(d)); err != nil {
			return r.abortStart(&PartialRegistrationError{Device: d.Name(), Stage: "listen", Err: err})
		}
		reg.listening = true
		r.log.Infof("Attached %v (%v, fov %v)", d.Name(), d.Spec.Resolution, d.Spec.FOV)
	}
	r.setState(StateActive)
	return nil
}

func (r *Rig) abortStart(perr *PartialRegistrationError) error {
	r.log.Errorf("%v. Detaching %v registered sensors", perr, len(r.registered))
	r.setState(StateStopping)
	if err := r.teardown(); err != nil {
		r.log.Warnf("Errors while detaching sensors: %v", err)
	}
	r.setState(StateClosed)
	return perr
}

// Close detaches every device from the engine, waits for callbacks that are
// already running to finish, and then finalizes the video.
// Close is a no-op if the rig was never started, or is already closed.
// Close must not be called from inside an engine callback.
func (r *Rig) Close() error {
	r.lifecycleLock.Lock()
	defer r.lifecycleLock.Unlock()

	switch r.State() {
	case StateConstructed:
		r.gate.close()
		if r.sink != nil {
			r.sink.Close()
		}
		r.setState(StateClosed)
		return nil
	case StateActive:
	default:
		return nil
	}

	r.setState(StateStopping)
	err := r.teardown()
	r.setState(StateClosed)
	return err
}

func (r *Rig) teardown() error {
	errs := []error{}
	for _, reg := range r.registered {
		if !reg.listening {
			continue
		}
		id, _ := reg.device.Actor()
		if err := r.engine.StopListening(id); err != nil {
			errs = append(errs, fmt.Errorf("Failed to stop listening to %v: %w", reg.device.Name(), err))
		}
		reg.listening = false
	}

	// After this, no callback is running, and no new callback will touch the rig
	r.gate.close()

	for _, reg := range r.registered {
		id, _ := reg.device.Actor()
		if err := r.engine.Destroy(id); err != nil {
			errs = append(errs, fmt.Errorf("Failed to destroy %v: %w", reg.device.Name(), err))
		}
	}
	r.registered = nil

	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			errs = append(errs, err)
		}
		r.recordVideo()
	}
	return errors.Join(errs...)
}

// Add the finished video to the recording DB
func (r *Rig) recordVideo() {
	st := r.sink.Stats()
	if !st.Opened {
		r.log.Infof("No video frames were produced")
		return
	}
	path, err := filepath.Abs(r.cfg.Video.Path)
	if err != nil {
		path = r.cfg.Video.Path
	}
	r.log.Infof("Video saved to %v (%v frames, %v x %v)", path, st.FramesWritten, st.Width, st.Height)
	if r.recordings == nil {
		return
	}
	sensors := []string{}
	for _, d := range r.visual {
		sensors = append(sensors, d.Spec.Kind.Shorthand())
	}
	rec := &recordingdb.Recording{
		SessionID:       r.sessionID,
		Path:            path,
		Width:           st.Width,
		Height:          st.Height,
		FPS:             r.cfg.Video.FPS,
		Codec:           r.cfg.Video.Codec.String(),
		FramesWritten:   st.FramesWritten,
		FramesRejected:  st.FramesRejected,
		EncoderFailures: st.EncoderFailures,
		Broken:          st.State == videosink.StateBroken,
		Sensors:         recordingdb.JoinSensors(sensors),
		StartedAt:       dbh.MakeIntTime(st.OpenedAt),
		FinishedAt:      dbh.MakeIntTime(st.ClosedAt),
	}
	if err := r.recordings.Add(rec); err != nil {
		r.log.Errorf("%v", err)
	}
}

// onImage runs on the engine's goroutine, inside the gate
func (r *Rig) onImage(d *camera.Device, img *sensor.RawImage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.CallbackPanic()
			r.log.Errorf("Panic while handling frame %v of %v: %v", img.Frame, d.Name(), rec)
		}
	}()
	d.OnImage(img)
}

// Devices returns all devices, model devices first
func (r *Rig) Devices() []*camera.Device {
	return append([]*camera.Device(nil), r.devices...)
}

// Device returns the device of the given role and kind, or nil
func (r *Rig) Device(role sensor.Role, kind sensor.Kind) *camera.Device {
	for _, d := range r.devices {
		if d.Spec.Role == role && d.Spec.Kind == kind {
			return d
		}
	}
	return nil
}

// ModelFrames returns the frame buffer of a model device, or nil if there is no such device
func (r *Rig) ModelFrames(kind sensor.Kind) *camera.FrameBuffer {
	if d := r.Device(sensor.RoleModel, kind); d != nil {
		return d.Frames
	}
	return nil
}

// VisualFrames returns the frame buffer of a visual device, or nil if there is no such device
func (r *Rig) VisualFrames(kind sensor.Kind) *camera.FrameBuffer {
	if d := r.Device(sensor.RoleVisual, kind); d != nil {
		return d.Frames
	}
	return nil
}

// FrontCamera is the frame buffer of the first model device
func (r *Rig) FrontCamera() *camera.FrameBuffer {
	return r.model[0].Frames
}

// SinkStats returns the state of the video, and false if video is disabled
func (r *Rig) SinkStats() (videosink.Stats, bool) {
	if r.sink == nil {
		return videosink.Stats{}, false
	}
	return r.sink.Stats(), true
}
