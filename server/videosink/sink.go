package videosink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/videox"
	"github.com/cyclopcam/sensorrig/server/log"
	"github.com/cyclopcam/sensorrig/server/metrics"
)

var ErrGeometryMismatch = errors.New("Frame size differs from the video size")
var ErrEncoderFailure = errors.New("Video encoder failure")
var ErrSinkClosed = errors.New("Video sink is closed")

type GeometryMismatchError struct {
	Width, Height           int // Size of the video
	FrameWidth, FrameHeight int // Size of the rejected frame
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("%v: frame is %v x %v, video is %v x %v", ErrGeometryMismatch, e.FrameWidth, e.FrameHeight, e.Width, e.Height)
}

func (e *GeometryMismatchError) Unwrap() error {
	return ErrGeometryMismatch
}

// Encoder is the part of videox.VideoEncoder that the sink needs
type Encoder interface {
	WriteFrame(img *cimg.Image) error
	Close() error
}

// OpenFunc creates an encoder for frames of the given size
type OpenFunc func(width, height int) (Encoder, error)

// FFmpegOpener returns an OpenFunc that creates videox encoders from params,
// filling in the width and height of the first frame.
func FFmpegOpener(params videox.EncoderParams) OpenFunc {
	return func(width, height int) (Encoder, error) {
		p := params
		p.Width = width
		p.Height = height
		enc, err := videox.NewVideoEncoder(p)
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
}

type State int

const (
	StateUnopened State = iota
	StateOpen
	StateBroken // A fatal encoder failure. Terminal.
	StateClosed // Terminal
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Stats struct {
	State           State
	Opened          bool // True if the encoder was ever opened
	Width           int
	Height          int
	FramesWritten   int64
	FramesRejected  int64 // Geometry mismatches
	EncoderFailures int64 // Open and write failures
	OpenedAt        time.Time
	ClosedAt        time.Time
	Err             error // The sticky error, if the sink is broken
}

// Sink writes frames to a single video file.
// The encoder is opened lazily, when the first frame arrives, and the size of
// the video is fixed by that first frame. Frames of any other size are dropped.
// All methods are safe for concurrent use, and Append calls are serialized,
// so that the encoder sees whole frames, one at a time.
type Sink struct {
	Log      logs.Log
	Filename string // For logging only. The opener decides where the video is actually written.

	open     OpenFunc
	metrics  *metrics.Metrics
	throttle *log.Throttle

	lock  sync.Mutex // Spans open, encode, write, and close
	enc   Encoder
	stats Stats
}

func New(logger logs.Log, filename string, open OpenFunc, m *metrics.Metrics) *Sink {
	return &Sink{
		Log:      logs.NewPrefixLogger(logger, "Sink:"),
		Filename: filename,
		open:     open,
		metrics:  m,
		throttle: log.NewThrottle(30 * time.Second),
	}
}

// Append opens the encoder if necessary, and writes one frame.
// A GeometryMismatchError drops the frame but leaves the sink usable.
// If the encoder fails to open, the sink remains unopened, and the next Append will try again.
func (s *Sink) Append(img *cimg.Image) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch s.stats.State {
	case StateClosed:
		s.metrics.SinkError(metrics.SinkErrorClosed)
		return ErrSinkClosed
	case StateBroken:
		return s.stats.Err
	case StateUnopened:
		enc, err := s.open(img.Width, img.Height)
		if err != nil {
			s.stats.EncoderFailures++
			s.metrics.SinkError(metrics.SinkErrorOpen)
			err = fmt.Errorf("%w: Failed to open %v: %v", ErrEncoderFailure, s.Filename, err)
			s.throttle.Warnf(s.Log, "%v", err)
			return err
		}
		s.enc = enc
		s.stats.State = StateOpen
		s.stats.Opened = true
		s.stats.Width = img.Width
		s.stats.Height = img.Height
		s.stats.OpenedAt = time.Now()
		s.Log.Infof("Opened %v (%v x %v)", s.Filename, img.Width, img.Height)
	}

	if img.Width != s.stats.Width || img.Height != s.stats.Height {
		s.stats.FramesRejected++
		s.metrics.SinkError(metrics.SinkErrorGeometry)
		return &GeometryMismatchError{
			Width:       s.stats.Width,
			Height:      s.stats.Height,
			FrameWidth:  img.Width,
			FrameHeight: img.Height,
		}
	}

	start := time.Now()
	if err := s.enc.WriteFrame(img); err != nil {
		s.stats.EncoderFailures++
		if videox.IsFatal(err) {
			s.metrics.SinkError(metrics.SinkErrorFatal)
			if cerr := s.enc.Close(); cerr != nil {
				s.Log.Warnf("Error closing broken encoder: %v", cerr)
			}
			s.enc = nil
			s.stats.State = StateBroken
			s.stats.ClosedAt = time.Now()
			s.stats.Err = fmt.Errorf("%w: %v", ErrEncoderFailure, err)
			s.Log.Errorf("Video %v is broken after %v frames: %v", s.Filename, s.stats.FramesWritten, err)
			return s.stats.Err
		}
		s.metrics.SinkError(metrics.SinkErrorWrite)
		s.throttle.Warnf(s.Log, "Failed to write frame to %v: %v", s.Filename, err)
		return fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}
	s.stats.FramesWritten++
	s.metrics.SinkFrameWritten(time.Since(start))
	return nil
}

// Close finalizes the video. It is safe to call Close more than once.
// The error from finalizing is returned only by the first call.
// A broken sink stays broken.
func (s *Sink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch s.stats.State {
	case StateClosed:
		return nil
	case StateBroken:
		// The encoder was already closed when it broke
		return nil
	}
	var err error
	if s.enc != nil {
		if err = s.enc.Close(); err != nil {
			s.stats.EncoderFailures++
			err = fmt.Errorf("%w: Failed to finalize %v: %v", ErrEncoderFailure, s.Filename, err)
			s.Log.Errorf("%v", err)
		} else {
			s.Log.Infof("Finalized %v (%v frames)", s.Filename, s.stats.FramesWritten)
		}
		s.enc = nil
	}
	s.stats.State = StateClosed
	s.stats.ClosedAt = time.Now()
	return err
}

func (s *Sink) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.stats
}
