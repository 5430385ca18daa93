package videosink

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/videox"
	"github.com/stretchr/testify/require"
)

// fakeEncoder records frames, and fails the test if two writes ever overlap
type fakeEncoder struct {
	t        *testing.T
	busy     atomic.Int32
	frames   atomic.Int64
	closed   atomic.Int32
	failNext error
	closeErr error
	delay    time.Duration
}

func (f *fakeEncoder) WriteFrame(img *cimg.Image) error {
	if f.busy.Add(1) != 1 {
		f.t.Errorf("Concurrent WriteFrame")
	}
	defer f.busy.Add(-1)
	if f.closed.Load() != 0 {
		f.t.Errorf("WriteFrame after Close")
	}
	if f.delay != 0 {
		time.Sleep(f.delay)
	}
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	f.frames.Add(1)
	return nil
}

func (f *fakeEncoder) Close() error {
	f.closed.Add(1)
	return f.closeErr
}

type fakeOpener struct {
	enc      *fakeEncoder
	opens    int
	failures int // Fail this many opens before succeeding
	width    int
	height   int
}

func (o *fakeOpener) open(width, height int) (Encoder, error) {
	o.opens++
	if o.failures > 0 {
		o.failures--
		return nil, errors.New("ffmpeg not found")
	}
	o.width = width
	o.height = height
	return o.enc, nil
}

func newTestSink(t *testing.T) (*Sink, *fakeOpener) {
	o := &fakeOpener{enc: &fakeEncoder{t: t}}
	return New(logs.NewTestingLog(t), "test.mp4", o.open, nil), o
}

func rgb(w, h int) *cimg.Image {
	return cimg.NewImage(w, h, cimg.PixelFormatRGB)
}

func TestSinkLogPrefix(t *testing.T) {
	s, _ := newTestSink(t)
	pl, ok := s.Log.(*logs.PrefixLogger)
	require.True(t, ok)
	require.Equal(t, "Sink: ", pl.Prefix)
}

func TestSinkGeometryLock(t *testing.T) {
	s, o := newTestSink(t)
	require.Equal(t, StateUnopened, s.Stats().State)

	require.NoError(t, s.Append(rgb(20, 10)))
	require.Equal(t, 1, o.opens)
	require.Equal(t, 20, o.width)
	require.Equal(t, 10, o.height)

	err := s.Append(rgb(21, 10))
	require.True(t, errors.Is(err, ErrGeometryMismatch))
	var gm *GeometryMismatchError
	require.True(t, errors.As(err, &gm))
	require.Equal(t, 21, gm.FrameWidth)
	require.Equal(t, 20, gm.Width)

	// still open and usable
	require.NoError(t, s.Append(rgb(20, 10)))
	st := s.Stats()
	require.Equal(t, StateOpen, st.State)
	require.EqualValues(t, 2, st.FramesWritten)
	require.EqualValues(t, 1, st.FramesRejected)
	require.Equal(t, 1, o.opens)
	require.EqualValues(t, 2, o.enc.frames.Load())
}

func TestSinkOpenRetry(t *testing.T) {
	s, o := newTestSink(t)
	o.failures = 1
	err := s.Append(rgb(8, 8))
	require.True(t, errors.Is(err, ErrEncoderFailure))
	require.Equal(t, StateUnopened, s.Stats().State)
	require.False(t, s.Stats().Opened)

	// geometry is decided by the first frame that actually opens the encoder
	require.NoError(t, s.Append(rgb(16, 8)))
	require.Equal(t, 2, o.opens)
	require.Equal(t, 16, s.Stats().Width)
	require.EqualValues(t, 1, s.Stats().EncoderFailures)
}

func TestSinkNonFatalWriteError(t *testing.T) {
	s, o := newTestSink(t)
	require.NoError(t, s.Append(rgb(8, 8)))
	o.enc.failNext = &videox.EncoderError{Err: errors.New("hiccup")}
	err := s.Append(rgb(8, 8))
	require.True(t, errors.Is(err, ErrEncoderFailure))
	require.NoError(t, s.Append(rgb(8, 8)))
	require.Equal(t, StateOpen, s.Stats().State)
	require.EqualValues(t, 2, s.Stats().FramesWritten)
}

func TestSinkFatalWriteError(t *testing.T) {
	s, o := newTestSink(t)
	require.NoError(t, s.Append(rgb(8, 8)))
	o.enc.failNext = &videox.EncoderError{Fatal: true, Err: errors.New("broken pipe")}
	err := s.Append(rgb(8, 8))
	require.True(t, errors.Is(err, ErrEncoderFailure))
	require.Equal(t, StateBroken, s.Stats().State)
	require.EqualValues(t, 1, o.enc.closed.Load())

	// sticky
	err2 := s.Append(rgb(8, 8))
	require.Equal(t, err, err2)
	require.NoError(t, s.Close())
	require.Equal(t, StateBroken, s.Stats().State)
	require.EqualValues(t, 1, o.enc.closed.Load())
	require.Equal(t, 1, o.opens)
}

func TestSinkClose(t *testing.T) {
	s, o := newTestSink(t)
	require.NoError(t, s.Append(rgb(8, 8)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.EqualValues(t, 1, o.enc.closed.Load())
	require.Equal(t, StateClosed, s.Stats().State)
	require.True(t, errors.Is(s.Append(rgb(8, 8)), ErrSinkClosed))
	require.Equal(t, 1, o.opens)

	// never opened
	s2, o2 := newTestSink(t)
	require.NoError(t, s2.Close())
	require.True(t, errors.Is(s2.Append(rgb(8, 8)), ErrSinkClosed))
	require.Equal(t, 0, o2.opens)
	require.False(t, s2.Stats().Opened)

	// finalize error is reported once
	s3, o3 := newTestSink(t)
	o3.enc.closeErr = errors.New("moov atom not written")
	require.NoError(t, s3.Append(rgb(8, 8)))
	require.True(t, errors.Is(s3.Close(), ErrEncoderFailure))
	require.NoError(t, s3.Close())
}

func TestSinkConcurrentAppends(t *testing.T) {
	s, o := newTestSink(t)
	o.enc.delay = 100 * time.Microsecond
	nThreads := 8
	nFrames := 50
	wg := sync.WaitGroup{}
	for i := 0; i < nThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < nFrames; j++ {
				if err := s.Append(rgb(12, 6)); err != nil {
					t.Errorf("Append failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())
	require.Equal(t, 1, o.opens)
	require.EqualValues(t, nThreads*nFrames, o.enc.frames.Load())
	require.EqualValues(t, nThreads*nFrames, s.Stats().FramesWritten)
}

func TestSinkCloseDuringAppends(t *testing.T) {
	s, o := newTestSink(t)
	stop := atomic.Bool{}
	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				err := s.Append(rgb(4, 4))
				if err != nil && !errors.Is(err, ErrSinkClosed) {
					t.Errorf("Unexpected error: %v", err)
				}
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Close())
	written := o.enc.frames.Load()
	time.Sleep(5 * time.Millisecond)
	stop.Store(true)
	wg.Wait()
	// nothing reached the encoder after Close returned
	require.Equal(t, written, o.enc.frames.Load())
	require.Equal(t, written, s.Stats().FramesWritten)
}
