package camera

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/stretchr/testify/require"
)

func testFrame(engineFrame int64, width, height int) *Frame {
	return &Frame{
		EngineFrame: engineFrame,
		Timestamp:   time.Duration(engineFrame) * 50 * time.Millisecond,
		Received:    time.Now(),
		Image:       cimg.NewImage(width, height, cimg.PixelFormatRGB),
	}
}

func rawImage(frame int64, width, height int) *sensor.RawImage {
	return &sensor.RawImage{
		Frame:  frame,
		Width:  width,
		Height: height,
		Format: sensor.FormatBGRA8,
		Pixels: make([]byte, width*height*4),
	}
}

func TestFrameBufferUnbounded(t *testing.T) {
	b := NewFrameBuffer(0)
	require.True(t, b.IsEmpty())
	require.Nil(t, b.Latest())
	require.Nil(t, b.At(0))

	for i := 0; i < 100; i++ {
		b.Append(testFrame(int64(i), 4, 4))
	}
	require.Equal(t, 100, b.Len())
	require.EqualValues(t, 100, b.Appended())
	require.EqualValues(t, 99, b.Latest().EngineFrame)
	require.EqualValues(t, 0, b.At(0).Seq)
	require.EqualValues(t, 42, b.At(42).EngineFrame)
	require.Nil(t, b.At(100))

	snap := b.Snapshot()
	require.Equal(t, 100, len(snap))
	for i, f := range snap {
		require.EqualValues(t, i, f.Seq)
	}

	intervals := b.FrameIntervals(10)
	require.Equal(t, 10, len(intervals))
	require.Equal(t, 20.0, EstimateFPS(intervals))
}

func TestFrameBufferRetention(t *testing.T) {
	f := testFrame(0, 8, 8)
	// room for 3 frames, but not 4
	b := NewFrameBuffer(f.Bytes()*3 + f.Bytes()/2)
	for i := 0; i < 10; i++ {
		b.Append(testFrame(int64(i), 8, 8))
	}
	require.Equal(t, 3, b.Len())
	require.EqualValues(t, 10, b.Appended())
	require.EqualValues(t, 7, b.At(0).EngineFrame)
	require.EqualValues(t, 9, b.Latest().EngineFrame)
	snap := b.Snapshot()
	require.Equal(t, 3, len(snap))
	require.EqualValues(t, 9, snap[2].Seq)
}

// One writer, many readers. Readers must only ever observe a growing, ordered buffer.
func TestFrameBufferConcurrent(t *testing.T) {
	b := NewFrameBuffer(0)
	nFrames := 2000
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < nFrames; i++ {
			b.Append(testFrame(int64(i), 2, 2))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lastLen := 0
			for lastLen < nFrames {
				snap := b.Snapshot()
				if len(snap) < lastLen {
					t.Errorf("Buffer shrank from %v to %v", lastLen, len(snap))
					return
				}
				for i, f := range snap {
					if f.Seq != int64(i) || f.EngineFrame != int64(i) {
						t.Errorf("Frame %v out of order: seq %v", i, f.Seq)
						return
					}
				}
				if latest := b.Latest(); latest != nil && latest.Image == nil {
					t.Errorf("Observed a frame without an image")
					return
				}
				lastLen = len(snap)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, nFrames, b.Len())
}

func TestDeviceOnImage(t *testing.T) {
	spec := sensor.Spec{
		Kind:       sensor.KindRGB,
		Role:       sensor.RoleVisual,
		Resolution: sensor.Resolution{Width: 6, Height: 4},
		FOV:        110,
	}
	d := NewDevice(logs.NewTestingLog(t), spec, 0, nil)
	require.True(t, d.IsVisual())
	_, spawned := d.Actor()
	require.False(t, spawned)

	var triggered []*Frame
	d.OnFrame = func(dev *Device, f *Frame) {
		require.Equal(t, d, dev)
		triggered = append(triggered, f)
	}

	require.NoError(t, d.OnImage(rawImage(10, 6, 4)))
	require.NoError(t, d.OnImage(rawImage(11, 6, 4)))

	err := d.OnImage(rawImage(12, 5, 4))
	require.True(t, errors.Is(err, ErrFrameGeometry))

	bad := rawImage(13, 6, 4)
	bad.Pixels = bad.Pixels[:8]
	require.Error(t, d.OnImage(bad))

	require.Equal(t, 2, d.Frames.Len())
	require.Equal(t, 2, len(triggered))
	require.EqualValues(t, 11, d.Frames.Latest().EngineFrame)
	require.Equal(t, 6, d.Frames.Latest().Width())
	require.Equal(t, cimg.PixelFormatRGB, d.Frames.Latest().Image.Format)
}

func TestDeviceLatestJPEG(t *testing.T) {
	spec := sensor.Spec{
		Kind:       sensor.KindSemanticSegmentation,
		Role:       sensor.RoleModel,
		Resolution: sensor.Resolution{Width: 16, Height: 8},
		FOV:        125,
	}
	d := NewDevice(logs.NewTestingLog(t), spec, 0, nil)
	jpg, err := d.LatestJPEG(85)
	require.NoError(t, err)
	require.Nil(t, jpg)

	require.NoError(t, d.OnImage(rawImage(0, 16, 8)))
	jpg, err = d.LatestJPEG(85)
	require.NoError(t, err)
	require.Greater(t, len(jpg), 2)
	require.Equal(t, []byte{0xff, 0xd8}, jpg[:2])
}
