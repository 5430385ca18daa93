package simengine

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/stretchr/testify/require"
)

func testSpec(kind sensor.Kind, w, h int) sensor.Spec {
	return sensor.Spec{
		Kind:       kind,
		Role:       sensor.RoleModel,
		Resolution: sensor.Resolution{Width: w, Height: h},
		FOV:        90,
	}
}

// Collect n frames from a freshly spawned actor, copying the pixels because the engine reuses them
func collect(t *testing.T, e *Engine, spec sensor.Spec, n int) []sensor.RawImage {
	id, err := e.Spawn(spec)
	require.NoError(t, err)
	ch := make(chan sensor.RawImage, n)
	require.NoError(t, e.Listen(id, func(img *sensor.RawImage) {
		c := *img
		c.Pixels = append([]byte(nil), img.Pixels...)
		select {
		case ch <- c:
		default:
		}
	}))
	out := []sensor.RawImage{}
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case img := <-ch:
			out = append(out, img)
		case <-timeout:
			t.Fatalf("Timed out waiting for frames (got %v)", len(out))
		}
	}
	require.NoError(t, e.Destroy(id))
	return out
}

func TestDeliversFrames(t *testing.T) {
	e := New(logs.NewTestingLog(t), Options{FPS: 200, Jitter: time.Millisecond})
	frames := collect(t, e, testSpec(sensor.KindRGB, 32, 16), 3)
	for i, f := range frames {
		require.Equal(t, int64(i), f.Frame)
		require.Equal(t, 32, f.Width)
		require.Equal(t, 16, f.Height)
		require.Equal(t, sensor.FormatBGRA8, f.Format)
		require.Equal(t, 32*16*4, len(f.Pixels))
		img, err := sensor.Decode(sensor.KindRGB, &f)
		require.NoError(t, err)
		require.Equal(t, 32, img.Width)
	}
	require.Less(t, frames[0].Timestamp, frames[2].Timestamp)
	require.Equal(t, 0, e.NumActors())
}

func TestSegmentationTags(t *testing.T) {
	e := New(logs.NewTestingLog(t), Options{FPS: 200})
	f := collect(t, e, testSpec(sensor.KindSemanticSegmentation, 40, 20), 1)[0]
	seen := map[byte]bool{}
	for i := 0; i < len(f.Pixels); i += 4 {
		tag := f.Pixels[i+2]
		require.LessOrEqual(t, tag, byte(22), "Tag out of range")
		require.Equal(t, byte(0), f.Pixels[i], "Blue must be empty")
		seen[tag] = true
	}
	require.True(t, seen[tagSky])
	require.True(t, seen[tagRoad])
}

func TestStopListening(t *testing.T) {
	e := New(logs.NewTestingLog(t), Options{FPS: 500})
	id, err := e.Spawn(testSpec(sensor.KindDepth, 8, 8))
	require.NoError(t, err)

	calls := atomic.Int32{}
	require.NoError(t, e.Listen(id, func(img *sensor.RawImage) {
		calls.Add(1)
	}))
	require.ErrorIs(t, e.Listen(id, func(img *sensor.RawImage) {}), ErrAlreadyListening)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, time.Millisecond)
	require.NoError(t, e.StopListening(id))
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, calls.Load())

	// Stopping twice is harmless, and the actor can be listened to again
	require.NoError(t, e.StopListening(id))
	require.NoError(t, e.Listen(id, func(img *sensor.RawImage) {}))
	e.Close()
	require.Equal(t, 0, e.NumActors())
}

func TestFailureInjection(t *testing.T) {
	boom := errors.New("boom")
	e := New(logs.NewTestingLog(t), Options{
		SpawnErrors:  map[string]error{"rgb/model": boom},
		ListenErrors: map[string]error{"depth/model": boom},
	})
	_, err := e.Spawn(testSpec(sensor.KindRGB, 8, 8))
	require.ErrorIs(t, err, boom)

	id, err := e.Spawn(testSpec(sensor.KindDepth, 8, 8))
	require.NoError(t, err)
	require.ErrorIs(t, e.Listen(id, func(img *sensor.RawImage) {}), boom)
	require.NoError(t, e.Destroy(id))

	require.ErrorIs(t, e.Destroy(id), ErrUnknownActor)
	require.ErrorIs(t, e.Listen(99, func(img *sensor.RawImage) {}), ErrUnknownActor)

	_, err = e.Spawn(testSpec(sensor.KindLidar, 8, 8))
	require.Error(t, err)
}
