package camera

import (
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/bmharper/ringbuffer"
)

// Frame is a decoded image from a device.
// A Frame is immutable once it has been appended to a FrameBuffer.
type Frame struct {
	Seq         int64         // Arrival order within the device, starting at 0
	EngineFrame int64         // Frame number reported by the engine
	Timestamp   time.Duration // Engine simulation time
	Received    time.Time     // Wall clock time when we received the image
	Image       *cimg.Image   // RGB, of the device's configured resolution
}

func (f *Frame) Width() int {
	return f.Image.Width
}

func (f *Frame) Height() int {
	return f.Image.Height
}

// Number of bytes of pixel memory
func (f *Frame) Bytes() int {
	return f.Image.Stride * f.Image.Height
}

// FrameBuffer holds the frames of one device, in arrival order.
// There is a single writer (the device's callback adapter) and any number of readers.
// By default the buffer is unbounded. If retention is non-zero, then the oldest
// frames are evicted once the total pixel memory exceeds retention bytes.
type FrameBuffer struct {
	lock     sync.RWMutex
	all      []*Frame                        // Used when retention is unbounded
	ring     ringbuffer.WeightedRingT[Frame] // Used when retention is bounded
	bounded  bool
	appended int64 // Total number of frames ever appended
	latest   *Frame
}

func NewFrameBuffer(retentionBytes int) *FrameBuffer {
	b := &FrameBuffer{}
	if retentionBytes > 0 {
		b.bounded = true
		b.ring = ringbuffer.NewWeightedRingT[Frame](retentionBytes)
	}
	return b
}

// Append adds a frame to the end of the buffer, and assigns its Seq.
// The caller must not modify the frame after this.
func (b *FrameBuffer) Append(f *Frame) {
	b.lock.Lock()
	defer b.lock.Unlock()
	f.Seq = b.appended
	b.appended++
	if b.bounded {
		b.ring.Add(f.Bytes(), f)
	} else {
		b.all = append(b.all, f)
	}
	b.latest = f
}

// Latest returns the most recently appended frame, or nil if the buffer is empty
func (b *FrameBuffer) Latest() *Frame {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.latest
}

// Len returns the number of frames currently retained
func (b *FrameBuffer) Len() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.lenNoLock()
}

func (b *FrameBuffer) lenNoLock() int {
	if b.bounded {
		return b.ring.Len()
	}
	return len(b.all)
}

// Appended returns the number of frames that have ever been appended, including evicted frames
func (b *FrameBuffer) Appended() int64 {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.appended
}

func (b *FrameBuffer) IsEmpty() bool {
	return b.Latest() == nil
}

// At returns the i-th retained frame, where 0 is the oldest.
// Returns nil if i is out of range.
func (b *FrameBuffer) At(i int) *Frame {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if i < 0 || i >= b.lenNoLock() {
		return nil
	}
	if b.bounded {
		_, f, _ := b.ring.Peek(i)
		return f
	}
	return b.all[i]
}

// Snapshot returns a copy of the list of retained frames, oldest first.
// The frames themselves are shared, which is safe because frames are immutable.
func (b *FrameBuffer) Snapshot() []*Frame {
	b.lock.RLock()
	defer b.lock.RUnlock()
	n := b.lenNoLock()
	out := make([]*Frame, n)
	if b.bounded {
		for i := 0; i < n; i++ {
			_, out[i], _ = b.ring.Peek(i)
		}
	} else {
		copy(out, b.all)
	}
	return out
}

// FrameIntervals returns the engine time between the most recent (up to) n+1 frames
func (b *FrameBuffer) FrameIntervals(n int) []time.Duration {
	frames := b.Snapshot()
	if len(frames) > n+1 {
		frames = frames[len(frames)-n-1:]
	}
	intervals := []time.Duration{}
	for i := 1; i < len(frames); i++ {
		intervals = append(intervals, frames[i].Timestamp-frames[i-1].Timestamp)
	}
	return intervals
}
