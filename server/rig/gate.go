package rig

import (
	"sync"

	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/cyclopcam/sensorrig/server/camera"
	"github.com/cyclopcam/sensorrig/server/metrics"
)

// gate is what the engine's callbacks hold instead of the Rig.
// Once the gate is closed, callbacks become no-ops, and close() does not
// return until every callback that got through the gate has left it.
type gate struct {
	metrics *metrics.Metrics

	lock     sync.Mutex
	rig      *Rig // nil after close
	inflight sync.WaitGroup
}

func newGate(r *Rig, m *metrics.Metrics) *gate {
	return &gate{
		rig:     r,
		metrics: m,
	}
}

// enter returns the rig, or nil if the gate is closed.
// If the rig is returned, the caller must call leave when it is done.
func (g *gate) enter() *Rig {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.rig == nil {
		return nil
	}
	g.inflight.Add(1)
	return g.rig
}

func (g *gate) leave() {
	g.inflight.Done()
}

// close drops the rig and waits for in-flight callbacks to drain.
// Must not be called from inside a callback.
func (g *gate) close() {
	g.lock.Lock()
	g.rig = nil
	g.lock.Unlock()
	g.inflight.Wait()
}

// callback produces the function that we register with the engine for device d
func (g *gate) callback(d *camera.Device) sensor.ImageCallback {
	return func(img *sensor.RawImage) {
		r := g.enter()
		if r == nil {
			g.metrics.StaleCallback()
			return
		}
		defer g.leave()
		r.onImage(d, img)
	}
}
