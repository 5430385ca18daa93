// Package simengine is a stand-in for the driving simulator. It attaches
// camera actors to an imaginary vehicle and renders a simple street scene
// for each of them, delivering images from one goroutine per actor.
package simengine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/sensor"
)

var ErrUnknownActor = errors.New("Unknown actor")
var ErrAlreadyListening = errors.New("Actor already has a listener")

type Options struct {
	FPS    float64       // Ticks per second, for every actor. Default 20.
	Jitter time.Duration // Up to this much random delay is added before each delivery

	// Failure injection, keyed by sensor name (eg "ssc/model")
	SpawnErrors  map[string]error
	ListenErrors map[string]error
}

type actor struct {
	id   sensor.ActorID
	spec sensor.Spec
	buf  []byte // Reused between frames

	stop chan struct{} // nil if not listening
	done chan struct{}
}

// Engine implements sensor.Engine
type Engine struct {
	Log  logs.Log
	opts Options

	lock   sync.Mutex
	nextID sensor.ActorID
	actors map[sensor.ActorID]*actor
}

func New(log logs.Log, opts Options) *Engine {
	if opts.FPS <= 0 {
		opts.FPS = 20
	}
	return &Engine{
		Log:    log,
		opts:   opts,
		nextID: 1,
		actors: map[sensor.ActorID]*actor{},
	}
}

func (e *Engine) Spawn(spec sensor.Spec) (sensor.ActorID, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if err := e.opts.SpawnErrors[spec.Name()]; err != nil {
		return 0, err
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	a := &actor{
		id:   e.nextID,
		spec: spec,
		buf:  make([]byte, spec.Resolution.Width*spec.Resolution.Height*4),
	}
	e.nextID++
	e.actors[a.id] = a
	e.Log.Debugf("Spawned %v as actor %v (%v)", spec.Kind.Blueprint(), a.id, spec.Resolution)
	return a.id, nil
}

func (e *Engine) Listen(id sensor.ActorID, cb sensor.ImageCallback) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	a := e.actors[id]
	if a == nil {
		return fmt.Errorf("%w %v", ErrUnknownActor, id)
	}
	if a.stop != nil {
		return fmt.Errorf("%w (%v)", ErrAlreadyListening, id)
	}
	if err := e.opts.ListenErrors[a.spec.Name()]; err != nil {
		return err
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go e.run(a, a.stop, a.done, cb)
	return nil
}

// StopListening waits for the actor's delivery goroutine to exit, so once this
// returns, cb will not be called again for this actor.
func (e *Engine) StopListening(id sensor.ActorID) error {
	e.lock.Lock()
	a := e.actors[id]
	if a == nil {
		e.lock.Unlock()
		return fmt.Errorf("%w %v", ErrUnknownActor, id)
	}
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	e.lock.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (e *Engine) Destroy(id sensor.ActorID) error {
	if err := e.StopListening(id); err != nil {
		return err
	}
	e.lock.Lock()
	delete(e.actors, id)
	e.lock.Unlock()
	return nil
}

// NumActors returns the number of actors that are still in the world
func (e *Engine) NumActors() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.actors)
}

// Close destroys every actor
func (e *Engine) Close() {
	e.lock.Lock()
	ids := []sensor.ActorID{}
	for id := range e.actors {
		ids = append(ids, id)
	}
	e.lock.Unlock()
	for _, id := range ids {
		e.Destroy(id)
	}
}

func (e *Engine) run(a *actor, stop, done chan struct{}, cb sensor.ImageCallback) {
	defer close(done)
	period := time.Duration(float64(time.Second) / e.opts.FPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	w, h := a.spec.Resolution.Width, a.spec.Resolution.Height
	frame := int64(0)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if e.opts.Jitter > 0 {
			select {
			case <-stop:
				return
			case <-time.After(rand.N(e.opts.Jitter)):
			}
		}
		simTime := time.Duration(frame) * period
		toBGRA(render(a.spec.Kind, w, h, simTime.Seconds()), a.buf)
		cb(&sensor.RawImage{
			Frame:     frame,
			Timestamp: simTime,
			Width:     w,
			Height:    h,
			Format:    sensor.FormatBGRA8,
			Pixels:    a.buf,
		})
		frame++
	}
}
