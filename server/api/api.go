// Package api exposes the rig over HTTP, for watching a run while it drives
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/cyclopcam/sensorrig/server/camera"
	"github.com/cyclopcam/sensorrig/server/recordingdb"
	"github.com/cyclopcam/sensorrig/server/rig"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const DefaultJPEGQuality = 85

type Server struct {
	Log logs.Log

	rig            *rig.Rig
	recordings     *recordingdb.RecordingDB // May be nil
	gatherer       prometheus.Gatherer      // May be nil
	snapshotPerSec int
	router         *httprouter.Router
	httpServer     *http.Server
}

// NewServer creates the routes. recordings and gatherer may be nil, in which case
// their endpoints report that the feature is disabled.
func NewServer(log logs.Log, r *rig.Rig, recordings *recordingdb.RecordingDB, gatherer prometheus.Gatherer, snapshotPerSec int) *Server {
	if snapshotPerSec <= 0 {
		snapshotPerSec = 10
	}
	s := &Server{
		Log:            log,
		rig:            r,
		recordings:     recordings,
		gatherer:       gatherer,
		snapshotPerSec: snapshotPerSec,
	}
	s.setupHttpRoutes()
	return s
}

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// Each endpoint gets its own limiter, so KeyByEndpoint is not needed
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/status", s.httpStatus)
	handle("GET", "/api/sensors", s.httpSensors)
	ratelimited("GET", "/api/sensor/:role/:kind/latest", s.httpLatestImage, s.snapshotPerSec, time.Second)
	handle("GET", "/api/recordings", s.httpRecordings)
	handle("GET", "/api/recording/:session", s.httpRecording)

	if s.gatherer != nil {
		metrics := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
		router.Handler("GET", "/metrics", metrics)
	}

	s.router = router
}

// Handler is the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenHTTP blocks until Shutdown is called, in which case it returns http.ErrServerClosed.
// addr example: ":8090"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.Log.Infof("Closing HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	www.SendJSON(w, &pingJSON{Time: time.Now().Unix()})
}

type sinkJSON struct {
	State           string  `json:"state"`
	Path            string  `json:"path"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FramesWritten   int64   `json:"framesWritten"`
	FramesRejected  int64   `json:"framesRejected"`
	EncoderFailures int64   `json:"encoderFailures"`
	Error           *string `json:"error"`
}

type statusJSON struct {
	State     string    `json:"state"`
	SessionID string    `json:"sessionID"`
	Video     *sinkJSON `json:"video"` // nil if video is disabled
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	st := statusJSON{
		State:     s.rig.State().String(),
		SessionID: s.rig.SessionID(),
	}
	if stats, ok := s.rig.SinkStats(); ok {
		st.Video = &sinkJSON{
			State:           stats.State.String(),
			Path:            s.rig.VideoPath(),
			Width:           stats.Width,
			Height:          stats.Height,
			FramesWritten:   stats.FramesWritten,
			FramesRejected:  stats.FramesRejected,
			EncoderFailures: stats.EncoderFailures,
		}
		if stats.Err != nil {
			msg := stats.Err.Error()
			st.Video.Error = &msg
		}
	}
	www.CacheNever(w)
	www.SendJSON(w, &st)
}

type sensorJSON struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Role       string            `json:"role"`
	Resolution sensor.Resolution `json:"resolution"`
	FOV        float64           `json:"fov"`
	Buffered   int               `json:"buffered"` // Frames currently held in memory
	Received   int64             `json:"received"` // Frames ever received
	FPS        float64           `json:"fps"`      // Estimated from recent frames
}

func toSensorJSON(d *camera.Device) sensorJSON {
	return sensorJSON{
		Name:       d.Name(),
		Kind:       d.Spec.Kind.Shorthand(),
		Role:       d.Spec.Role.String(),
		Resolution: d.Spec.Resolution,
		FOV:        d.Spec.FOV,
		Buffered:   d.Frames.Len(),
		Received:   d.Frames.Appended(),
		FPS:        camera.EstimateFPS(d.Frames.FrameIntervals(20)),
	}
}

func (s *Server) httpSensors(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	out := []sensorJSON{}
	for _, d := range s.rig.Devices() {
		out = append(out, toSensorJSON(d))
	}
	www.CacheNever(w)
	www.SendJSON(w, out)
}

// Fetch a JPEG of a sensor's most recent image.
// Example: curl -o ssc.jpg "localhost:8090/api/sensor/visual/ssc/latest?quality=90"
func (s *Server) httpLatestImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	role, err := sensor.ParseRole(params.ByName("role"))
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	kind, err := sensor.ParseKind(params.ByName("kind"))
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	d := s.rig.Device(role, kind)
	if d == nil {
		www.SendError(w, "No such sensor", http.StatusNotFound)
		return
	}
	quality := www.QueryInt(r, "quality")
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	img, err := d.LatestJPEG(quality)
	www.Check(err)
	if img == nil {
		www.PanicBadRequestf("No image available yet")
	}

	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(img)
}

func (s *Server) requireRecordings() {
	if s.recordings == nil {
		www.PanicBadRequestf("The recording index is disabled")
	}
}

func (s *Server) httpRecordings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.requireRecordings()
	recs, err := s.recordings.List()
	www.Check(err)
	www.SendJSON(w, recs)
}

func (s *Server) httpRecording(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.requireRecordings()
	rec, err := s.recordings.Get(params.ByName("session"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		www.SendError(w, "Recording not found", http.StatusNotFound)
		return
	}
	www.Check(err)
	www.SendJSON(w, rec)
}
