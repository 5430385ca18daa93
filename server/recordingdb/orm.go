package recordingdb

import (
	"strings"

	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Recording is one finished composite video
type Recording struct {
	BaseModel
	SessionID       string      `json:"sessionID"`       // Random UUID of the rig session that produced the video
	Path            string      `json:"path"`            // Absolute path of the video file
	Width           int         `json:"width"`           // Composite width
	Height          int         `json:"height"`          // Composite height
	FPS             float64     `json:"fps"`             // Frame rate stamped on the video
	Codec           string      `json:"codec"`           // eg h264
	FramesWritten   int64       `json:"framesWritten"`   // Frames that reached the encoder
	FramesRejected  int64       `json:"framesRejected"`  // Composites dropped because of a size mismatch
	EncoderFailures int64       `json:"encoderFailures"` // Failed opens and writes
	Broken          bool        `json:"broken"`          // The encoder died before the video was finalized
	Sensors         string      `json:"sensors"`         // Comma separated visual sensors, in left to right order, eg "ssc,rgb"
	StartedAt       dbh.IntTime `json:"startedAt"`       // When the video was opened
	FinishedAt      dbh.IntTime `json:"finishedAt"`      // When the video was finalized
}

func (r *Recording) SensorList() []string {
	if r.Sensors == "" {
		return nil
	}
	return strings.Split(r.Sensors, ",")
}

func JoinSensors(sensors []string) string {
	return strings.Join(sensors, ",")
}
