package sensor

import (
	"fmt"
)

// Role decides where a sensor's frames go
type Role int

const (
	RoleModel  Role = iota // Low resolution input for the decision-making model
	RoleVisual             // High resolution input for the composite video
)

func ParseRole(s string) (Role, error) {
	switch s {
	case "model":
		return RoleModel, nil
	case "visual":
		return RoleVisual, nil
	}
	return RoleModel, fmt.Errorf("Unknown sensor role '%v'. Valid values are 'model' and 'visual'", s)
}

func (r Role) String() string {
	switch r {
	case RoleModel:
		return "model"
	case RoleVisual:
		return "visual"
	default:
		return "unknown"
	}
}

// Resolution of a camera, in pixels
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%vx%v", r.Width, r.Height)
}

func (r Resolution) IsValid() bool {
	return r.Width > 0 && r.Height > 0
}

// Location is relative to the parent vehicle, in meters
type Location struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Rotation in degrees
type Rotation struct {
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
	Roll  float64 `json:"roll" yaml:"roll"`
}

// Transform is the mount point of a sensor on its vehicle
type Transform struct {
	Location Location `json:"location" yaml:"location"`
	Rotation Rotation `json:"rotation" yaml:"rotation"`
}

// Spec is everything the engine needs to spawn a sensor.
// A Spec is fixed at creation time.
type Spec struct {
	Kind       Kind
	Role       Role
	Resolution Resolution
	FOV        float64 // Horizontal field of view, in degrees
	Mount      Transform
}

// Name is a human readable identity, such as "rgb/visual"
func (s *Spec) Name() string {
	return s.Kind.Shorthand() + "/" + s.Role.String()
}

// Check that the engine could produce frames for this spec
func (s *Spec) Validate() error {
	if s.Kind == KindUnknown {
		return fmt.Errorf("Sensor kind is unknown")
	}
	if !s.Kind.ProducesImages() {
		return fmt.Errorf("Sensor kind '%v' does not produce images", s.Kind)
	}
	if !s.Resolution.IsValid() {
		return fmt.Errorf("Invalid resolution %v for sensor %v", s.Resolution, s.Name())
	}
	if s.FOV <= 0 || s.FOV >= 180 {
		return fmt.Errorf("Invalid field of view %v for sensor %v", s.FOV, s.Name())
	}
	return nil
}
