package sensor

import (
	"fmt"
)

// Kind is the type of sensor that the simulation engine attaches to the vehicle
type Kind int

const (
	KindUnknown Kind = iota
	KindRGB
	KindSemanticSegmentation
	KindDepth
	KindInstanceSegmentation
	KindOpticalFlow
	KindNormals
	KindLidar
	KindLidarSemantic
	KindRadar
	KindDVS
)

// AllKinds is every kind that ParseKind understands, in the order that they are documented
var AllKinds = []Kind{
	KindRGB,
	KindSemanticSegmentation,
	KindDepth,
	KindInstanceSegmentation,
	KindOpticalFlow,
	KindNormals,
	KindLidar,
	KindLidarSemantic,
	KindRadar,
	KindDVS,
}

// Parse a sensor shorthand, such as "rgb" or "ssc".
// The full blueprint name (eg "sensor.camera.rgb") is also accepted.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if s == k.Shorthand() || s == k.Blueprint() {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("Unknown sensor kind '%v'", s)
}

// Shorthand is the short name used in configuration files
func (k Kind) Shorthand() string {
	switch k {
	case KindRGB:
		return "rgb"
	case KindSemanticSegmentation:
		return "ssc"
	case KindDepth:
		return "depth"
	case KindInstanceSegmentation:
		return "instance"
	case KindOpticalFlow:
		return "optical_flow"
	case KindNormals:
		return "normals"
	case KindLidar:
		return "lidar"
	case KindLidarSemantic:
		return "lidar_semantic"
	case KindRadar:
		return "radar"
	case KindDVS:
		return "dvs"
	default:
		return "unknown"
	}
}

// Blueprint returns the name that the simulation engine uses to identify this sensor
func (k Kind) Blueprint() string {
	switch k {
	case KindRGB:
		return "sensor.camera.rgb"
	case KindSemanticSegmentation:
		return "sensor.camera.semantic_segmentation"
	case KindDepth:
		return "sensor.camera.depth"
	case KindInstanceSegmentation:
		return "sensor.camera.instance_segmentation"
	case KindOpticalFlow:
		return "sensor.camera.optical_flow"
	case KindNormals:
		return "sensor.camera.normals"
	case KindLidar:
		return "sensor.lidar.ray_cast"
	case KindLidarSemantic:
		return "sensor.lidar.ray_cast_semantic"
	case KindRadar:
		return "sensor.other.radar"
	case KindDVS:
		return "sensor.camera.dvs"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	return k.Shorthand()
}

// ProducesImages is true if the sensor delivers 8-bit BGRA images.
// Lidar and radar deliver point clouds, optical flow delivers float vectors,
// and DVS delivers an event stream, so none of them can feed a frame buffer.
func (k Kind) ProducesImages() bool {
	switch k {
	case KindRGB, KindSemanticSegmentation, KindDepth, KindInstanceSegmentation, KindNormals:
		return true
	}
	return false
}

// NeedsPalette is true if the image holds semantic tags that must be
// converted to colors before the image is viewable
func (k Kind) NeedsPalette() bool {
	return k == KindSemanticSegmentation || k == KindInstanceSegmentation
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.Shorthand()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
