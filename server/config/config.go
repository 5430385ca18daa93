package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/sensorrig/pkg/sensor"
	"github.com/cyclopcam/sensorrig/pkg/videox"
	"gopkg.in/yaml.v3"
)

// If this environment variable is set, it overrides Video.Path.
// Setting it to an empty string disables video.
const EnvVideoPath = "SENSORRIG_VIDEO_PATH"

var ErrInvalidConfig = errors.New("Invalid configuration")

// ConfigurationError is returned when a configuration can't be used to build a rig
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %v: %v", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

func newConfigError(field, format string, a ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// Group is the set of sensors of one role. They all share the same camera settings.
type Group struct {
	Kinds      []sensor.Kind     `json:"kinds" yaml:"kinds"`           // In declared order. For the visual group, this is the left-to-right order in the video.
	Resolution sensor.Resolution `json:"resolution" yaml:"resolution"` // Resolution of every sensor in the group
	FOV        float64           `json:"fov" yaml:"fov"`               // Horizontal field of view, in degrees
	Mount      sensor.Transform  `json:"mount" yaml:"mount"`           // Mount point on the vehicle
}

type Video struct {
	Path        string       `json:"path" yaml:"path"`               // Output file. Empty disables video.
	FPS         float64      `json:"fps" yaml:"fps"`                 // Frame rate stamped on the video
	Codec       videox.Codec `json:"codec" yaml:"codec"`             // h264 or h265
	PixelFormat string       `json:"pixelFormat" yaml:"pixelFormat"` // eg yuv420p
	Preset      string       `json:"preset" yaml:"preset"`           // x264/x265 preset, eg fast
	FFmpegPath  string       `json:"ffmpegPath" yaml:"ffmpegPath"`   // Empty means "ffmpeg" on the PATH
}

type Config struct {
	Model          Group  `json:"model" yaml:"model"`                   // Sensors that feed the decision-making model
	Visual         Group  `json:"visual" yaml:"visual"`                 // Sensors that feed the composite video
	Video          Video  `json:"video" yaml:"video"`                   // Composite video output
	RetentionMB    int    `json:"retentionMB" yaml:"retentionMB"`       // Per-device frame buffer limit. 0 is unbounded.
	RecordingsDB   string `json:"recordingsDB" yaml:"recordingsDB"`     // sqlite file of finished recordings. Empty disables the index.
	HTTPListen     string `json:"httpListen" yaml:"httpListen"`         // eg ":8090". Empty disables the HTTP API.
	SnapshotPerSec int    `json:"snapshotPerSec" yaml:"snapshotPerSec"` // Rate limit of the JPEG snapshot API, per client IP
}

// Default returns the configuration of the standard rig: one front-facing
// segmentation camera for the model, and a third-person segmentation + RGB pair for video.
func Default() *Config {
	return &Config{
		Model: Group{
			Kinds:      []sensor.Kind{sensor.KindSemanticSegmentation},
			Resolution: sensor.Resolution{Width: 160, Height: 80},
			FOV:        125,
			Mount: sensor.Transform{
				Location: sensor.Location{X: 2.4, Z: 1.5},
				Rotation: sensor.Rotation{Pitch: -10},
			},
		},
		Visual: Group{
			Kinds:      []sensor.Kind{sensor.KindSemanticSegmentation, sensor.KindRGB},
			Resolution: sensor.Resolution{Width: 854, Height: 480},
			FOV:        110,
			Mount: sensor.Transform{
				Location: sensor.Location{X: -6, Z: 3.5},
				Rotation: sensor.Rotation{Pitch: -15},
			},
		},
		Video: Video{
			Path:        "output.mp4",
			FPS:         20,
			Codec:       videox.CodecH264,
			PixelFormat: "yuv420p",
			Preset:      "fast",
		},
		SnapshotPerSec: 10,
	}
}

// LoadConfig reads a JSON or YAML (by extension) file on top of the defaults,
// applies environment overrides, and validates the result.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "sensorrig.json"
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, newConfigError(filename, "Error loading as YAML: %v", err)
		}
	default:
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, newConfigError(filename, "Error loading as JSON: %v", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment variable overrides
func (c *Config) ApplyEnv() {
	if path, ok := os.LookupEnv(EnvVideoPath); ok {
		c.Video.Path = path
	}
}

// VideoEnabled is false if no video output path is configured
func (c *Config) VideoEnabled() bool {
	return c.Video.Path != ""
}

func (c *Config) RetentionBytes() int {
	return c.RetentionMB * 1024 * 1024
}

func (c *Config) Validate() error {
	if len(c.Model.Kinds) == 0 {
		return newConfigError("model.kinds", "At least one model sensor is required")
	}
	if err := c.Model.validate("model"); err != nil {
		return err
	}
	if err := c.Visual.validate("visual"); err != nil {
		return err
	}
	if c.RetentionMB < 0 {
		return newConfigError("retentionMB", "Must not be negative")
	}
	if c.VideoEnabled() {
		if c.Video.FPS <= 0 {
			return newConfigError("video.fps", "Frame rate must be positive, not %v", c.Video.FPS)
		}
		if c.Video.Codec.EncoderLibrary() == "" {
			return newConfigError("video.codec", "Unsupported codec %v", c.Video.Codec)
		}
	}
	return nil
}

func (g *Group) validate(role string) error {
	seen := map[sensor.Kind]bool{}
	for _, k := range g.Kinds {
		if k == sensor.KindUnknown {
			return newConfigError(role+".kinds", "Unknown sensor kind")
		}
		if !k.ProducesImages() {
			return newConfigError(role+".kinds", "Sensor kind '%v' does not produce images", k)
		}
		if seen[k] {
			return newConfigError(role+".kinds", "Sensor kind '%v' is listed more than once", k)
		}
		seen[k] = true
	}
	if len(g.Kinds) == 0 {
		return nil
	}
	if !g.Resolution.IsValid() {
		return newConfigError(role+".resolution", "Invalid resolution %v", g.Resolution)
	}
	if g.FOV <= 0 || g.FOV >= 180 {
		return newConfigError(role+".fov", "Field of view must be between 0 and 180, not %v", g.FOV)
	}
	return nil
}

// DeviceSpecs expands the configuration into one spec per device.
// Model devices come first, then visual devices, each group in its declared order.
func (c *Config) DeviceSpecs() []sensor.Spec {
	specs := []sensor.Spec{}
	add := func(role sensor.Role, g *Group) {
		for _, k := range g.Kinds {
			specs = append(specs, sensor.Spec{
				Kind:       k,
				Role:       role,
				Resolution: g.Resolution,
				FOV:        g.FOV,
				Mount:      g.Mount,
			})
		}
	}
	add(sensor.RoleModel, &c.Model)
	add(sensor.RoleVisual, &c.Visual)
	return specs
}

// EncoderParams for the composite video. Width and Height are filled in when the first frame arrives.
func (c *Config) EncoderParams() videox.EncoderParams {
	return videox.EncoderParams{
		Filename:    c.Video.Path,
		FPS:         c.Video.FPS,
		Codec:       c.Video.Codec,
		PixelFormat: c.Video.PixelFormat,
		Preset:      c.Video.Preset,
		FFmpegPath:  c.Video.FFmpegPath,
	}
}
