package videox

import (
	"fmt"
	"strings"
)

type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
)

func ParseCodec(codec string) (Codec, error) {
	switch strings.ToLower(codec) {
	case "h264", "avc", "libx264":
		return CodecH264, nil
	case "h265", "hevc", "libx265":
		return CodecH265, nil
	default:
		return CodecUnknown, fmt.Errorf("Unknown codec: %v", codec)
	}
}

// Return the string that FFMpeg uses to identify this codec
func (c Codec) ToFFmpeg() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "hevc"
	default:
		return "unknown"
	}
}

// Return the name of the ffmpeg encoder library that we use to produce this codec
func (c Codec) EncoderLibrary() string {
	switch c {
	case CodecH264:
		return "libx264"
	case CodecH265:
		return "libx265"
	default:
		return ""
	}
}

func (c Codec) InternalName() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return "unknown"
	}
}

func (c Codec) String() string {
	return c.InternalName()
}

func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.InternalName()), nil
}

func (c *Codec) UnmarshalText(b []byte) error {
	p, err := ParseCodec(string(b))
	if err != nil {
		return err
	}
	*c = p
	return nil
}
