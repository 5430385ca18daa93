package videox

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/sensorrig/pkg/shell"
)

var ErrEncoderClosed = errors.New("Encoder is closed")

// EncoderError is returned by VideoEncoder.WriteFrame.
// If Fatal is true, then the encoder process is gone, and no further frames can be written.
type EncoderError struct {
	Fatal bool
	Err   error
}

func (e *EncoderError) Error() string {
	if e.Fatal {
		return "Fatal encoder error: " + e.Err.Error()
	}
	return "Encoder error: " + e.Err.Error()
}

func (e *EncoderError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if err is an EncoderError that has killed the encoder
func IsFatal(err error) bool {
	var ee *EncoderError
	if errors.As(err, &ee) {
		return ee.Fatal
	}
	return false
}

type EncoderParams struct {
	Filename    string
	Width       int
	Height      int
	FPS         float64
	Codec       Codec
	PixelFormat string // Output pixel format, eg "yuv420p"
	Preset      string // eg "fast". Empty means the encoder default.
	FFmpegPath  string // Empty means "ffmpeg" on the PATH
}

func (p *EncoderParams) ffmpeg() string {
	if p.FFmpegPath == "" {
		return "ffmpeg"
	}
	return p.FFmpegPath
}

// Args returns the ffmpeg command line (excluding the program name).
// Frames are fed as raw rgb24 on stdin, at their native size. The only
// resizing is padding to even dimensions, which yuv420p requires.
func (p *EncoderParams) Args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-r", strconv.FormatFloat(p.FPS, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", p.Codec.EncoderLibrary(),
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.PixelFormat != "" {
		args = append(args, "-pix_fmt", p.PixelFormat)
		if needsEvenDimensions(p.PixelFormat) && (p.Width%2 != 0 || p.Height%2 != 0) {
			args = append(args, "-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2")
		}
	}
	args = append(args, p.Filename)
	return args
}

func needsEvenDimensions(pixelFormat string) bool {
	return strings.HasPrefix(pixelFormat, "yuv420") || strings.HasPrefix(pixelFormat, "yuvj420") || strings.HasPrefix(pixelFormat, "nv12")
}

func (p *EncoderParams) Validate() error {
	if p.Filename == "" {
		return errors.New("No output filename")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("Invalid video size %v x %v", p.Width, p.Height)
	}
	if p.FPS <= 0 {
		return fmt.Errorf("Invalid frame rate %v", p.FPS)
	}
	if p.Codec.EncoderLibrary() == "" {
		return fmt.Errorf("Unsupported codec %v", p.Codec)
	}
	return nil
}

// VideoEncoder encodes RGB frames into a video file, by piping them into an ffmpeg process.
// A VideoEncoder is not safe for concurrent use.
// You must Close() a video encoder when you are done with it, otherwise the file will not
// be finalized and the ffmpeg process will leak.
type VideoEncoder struct {
	params EncoderParams
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *shell.TailBuffer
	dead   error // Set when the ffmpeg process is no longer accepting frames
	closed bool
}

// NewVideoEncoder starts ffmpeg, ready to receive frames of exactly params.Width x params.Height
func NewVideoEncoder(params EncoderParams) (*VideoEncoder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cmd := exec.Command(params.ffmpeg(), params.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to create ffmpeg pipe: %w", err)
	}
	stderr := shell.NewTailBuffer(4096)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Failed to start ffmpeg: %w", err)
	}
	return &VideoEncoder{
		params: params,
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
	}, nil
}

// WriteFrame sends one frame to the encoder.
// Frames of the wrong format or size are rejected with a non-fatal error.
// If the pipe breaks, the error is fatal, and all subsequent writes will fail.
func (v *VideoEncoder) WriteFrame(img *cimg.Image) error {
	if v.closed {
		return &EncoderError{Fatal: true, Err: ErrEncoderClosed}
	}
	if v.dead != nil {
		return &EncoderError{Fatal: true, Err: v.dead}
	}
	if img.Format != cimg.PixelFormatRGB {
		return &EncoderError{Err: fmt.Errorf("Expected RGB frame, but got %v", img.Format)}
	}
	if img.Width != v.params.Width || img.Height != v.params.Height {
		return &EncoderError{Err: fmt.Errorf("Frame size %v x %v does not match encoder size %v x %v", img.Width, img.Height, v.params.Width, v.params.Height)}
	}

	rowBytes := img.Width * 3
	var err error
	if img.Stride == rowBytes {
		_, err = v.stdin.Write(img.Pixels[:rowBytes*img.Height])
	} else {
		for y := 0; y < img.Height && err == nil; y++ {
			_, err = v.stdin.Write(img.Pixels[y*img.Stride : y*img.Stride+rowBytes])
		}
	}
	if err != nil {
		// A partially written frame leaves the raw stream misaligned, so there is no recovery
		v.dead = v.describe(err)
		v.stdin.Close()
		v.cmd.Process.Kill()
		v.cmd.Wait()
		return &EncoderError{Fatal: true, Err: v.dead}
	}
	return nil
}

// Close flushes the remaining frames and waits for ffmpeg to finalize the file
func (v *VideoEncoder) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	if v.dead != nil {
		// Process was already reaped when it died
		return nil
	}
	v.stdin.Close()
	if err := v.cmd.Wait(); err != nil {
		return v.describe(err)
	}
	return nil
}

// Attach whatever ffmpeg said on stderr, because the pipe error alone is useless
func (v *VideoEncoder) describe(err error) error {
	if msg := v.stderr.String(); msg != "" {
		return fmt.Errorf("%w: %v", err, msg)
	}
	return err
}

// FFmpegVersion returns the first line of 'ffmpeg -version'
func FFmpegVersion(ffmpegPath string) (string, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	out, err := shell.Run(ffmpegPath, "-version")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(first), nil
}
