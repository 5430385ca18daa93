package sensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeBGRA(width, height int, b, g, r byte) *RawImage {
	img := &RawImage{
		Width:  width,
		Height: height,
		Format: FormatBGRA8,
		Pixels: make([]byte, width*height*4),
	}
	for i := 0; i < width*height; i++ {
		img.Pixels[i*4] = b
		img.Pixels[i*4+1] = g
		img.Pixels[i*4+2] = r
		img.Pixels[i*4+3] = 255
	}
	return img
}

func TestParseKind(t *testing.T) {
	for _, k := range AllKinds {
		p, err := ParseKind(k.Shorthand())
		require.NoError(t, err)
		require.Equal(t, k, p)
		p, err = ParseKind(k.Blueprint())
		require.NoError(t, err)
		require.Equal(t, k, p)
	}
	_, err := ParseKind("thermal")
	require.Error(t, err)

	require.Equal(t, "sensor.camera.semantic_segmentation", KindSemanticSegmentation.Blueprint())
	require.True(t, KindSemanticSegmentation.NeedsPalette())
	require.True(t, KindInstanceSegmentation.NeedsPalette())
	require.False(t, KindRGB.NeedsPalette())
	require.False(t, KindLidar.ProducesImages())
	require.False(t, KindOpticalFlow.ProducesImages())
	require.True(t, KindDepth.ProducesImages())
}

func TestKindText(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("ssc")))
	require.Equal(t, KindSemanticSegmentation, k)
	b, err := k.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "ssc", string(b))
	require.Error(t, k.UnmarshalText([]byte("nope")))
}

func TestSpecValidate(t *testing.T) {
	s := Spec{Kind: KindRGB, Role: RoleVisual, Resolution: Resolution{854, 480}, FOV: 110}
	require.NoError(t, s.Validate())
	require.Equal(t, "rgb/visual", s.Name())

	s.Kind = KindRadar
	require.Error(t, s.Validate())

	s.Kind = KindRGB
	s.Resolution.Height = 0
	require.Error(t, s.Validate())

	s.Resolution.Height = 480
	s.FOV = 0
	require.Error(t, s.Validate())
}

func TestDecodeRGB(t *testing.T) {
	raw := makeBGRA(3, 2, 10, 20, 30)
	img, err := Decode(KindRGB, raw)
	require.NoError(t, err)
	require.Equal(t, 3, img.Width)
	require.Equal(t, 2, img.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			p := img.Pixels[y*img.Stride+x*3:]
			require.Equal(t, []byte{30, 20, 10}, p[:3])
		}
	}
	// source is untouched
	require.Equal(t, byte(10), raw.Pixels[0])
}

func TestDecodePalette(t *testing.T) {
	// tag 7 (road) in the red channel
	raw := makeBGRA(2, 2, 0, 0, 7)
	img, err := Decode(KindSemanticSegmentation, raw)
	require.NoError(t, err)
	require.Equal(t, []byte{128, 64, 128}, img.Pixels[:3])

	// out of range tag is black
	raw = makeBGRA(1, 1, 0, 0, 200)
	img, err = Decode(KindInstanceSegmentation, raw)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0}, img.Pixels[:3])

	// palette is not applied to other kinds
	raw = makeBGRA(1, 1, 0, 0, 7)
	img, err = Decode(KindDepth, raw)
	require.NoError(t, err)
	require.Equal(t, []byte{7, 0, 0}, img.Pixels[:3])
}

func TestDecodeErrors(t *testing.T) {
	raw := makeBGRA(4, 4, 0, 0, 0)
	raw.Pixels = raw.Pixels[:10]
	_, err := Decode(KindRGB, raw)
	require.True(t, errors.Is(err, ErrShortBuffer))

	raw = makeBGRA(4, 4, 0, 0, 0)
	raw.Format = FormatUnknown
	_, err = Decode(KindRGB, raw)
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
}
