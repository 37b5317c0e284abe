// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// newPNG encodes a w x h image whose pixel at (x, y) encodes its coordinates.
func newPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	b := newPNG(t, 20, 10)

	a, err := Default.Decode(b)
	require.NoError(t, err)
	require.Equal(t, 20, a.Image.Bounds().Dx())
	require.Equal(t, 10, a.Image.Bounds().Dy())
	require.Equal(t, b, a.Data)
	require.Equal(t, int64(200), a.Cost())
}

func TestDecodeInvalid(t *testing.T) {
	for _, b := range [][]byte{nil, []byte("not an image")} {
		_, err := Default.Decode(b)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("expected ErrDecode, got %v", err)
		}
	}
}

func TestCost(t *testing.T) {
	tcs := []struct {
		name  string
		a     *Artifact
		scale float64
		want  int64
	}{
		{name: "nil", a: nil, want: 0},
		{name: "empty", a: &Artifact{Image: image.NewRGBA(image.Rect(0, 0, 0, 5))}, want: 0},
		{name: "unscaled", a: &Artifact{Image: image.NewRGBA(image.Rect(0, 0, 4, 5))}, want: 20},
		{name: "retina", a: &Artifact{Image: image.NewRGBA(image.Rect(0, 0, 4, 5)), Scale: 2}, want: 80},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Cost(); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCrop(t *testing.T) {
	a, err := Default.Decode(newPNG(t, 20, 10))
	require.NoError(t, err)

	t.Run("noop", func(t *testing.T) {
		for _, s := range []Size{{}, {Width: 0, Height: 4}, {Width: -1, Height: 4}} {
			require.Same(t, a, Default.Crop(a, s))
		}
	})

	t.Run("center", func(t *testing.T) {
		c := Default.Crop(a, Size{Width: 4, Height: 2})
		require.Equal(t, image.Rect(0, 0, 4, 2), c.Image.Bounds())

		// The crop starts at (8, 4) of the source image.
		r, g, _, _ := c.Image.At(0, 0).RGBA()
		require.Equal(t, uint32(8), r>>8)
		require.Equal(t, uint32(4), g>>8)

		decoded, err := Default.Decode(c.Data)
		require.NoError(t, err)
		require.Equal(t, c.Image.Bounds(), decoded.Image.Bounds())
	})

	t.Run("clamped", func(t *testing.T) {
		c := Default.Crop(a, Size{Width: 100, Height: 100})
		require.Equal(t, image.Rect(0, 0, 20, 10), c.Image.Bounds())
	})
}
