// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	// Register decoders.
	_ "image/gif"
	_ "image/jpeg"
)

// ErrDecode is returned when bytes cannot be decoded into an image.
var ErrDecode = errors.New("failed to decode image")

// Artifact is a decoded image together with the encoded bytes it came from.
type Artifact struct {
	// Image is the decoded image.
	Image image.Image

	// Scale is the number of pixels per point. Zero is treated as 1.
	Scale float64

	// Data is the encoded form of Image as stored on disk.
	Data []byte
}

// Empty reports whether the artifact holds no pixels.
func (a *Artifact) Empty() bool {
	return a == nil || a.Image == nil || a.Image.Bounds().Empty()
}

// Cost is the weight of the artifact in the memory tier: height * width * scale^2.
func (a *Artifact) Cost() int64 {
	if a.Empty() {
		return 0
	}
	scale := a.Scale
	if scale <= 0 {
		scale = 1
	}
	b := a.Image.Bounds()
	return int64(float64(b.Dx()) * float64(b.Dy()) * scale * scale)
}

// Size is a crop size in pixels.
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether the size requests no crop.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Decoder turns fetched bytes into artifacts.
type Decoder interface {
	// Decode decodes b. Errors wrap ErrDecode.
	Decode(b []byte) (*Artifact, error)

	// Crop crops a to size. An invalid size returns a unchanged.
	Crop(a *Artifact, size Size) *Artifact
}

// decoder is the default Decoder using the standard library codecs.
type decoder struct{}

var _ Decoder = decoder{}

// Default decodes png, jpeg and gif images and crops around the center.
var Default Decoder = decoder{}

// Decode decodes b.
func (decoder) Decode(b []byte) (*Artifact, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &Artifact{Image: img, Scale: 1, Data: b}, nil
}

// Crop returns the centered region of a with the given size, encoded as png.
// Sizes with a non-positive dimension are a no-op, and sizes larger than the image are clamped.
func (decoder) Crop(a *Artifact, size Size) *Artifact {
	if a.Empty() || size.Width <= 0 || size.Height <= 0 {
		return a
	}

	b := a.Image.Bounds()
	w, h := min(size.Width, b.Dx()), min(size.Height, b.Dy())
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	r := image.Rect(x0, y0, x0+w, y0+h)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), a.Image, r.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		// Encoding an in-memory RGBA image does not fail in practice; keep the input.
		return a
	}

	return &Artifact{Image: dst, Scale: a.Scale, Data: buf.Bytes()}
}
