package frames

import (
	"errors"
	"fmt"
	"math"
)

// ErrWindowOutOfBounds is returned when a window does not fit in the image.
var ErrWindowOutOfBounds = errors.New("window out of bounds")

// Image is a row-major single-channel image. Pixel values are float64 so
// windows can mark excluded pixels with NaN.
type Image struct {
	Width, Height int
	Pix           []float64
}

// NewImage returns a zero image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the value at (x, y); NaN outside the image.
func (im *Image) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return math.NaN()
	}
	return im.Pix[y*im.Width+x]
}

// Set writes the value at (x, y). Out-of-range writes are ignored.
func (im *Image) Set(x, y int, v float64) {
	if x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return
	}
	im.Pix[y*im.Width+x] = v
}

// Window copies the (2r+1)x(2r+1) square centred on (cx, cy).
func (im *Image) Window(cx, cy, r int) (*Image, error) {
	if r < 0 || cx-r < 0 || cy-r < 0 || cx+r >= im.Width || cy+r >= im.Height {
		return nil, fmt.Errorf("%w: centre (%d,%d) radius %d in %dx%d", ErrWindowOutOfBounds, cx, cy, r, im.Width, im.Height)
	}
	n := 2*r + 1
	out := NewImage(n, n)
	for y := 0; y < n; y++ {
		row := (cy-r+y)*im.Width + cx - r
		copy(out.Pix[y*n:(y+1)*n], im.Pix[row:row+n])
	}
	return out, nil
}
