package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/punctatrack/internal/fsutil"
)

func TestTIFFRoundTrip(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	want := ramp(12, 9)
	want.Set(3, 3, 70000) // clamps to 0xffff
	want.Set(4, 4, -3)    // clamps to 0
	require.NoError(t, WriteTIFF(fs, "movie/ch0/f0002.tif", want))

	mask := NewImage(12, 9)
	mask.Set(6, 6, 1)
	require.NoError(t, WriteTIFF(fs, "movie/mask/f0002.tif", mask))

	src := NewTIFFSource(fs, []string{"movie/ch0/f%04d.tif"}, "movie/mask/f%04d.tif")
	got, err := src.Frame(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Width)
	assert.Equal(t, 9, got.Height)
	assert.Equal(t, want.At(7, 5), got.At(7, 5))
	assert.Equal(t, 65535.0, got.At(3, 3))
	assert.Equal(t, 0.0, got.At(4, 4))

	m, err := src.Mask(2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.At(6, 6))

	_, err = src.Frame(0, 3)
	assert.Error(t, err)
	_, err = src.Frame(1, 2)
	assert.Error(t, err)

	noMask := NewTIFFSource(fs, []string{"movie/ch0/f%04d.tif"}, "")
	m, err = noMask.Mask(2)
	require.NoError(t, err)
	assert.Nil(t, m)
}

type countingSource struct {
	Memory
	frames, masks int
}

func (c *countingSource) Frame(ch, frame int) (*Image, error) {
	c.frames++
	return c.Memory.Frame(ch, frame)
}

func (c *countingSource) Mask(frame int) (*Image, error) {
	c.masks++
	return c.Memory.Mask(frame)
}

func TestCacheReadsOncePerFrame(t *testing.T) {
	t.Parallel()

	mask := NewImage(4, 4)
	mask.Set(1, 1, 1)
	src := &countingSource{Memory: Memory{
		Frames: [][]*Image{{ramp(4, 4), ramp(4, 4)}, {ramp(4, 4), ramp(4, 4)}},
		Masks:  []*Image{mask, mask},
	}}
	c := NewCache(src)

	for i := 0; i < 3; i++ {
		_, err := c.Frame(0, 0)
		require.NoError(t, err)
		_, err = c.Frame(1, 0)
		require.NoError(t, err)
		l, err := c.Labels(0)
		require.NoError(t, err)
		assert.Equal(t, 1.0, l.At(1, 1))
	}
	assert.Equal(t, 2, src.frames)
	assert.Equal(t, 1, src.masks)
	assert.Equal(t, 3, c.Reads())

	_, err := c.Frame(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, src.frames, "advancing the frame evicts the old images")

	_, err = c.Frame(0, 5)
	assert.Error(t, err)
}

func TestMemoryWithoutMasks(t *testing.T) {
	t.Parallel()

	c := NewCache(&Memory{Frames: [][]*Image{{ramp(2, 2)}}})
	l, err := c.Labels(0)
	require.NoError(t, err)
	assert.Nil(t, l)
}
