package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/tiff"

	"github.com/banshee-data/punctatrack/internal/fsutil"
)

// Source provides intensity frames and foreground masks. Mask returns a nil
// image when the movie has no mask.
type Source interface {
	Frame(ch, frame int) (*Image, error)
	Mask(frame int) (*Image, error)
}

// TIFFSource reads one TIFF file per (channel, frame). Patterns are fmt
// patterns taking the 0-based frame index.
type TIFFSource struct {
	FS            fsutil.FileSystem
	FramePatterns []string
	MaskPattern   string
}

// NewTIFFSource returns a TIFFSource reading through fs.
func NewTIFFSource(fs fsutil.FileSystem, framePatterns []string, maskPattern string) *TIFFSource {
	return &TIFFSource{FS: fs, FramePatterns: framePatterns, MaskPattern: maskPattern}
}

func (s *TIFFSource) Frame(ch, frame int) (*Image, error) {
	if ch < 0 || ch >= len(s.FramePatterns) {
		return nil, fmt.Errorf("channel %d of %d", ch, len(s.FramePatterns))
	}
	return s.read(fmt.Sprintf(s.FramePatterns[ch], frame))
}

func (s *TIFFSource) Mask(frame int) (*Image, error) {
	if s.MaskPattern == "" {
		return nil, nil
	}
	return s.read(fmt.Sprintf(s.MaskPattern, frame))
}

func (s *TIFFSource) read(path string) (*Image, error) {
	data, err := s.FS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image to an Image of 16-bit grey levels.
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				out.Pix[y*out.Width+x] = float64(g.Y)
			}
		}
	}
	return out
}

// ToGray16 converts an Image to a 16-bit grey image, clamping values.
func ToGray16(im *Image) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			v := im.Pix[y*im.Width+x]
			switch {
			case !(v > 0):
				v = 0
			case v > 0xffff:
				v = 0xffff
			}
			out.SetGray16(x, y, color.Gray16{Y: uint16(v + 0.5)})
		}
	}
	return out
}

// WriteTIFF encodes an Image as an uncompressed 16-bit TIFF.
func WriteTIFF(fs fsutil.FileSystem, path string, im *Image) error {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, ToGray16(im), nil); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fs.WriteFile(path, buf.Bytes(), 0o644)
}

// Memory serves frames and masks held in memory. Frames are indexed
// [channel][frame]; Masks may be nil.
type Memory struct {
	Frames [][]*Image
	Masks  []*Image
}

func (m *Memory) Frame(ch, frame int) (*Image, error) {
	if ch < 0 || ch >= len(m.Frames) || frame < 0 || frame >= len(m.Frames[ch]) {
		return nil, fmt.Errorf("no frame %d in channel %d", frame, ch)
	}
	return m.Frames[ch][frame], nil
}

func (m *Memory) Mask(frame int) (*Image, error) {
	if m.Masks == nil {
		return nil, nil
	}
	if frame < 0 || frame >= len(m.Masks) {
		return nil, fmt.Errorf("no mask for frame %d", frame)
	}
	return m.Masks[frame], nil
}

// Cache keeps the images of the most recently requested frame. Masks are
// returned already labelled. Requests for a new frame evict the previous
// frame's images, which suits the estimator's frame-major traversal.
type Cache struct {
	src Source

	mu     sync.Mutex
	frame  int
	images map[int]*Image
	labels *Image
	masked bool
	reads  int
}

// NewCache wraps src.
func NewCache(src Source) *Cache {
	return &Cache{src: src, frame: -1, images: make(map[int]*Image)}
}

func (c *Cache) advance(frame int) {
	if frame == c.frame {
		return
	}
	c.frame = frame
	clear(c.images)
	c.labels = nil
	c.masked = false
}

// Frame returns the channel's image for frame, reading it at most once while
// frame stays current.
func (c *Cache) Frame(ch, frame int) (*Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(frame)
	if im, ok := c.images[ch]; ok {
		return im, nil
	}
	im, err := c.src.Frame(ch, frame)
	if err != nil {
		return nil, err
	}
	c.reads++
	c.images[ch] = im
	return im, nil
}

// Labels returns the connected-component labels of frame's mask, or nil when
// the source has no mask.
func (c *Cache) Labels(frame int) (*Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(frame)
	if c.masked {
		return c.labels, nil
	}
	mask, err := c.src.Mask(frame)
	if err != nil {
		return nil, err
	}
	c.masked = true
	if mask != nil {
		c.reads++
		c.labels = Label(mask)
	}
	return c.labels, nil
}

// Reads returns how many images were fetched from the underlying source.
func (c *Cache) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
