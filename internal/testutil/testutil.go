// Package testutil provides shared test fixtures: synthetic movies with
// Gaussian puncta on a noisy flat background, together with the detection
// tables and tracker graphs a detector and tracker would produce for them.
package testutil

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/tracking/frames"
	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
)

// Spot is one synthetic punctum, visible from First to Last inclusive.
// Missing lists frames where the spot is not detected; the tracker bridges
// them as gaps. Dim lists frames where the spot is absent from the image.
type Spot struct {
	X, Y    float64
	A       float64
	First   int
	Last    int
	Missing []int
	Dim     []int
	// NotPSF marks the detections as failing the residual normality test.
	NotPSF bool
}

// MovieOptions configures SyntheticMovie. Zero fields take defaults.
type MovieOptions struct {
	Name          string
	Width, Height int
	NFrames       int
	Channels      int
	Sigma         float64
	Background    float64
	Noise         float64
	FrameInterval float64
	Seed          uint64
	Spots         []Spot
	// Mask, when set, adds one all-foreground mask per frame.
	Mask bool
}

func (o *MovieOptions) defaults() {
	if o.Name == "" {
		o.Name = "synthetic"
	}
	if o.Width == 0 {
		o.Width = 64
	}
	if o.Height == 0 {
		o.Height = 64
	}
	if o.NFrames == 0 {
		o.NFrames = 40
	}
	if o.Channels == 0 {
		o.Channels = 1
	}
	if o.Sigma == 0 {
		o.Sigma = 1.5
	}
	if o.Background == 0 {
		o.Background = 100
	}
	if o.Noise == 0 {
		o.Noise = 2
	}
	if o.FrameInterval == 0 {
		o.FrameInterval = 2
	}
}

// Fixture is a complete synthetic movie.
type Fixture struct {
	Movie      *l1input.Movie
	Detections l1input.Detections
	Tracks     []*l1input.CompoundTrack
	Source     *frames.Memory
}

// SyntheticMovie renders spots into frames and derives detections and one
// single-segment compound track per spot. Channel 0 is the master.
func SyntheticMovie(opts MovieOptions) *Fixture {
	opts.defaults()
	rng := rand.New(rand.NewPCG(opts.Seed, 0x5eed))

	movie := &l1input.Movie{
		Name:          opts.Name,
		NFrames:       opts.NFrames,
		Width:         opts.Width,
		Height:        opts.Height,
		FrameInterval: opts.FrameInterval,
		TrackerPath:   opts.Name + "/tracks.json",
		DetectionPath: opts.Name + "/detections.json",
	}
	for c := 0; c < opts.Channels; c++ {
		movie.Channels = append(movie.Channels, l1input.Channel{
			Name:         fmt.Sprintf("ch%d", c),
			FramePattern: fmt.Sprintf("%s/ch%d/frame_%%04d.tif", opts.Name, c),
			Sigma:        opts.Sigma,
		})
	}
	movie.Source = movie.Channels[0].FramePattern
	if opts.Mask {
		movie.MaskPattern = opts.Name + "/mask/frame_%04d.tif"
	}

	src := &frames.Memory{Frames: make([][]*frames.Image, opts.Channels)}
	dets := make(l1input.Detections, opts.NFrames)
	feat := make([][]int, len(opts.Spots))
	for i, s := range opts.Spots {
		feat[i] = make([]int, s.Last-s.First+1)
	}

	for f := 0; f < opts.NFrames; f++ {
		dets[f].Frame = f
		for c := 0; c < opts.Channels; c++ {
			im := frames.NewImage(opts.Width, opts.Height)
			for i := range im.Pix {
				im.Pix[i] = opts.Background + opts.Noise*rng.NormFloat64()
			}
			for _, s := range opts.Spots {
				if f >= s.First && f <= s.Last && !slices.Contains(s.Dim, f) {
					render(im, s.X, s.Y, s.A, opts.Sigma)
				}
			}
			src.Frames[c] = append(src.Frames[c], im)
		}
		for i, s := range opts.Spots {
			if f < s.First || f > s.Last || slices.Contains(s.Missing, f) {
				continue
			}
			det := l1input.Detection{}
			for c := 0; c < opts.Channels; c++ {
				det.Channels = append(det.Channels, l1input.Measurement{
					X: s.X, Y: s.Y, A: s.A, C: opts.Background,
					XStd: 0.05, YStd: 0.05, AStd: opts.Noise, CStd: opts.Noise / 4,
					SigmaR: opts.Noise, PVal: 1e-6, IsPSF: !s.NotPSF,
				})
			}
			dets[f].Detections = append(dets[f].Detections, det)
			feat[i][f-s.First] = len(dets[f].Detections)
		}
	}
	if opts.Mask {
		for f := 0; f < opts.NFrames; f++ {
			m := frames.NewImage(opts.Width, opts.Height)
			for i := range m.Pix {
				m.Pix[i] = 1
			}
			src.Masks = append(src.Masks, m)
		}
	}

	fx := &Fixture{Movie: movie, Detections: dets, Source: src}
	for i, s := range opts.Spots {
		fx.Tracks = append(fx.Tracks, &l1input.CompoundTrack{
			Index: i,
			Segments: []l1input.Segment{{
				ID: 0, Start: s.First, Feat: feat[i],
				SplitFrom: l1input.NoParent, MergeInto: l1input.NoParent,
			}},
		})
	}
	return fx
}

func render(im *frames.Image, x0, y0, a, sigma float64) {
	r := int(math.Ceil(5 * sigma))
	for y := int(y0) - r; y <= int(y0)+r; y++ {
		for x := int(x0) - r; x <= int(x0)+r; x++ {
			dx, dy := float64(x)-x0, float64(y)-y0
			v := im.At(x, y)
			if math.IsNaN(v) {
				continue
			}
			im.Set(x, y, v+a*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
}

// WriteFixture writes the fixture's tracker output, detections, frames and
// masks to fs at the paths named by its movie descriptor.
func WriteFixture(fs fsutil.FileSystem, fx *Fixture) error {
	data, err := l1input.EncodeTracker(fx.Tracks)
	if err != nil {
		return err
	}
	if err := fs.WriteFile(fx.Movie.TrackerPath, data, 0o644); err != nil {
		return err
	}
	data, err = l1input.EncodeDetections(fx.Detections)
	if err != nil {
		return err
	}
	if err := fs.WriteFile(fx.Movie.DetectionPath, data, 0o644); err != nil {
		return err
	}
	for c, ch := range fx.Movie.Channels {
		for f, im := range fx.Source.Frames[c] {
			if err := frames.WriteTIFF(fs, fmt.Sprintf(ch.FramePattern, f), im); err != nil {
				return err
			}
		}
	}
	for f, m := range fx.Source.Masks {
		if err := frames.WriteTIFF(fs, fmt.Sprintf(fx.Movie.MaskPattern, f), m); err != nil {
			return err
		}
	}
	return nil
}
