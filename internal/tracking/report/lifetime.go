package report

import (
	"bytes"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/tracking/l5classify"
	"github.com/banshee-data/punctatrack/internal/tracking/pipeline"
)

// LifetimePlotName is the file WriteLifetimePlot creates in its directory.
const LifetimePlotName = "lifetimes.png"

type histSeries struct {
	label  string
	counts []int
	color  color.Color
}

// lifetimeSeries returns the histograms to draw: before and after rescue
// when classification ran, and always the final category-1 histogram.
func lifetimeSeries(res *pipeline.Result) []histSeries {
	var out []histSeries
	if h := res.Info.LifetimeHistBefore; h != nil {
		out = append(out, histSeries{"before rescue", h, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}})
	}
	if h := res.Info.LifetimeHistAfter; h != nil {
		out = append(out, histSeries{"after rescue", h, color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}})
	}
	final := l5classify.LifetimeHistogram(res.Tracks, res.Info.NFrames)
	return append(out, histSeries{"final", final, color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}})
}

// WriteLifetimePlot draws category-1 lifetime histograms (counts per
// lifetime in seconds) to dir/lifetimes.png and returns the path.
func WriteLifetimePlot(fs fsutil.FileSystem, dir string, res *pipeline.Result) (string, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - category 1 lifetimes", res.Info.Movie)
	p.X.Label.Text = "Lifetime (s)"
	p.Y.Label.Text = "Tracks"

	dt := res.Info.FrameInterval
	for _, s := range lifetimeSeries(res) {
		pts := make(plotter.XYs, 0, len(s.counts))
		for k, n := range s.counts {
			if k == 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(k) * dt, Y: float64(n)})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("lifetime plot %s: %w", s.label, err)
		}
		line.StepStyle = plotter.MidStep
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	w, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("render lifetime plot: %w", err)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(dir, LifetimePlotName)
	if err := fs.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return out, nil
}
