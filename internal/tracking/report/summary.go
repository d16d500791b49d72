package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/security"
	"github.com/banshee-data/punctatrack/internal/tracking/l5classify"
	"github.com/banshee-data/punctatrack/internal/tracking/pipeline"
)

// SummaryName is the file WriteSummaryHTML creates in its directory.
const SummaryName = "summary.html"

var categoryLabels = []string{
	"1 valid", "2 invalid", "3 incomplete", "4 persistent",
	"5 valid (compound)", "6 invalid (compound)", "7 incomplete (compound)", "8 persistent (compound)",
}

// WriteSummaryHTML renders a page with category counts, lifetime
// histograms and the mean MSD curve of category-1 tracks to
// dir/summary.html and returns the path.
func WriteSummaryHTML(fs fsutil.FileSystem, dir string, res *pipeline.Result) (string, error) {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("punctatrack - %s", res.Info.Movie)
	page.AddCharts(categoryChart(res), lifetimeChart(res), msdChart(res))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(dir, SummaryName)
	if err := fs.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func categoryChart(res *pipeline.Result) *charts.Bar {
	counts := res.Info.CategoryCounts
	if counts == nil {
		counts = pipeline.CategoryCounts(res.Tracks)
	}
	y := make([]opts.BarData, len(categoryLabels))
	for i := range categoryLabels {
		y[i] = opts.BarData{Value: counts[i+1]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Track categories",
			Subtitle: fmt.Sprintf("movie=%s run=%s tracks=%d", res.Info.Movie, res.Info.RunID, len(res.Tracks)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(categoryLabels).
		AddSeries("tracks", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func lifetimeChart(res *pipeline.Result) *charts.Bar {
	series := lifetimeSeries(res)
	n := 0
	for _, s := range series {
		n = max(n, len(s.counts))
	}
	x := make([]string, 0, n)
	for k := 1; k < n; k++ {
		x = append(x, strconv.FormatFloat(float64(k)*res.Info.FrameInterval, 'g', 4, 64))
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Category 1 lifetimes", Subtitle: fmt.Sprintf("rescued=%d", res.Info.Rescued)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Lifetime (s)", NameLocation: "middle", NameGap: 25}),
	)
	bar.SetXAxis(x)
	for _, s := range series {
		y := make([]opts.BarData, 0, n)
		for k := 1; k < n; k++ {
			v := 0
			if k < len(s.counts) {
				v = s.counts[k]
			}
			y = append(y, opts.BarData{Value: v})
		}
		bar.AddSeries(s.label, y)
	}
	return bar
}

// meanMSD averages MSD per lag over category-1 tracks, skipping lags a
// track could not estimate.
func meanMSD(res *pipeline.Result) []float64 {
	var sum []float64
	var n []int
	for _, tr := range res.Tracks {
		if tr.Category != l5classify.CategoryValid || tr.Motion == nil {
			continue
		}
		for lag, v := range tr.Motion.MSD {
			if lag >= len(sum) {
				sum = append(sum, 0)
				n = append(n, 0)
			}
			if !math.IsNaN(v) {
				sum[lag] += v
				n[lag]++
			}
		}
	}
	out := make([]float64, len(sum))
	for i := range sum {
		out[i] = math.NaN()
		if n[i] > 0 {
			out[i] = sum[i] / float64(n[i])
		}
	}
	return out
}

func msdChart(res *pipeline.Result) *charts.Line {
	msd := meanMSD(res)
	x := make([]string, len(msd))
	y := make([]opts.LineData, len(msd))
	for i, v := range msd {
		x[i] = strconv.FormatFloat(float64(i+1)*res.Info.FrameInterval, 'g', 4, 64)
		if math.IsNaN(v) {
			// echarts treats "-" as a missing point
			y[i] = opts.LineData{Value: "-"}
			continue
		}
		y[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Mean squared displacement", Subtitle: "category 1 tracks"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Lag (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MSD (px²)"}),
	)
	line.SetXAxis(x).AddSeries("mean MSD", y)
	return line
}

// Writer is a pipeline.Sink that writes the plot and summary page of each
// movie into Dir/<movie>/, with the movie name reduced to a safe file name.
type Writer struct {
	FS  fsutil.FileSystem
	Dir string
}

// Write implements pipeline.Sink.
func (w *Writer) Write(_ context.Context, res *pipeline.Result) error {
	dir := filepath.Join(w.Dir, security.SanitizeFilename(res.Info.Movie))
	if _, err := WriteLifetimePlot(w.FS, dir, res); err != nil {
		return err
	}
	_, err := WriteSummaryHTML(w.FS, dir, res)
	return err
}

var _ pipeline.Sink = (*Writer)(nil)
