package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/monitoring"
	"github.com/banshee-data/punctatrack/internal/timeutil"
	"github.com/banshee-data/punctatrack/internal/tracking/frames"
	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
)

// Sink receives each finished movie. Sinks are called from worker
// goroutines and must be safe for concurrent use. A sink error aborts the
// batch.
type Sink interface {
	Write(ctx context.Context, res *Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res *Result) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, res *Result) error { return f(ctx, res) }

// BatchOptions configures RunBatch.
type BatchOptions struct {
	// Workers bounds concurrent movies; 0 uses the tuning config.
	Workers int
	// FS holds tracker, detection and (for the default source) frame files.
	FS fsutil.FileSystem
	// Source, when set, supplies frames for a movie instead of TIFF files.
	Source func(movie *l1input.Movie) (frames.Source, error)
	Sinks  []Sink
	// Clock stamps ProcessedAt and Duration; nil uses the wall clock.
	Clock timeutil.Clock
}

// Outcome is the fate of one movie in a batch.
type Outcome struct {
	Movie   string
	Result  *Result
	Skipped bool
	Err     error
}

// RunBatch validates every movie, then processes them in parallel. Movies
// with missing inputs are logged and skipped, and other per-movie failures
// are recorded in their Outcome; neither stops the batch. Outcomes follow
// the order of movies.
func RunBatch(ctx context.Context, movies []l1input.Movie, cfg *config.TuningConfig, opts BatchOptions) ([]Outcome, error) {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning config: %w", err)
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	seen := make(map[string]bool, len(movies))
	for i := range movies {
		if err := movies[i].Validate(); err != nil {
			return nil, fmt.Errorf("movie %d: %w", i, err)
		}
		if seen[movies[i].Name] {
			return nil, fmt.Errorf("movie %d: duplicate name %q", i, movies[i].Name)
		}
		seen[movies[i].Name] = true
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.GetWorkers()
	}
	out := make([]Outcome, len(movies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range movies {
		movie := &movies[i]
		out[i].Movie = movie.Name
		g.Go(func() error {
			return runOne(gctx, movie, cfg, opts, &out[i])
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func runOne(ctx context.Context, movie *l1input.Movie, cfg *config.TuningConfig, opts BatchOptions, o *Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logf := monitoring.MovieLogf(movie.Name)

	var src frames.Source
	if opts.Source != nil {
		var err error
		if src, err = opts.Source(movie); err != nil {
			o.Err = err
			movieFailed(movie.Name, "frame source", err)
			return nil
		}
	}

	res, err := processMovie(ctx, movie, cfg, opts.FS, src, opts.Clock)
	switch {
	case errors.Is(err, l1input.ErrMissingInput):
		o.Skipped, o.Err = true, err
		logf("skipped: %v", err)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		o.Err = err
		movieFailed(movie.Name, "processing", err)
		logf("failed: %v", err)
		return nil
	}
	o.Result = res

	for _, s := range opts.Sinks {
		if err := s.Write(ctx, res); err != nil {
			movieFailed(movie.Name, "sink", err)
			return fmt.Errorf("movie %s: write result: %w", movie.Name, err)
		}
	}
	logf("done: %d tracks, categories %v", len(res.Tracks), res.Info.CategoryCounts)
	return nil
}
