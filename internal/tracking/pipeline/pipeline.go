package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/monitoring"
	"github.com/banshee-data/punctatrack/internal/timeutil"
	"github.com/banshee-data/punctatrack/internal/tracking/frames"
	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
	"github.com/banshee-data/punctatrack/internal/tracking/l2topology"
	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/l4estimate"
	"github.com/banshee-data/punctatrack/internal/tracking/l5classify"
	"github.com/banshee-data/punctatrack/internal/tracking/l6motion"
	"github.com/banshee-data/punctatrack/internal/version"
)

// Settings is the resolved configuration a movie was processed with.
type Settings struct {
	BufferBefore             int       `json:"buffer_before"`
	BufferAfter              int       `json:"buffer_after"`
	BufferAll                bool      `json:"buffer_all"`
	CohortBoundsSecs         []float64 `json:"cohort_bounds_s"`
	CutoffFrames             int       `json:"cutoff_frames"`
	ForceDiffractionLimited  bool      `json:"force_diffraction_limited"`
	Alpha                    float64   `json:"alpha"`
	BorderSigmaFactor        float64   `json:"border_sigma_factor"`
	FitRadiusSigmaFactor     float64   `json:"fit_radius_sigma_factor"`
	ShortBranchFrames        int       `json:"short_branch_frames"`
	MaxMSDLag                int       `json:"max_msd_lag"`
	GapDensityLimit          float64   `json:"gap_density_limit"`
	DisplacementOutlierCount int       `json:"displacement_outlier_count"`
	DisplacementPercentile   float64   `json:"displacement_percentile"`
	RescuePercentile         float64   `json:"rescue_percentile"`
	HotspotMinLength         int       `json:"hotspot_min_length"`
}

// SettingsFromTuning resolves every tuning default.
func SettingsFromTuning(cfg *config.TuningConfig) Settings {
	return Settings{
		BufferBefore:             cfg.GetBufferBefore(),
		BufferAfter:              cfg.GetBufferAfter(),
		BufferAll:                cfg.GetBufferAll(),
		CohortBoundsSecs:         cfg.GetCohortBoundsSecs(),
		CutoffFrames:             cfg.GetCutoffFrames(),
		ForceDiffractionLimited:  cfg.GetForceDiffractionLimited(),
		Alpha:                    cfg.GetAlpha(),
		BorderSigmaFactor:        cfg.GetBorderSigmaFactor(),
		FitRadiusSigmaFactor:     cfg.GetFitRadiusSigmaFactor(),
		ShortBranchFrames:        cfg.GetShortBranchFrames(),
		MaxMSDLag:                cfg.GetMaxMSDLag(),
		GapDensityLimit:          cfg.GetGapDensityLimit(),
		DisplacementOutlierCount: cfg.GetDisplacementOutlierCount(),
		DisplacementPercentile:   cfg.GetDisplacementPercentile(),
		RescuePercentile:         cfg.GetRescuePercentile(),
		HotspotMinLength:         cfg.GetHotspotMinLength(),
	}
}

// ProcessingInfo records how a movie was processed and what each stage did.
type ProcessingInfo struct {
	RunID         string    `json:"run_id"`
	Movie         string    `json:"movie"`
	Version       string    `json:"version"`
	ProcessedAt   time.Time `json:"processed_at"`
	Preprocessed  bool      `json:"preprocessed"`
	Postprocessed bool      `json:"postprocessed"`
	Settings      Settings  `json:"settings"`

	NFrames       int     `json:"n_frames"`
	FrameInterval float64 `json:"frame_interval_s"`
	MasterChannel int     `json:"master_channel"`

	CompoundTracks       int              `json:"compound_tracks"`
	SingleFrameRemoved   int              `json:"single_frame_removed"`
	Fusions              int              `json:"fusions"`
	ShortBranchesRemoved int              `json:"short_branches_removed"`
	BorderRejected       int              `json:"border_rejected"`
	Estimation           l4estimate.Stats `json:"estimation"`
	MotionAnalysed       int              `json:"motion_analysed"`

	// LifetimeHistBefore/After count category-1 tracks per lifetime in
	// frames, before and after the rescue pass.
	LifetimeHistBefore []int       `json:"lifetime_hist_before,omitempty"`
	LifetimeHistAfter  []int       `json:"lifetime_hist_after,omitempty"`
	Rescued            int         `json:"rescued"`
	SplitParents       int         `json:"split_parents"`
	CategoryCounts     map[int]int `json:"category_counts"`

	Duration time.Duration `json:"duration_ns"`
}

// Result is the finalized output for one movie.
type Result struct {
	Movie  *l1input.Movie
	Tracks []*l3tracks.Track
	Info   ProcessingInfo
}

// ProcessMovie runs every stage for one movie, strictly in order. When src is
// nil, frames and masks are read as TIFF files through fs at the paths named
// by the movie's channel and mask patterns. A missing tracker or detection
// file yields an error wrapping l1input.ErrMissingInput.
func ProcessMovie(ctx context.Context, movie *l1input.Movie, cfg *config.TuningConfig, fs fsutil.FileSystem, src frames.Source) (*Result, error) {
	return processMovie(ctx, movie, cfg, fs, src, timeutil.RealClock{})
}

func processMovie(ctx context.Context, movie *l1input.Movie, cfg *config.TuningConfig, fs fsutil.FileSystem, src frames.Source, clock timeutil.Clock) (*Result, error) {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if err := movie.Validate(); err != nil {
		return nil, err
	}
	master, err := movie.MasterChannel()
	if err != nil {
		return nil, err
	}
	logf := monitoring.MovieLogf(movie.Name)
	began := clock.Now()
	stages := &stageClock{movie: movie.Name, since: func() time.Duration { return clock.Since(began) }}

	info := ProcessingInfo{
		RunID:         uuid.NewString(),
		Movie:         movie.Name,
		Version:       version.String(),
		ProcessedAt:   began.UTC(),
		Preprocessed:  cfg.GetPreprocess(),
		Postprocessed: cfg.GetPostprocess(),
		Settings:      SettingsFromTuning(cfg),
		NFrames:       movie.NFrames,
		FrameInterval: movie.FrameInterval,
		MasterChannel: master,
	}

	compound, err := l1input.LoadTracker(fs, movie.TrackerPath)
	if err != nil {
		return nil, fmt.Errorf("movie %s: %w", movie.Name, err)
	}
	dets, err := l1input.LoadDetections(fs, movie.DetectionPath)
	if err != nil {
		return nil, fmt.Errorf("movie %s: %w", movie.Name, err)
	}
	info.CompoundTracks = len(compound)
	stages.done("load", len(compound))

	if info.Preprocessed {
		n := len(compound)
		compound = l2topology.RemoveSingleFrame(compound)
		info.SingleFrameRemoved = n - len(compound)
		for i, ct := range compound {
			var fused int
			compound[i], fused = l2topology.Normalize(ct, dets, master)
			info.Fusions += fused
		}
		logf("preprocess: removed %d single-frame tracks, %d overlap fusions", info.SingleFrameRemoved, info.Fusions)
	}
	for i, ct := range compound {
		var removed int
		compound[i], removed = l2topology.RemoveShortBranches(ct, info.Settings.ShortBranchFrames)
		info.ShortBranchesRemoved += removed
	}

	tracks := make([]*l3tracks.Track, 0, len(compound))
	for _, ct := range compound {
		tracks = append(tracks, l3tracks.Flatten(ct, dets, movie, master))
	}
	margin := l3tracks.BorderMargin(movie.Channels[master].Sigma, info.Settings.BorderSigmaFactor)
	tracks, rejected := l3tracks.RejectBorder(tracks, movie.Width, movie.Height, margin)
	info.BorderRejected = len(rejected)
	logf("flatten: %d tracks, %d short branches removed, %d rejected within %dpx of the border",
		len(tracks), info.ShortBranchesRemoved, info.BorderRejected, margin)
	stages.done("flatten", len(tracks))

	before, after := info.Settings.BufferBefore, info.Settings.BufferAfter
	for _, tr := range tracks {
		l3tracks.ClassifyVisibility(tr, movie.NFrames, before, after)
		l3tracks.AttachBuffers(tr, movie, before, after, info.Settings.BufferAll)
		l3tracks.ClassifyGaps(tr)
		l3tracks.Interpolate(tr)
	}

	if src == nil {
		patterns := make([]string, len(movie.Channels))
		for i, ch := range movie.Channels {
			patterns[i] = ch.FramePattern
		}
		src = frames.NewTIFFSource(fs, patterns, movie.MaskPattern)
	}
	sigmas := make([]float64, len(movie.Channels))
	for i, ch := range movie.Channels {
		sigmas[i] = ch.Sigma
	}
	est := l4estimate.New(l4estimate.ConfigFromTuning(cfg, sigmas), logf)
	info.Estimation, err = est.Run(ctx, tracks, frames.NewCache(src))
	if err != nil {
		return nil, fmt.Errorf("movie %s: %w", movie.Name, err)
	}
	stages.done("estimate", len(tracks))

	if info.Postprocessed {
		cctx := l5classify.ContextFromTuning(cfg, movie)
		cctx.Logf = logf
		tracks = l5classify.Classify(tracks, cctx)
		info.LifetimeHistBefore = cctx.LifetimeHistBefore
		info.LifetimeHistAfter = cctx.LifetimeHistAfter
		info.Rescued = cctx.Rescued
		info.SplitParents = cctx.SplitParents
	} else {
		l5classify.AssignInitial(tracks)
	}
	stages.done("classify", len(tracks))

	info.MotionAnalysed = l6motion.Run(tracks, info.Settings.MaxMSDLag)
	stages.done("motion", info.MotionAnalysed)
	info.CategoryCounts = CategoryCounts(tracks)
	info.Duration = clock.Since(began)

	for _, tr := range tracks {
		traceTrack(movie.Name, tr)
	}
	diagf("%s: %d tracks in %v, categories %v", movie.Name, len(tracks), info.Duration, info.CategoryCounts)
	return &Result{Movie: movie, Tracks: tracks, Info: info}, nil
}

// CategoryCounts tallies tracks per category.
func CategoryCounts(tracks []*l3tracks.Track) map[int]int {
	out := make(map[int]int)
	for _, tr := range tracks {
		out[tr.Category]++
	}
	return out
}
