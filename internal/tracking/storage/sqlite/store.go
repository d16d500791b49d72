package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/pipeline"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is a persisted movie run.
type Run struct {
	RunID         string
	Movie         string
	Version       string
	ProcessedAt   time.Time
	Preprocessed  bool
	Postprocessed bool
	NFrames       int
	FrameInterval float64
	MasterChannel int
	NTracks       int
	Info          pipeline.ProcessingInfo
}

// TrackRow is a persisted track summary.
type TrackRow struct {
	TrackID      string
	RunID        string
	Index        int
	ParentID     string
	Category     int
	NSeg         int
	StartFrame   int
	EndFrame     int
	Lifetime     float64
	Visibility   string
	IsCCP        bool
	MaxA         float64
	GapFraction  float64
	Displacement float64
	Transitions  []l3tracks.Transition
}

// Sample is one persisted master-channel slot.
type Sample struct {
	Slot    int
	Frame   int
	T       float64
	Kind    string
	Segment int

	X, Y, A, C   float64
	XStd, YStd   float64
	AStd, CStd   float64
	SigmaR, PVal float64
	IsPSF        bool
}

// MSDPoint is one lag of a persisted MSD curve.
type MSDPoint struct {
	Lag    int
	MSD    float64
	MSDStd float64
	Pairs  int
}

// Store provides persistence for pipeline results.
type Store struct {
	db *sql.DB
}

// NewStore creates a new Store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Write implements pipeline.Sink.
func (s *Store) Write(ctx context.Context, res *pipeline.Result) error {
	return s.SaveResult(ctx, res)
}

var _ pipeline.Sink = (*Store)(nil)

// SaveResult writes one movie's run and tracks in a single transaction.
func (s *Store) SaveResult(ctx context.Context, res *pipeline.Result) error {
	info, err := json.Marshal(res.Info)
	if err != nil {
		return fmt.Errorf("encode processing info: %w", err)
	}
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		i := res.Info
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pt_runs (
				run_id, movie, version, processed_at_ns, preprocessed, postprocessed,
				n_frames, frame_interval_s, master_channel, n_tracks, info_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i.RunID, i.Movie, i.Version, i.ProcessedAt.UnixNano(), i.Preprocessed, i.Postprocessed,
			i.NFrames, i.FrameInterval, i.MasterChannel, len(res.Tracks), string(info),
		); err != nil {
			return fmt.Errorf("insert run %s: %w", i.RunID, err)
		}

		for _, tr := range res.Tracks {
			if err := insertTrack(ctx, tx, i.RunID, tr); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func insertTrack(ctx context.Context, tx *sql.Tx, runID string, tr *l3tracks.Track) error {
	transitions, err := json.Marshal(tr.Transitions)
	if err != nil {
		return fmt.Errorf("encode transitions of %s: %w", tr.ID, err)
	}
	displacement := math.NaN()
	if tr.Motion != nil {
		displacement = tr.Motion.Displacement
	}
	var parent any
	if tr.Parent != "" {
		parent = tr.Parent
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pt_tracks (
			track_id, run_id, track_index, parent_id, category, n_seg, start_frame, end_frame,
			lifetime_s, visibility, is_ccp, max_a, gap_fraction, displacement, transitions_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, runID, tr.Index, parent, tr.Category, tr.NSeg, tr.Start, tr.End,
		tr.Lifetime, tr.Visibility.String(), tr.IsCCP, nullFloat(tr.MaxA), tr.GapFraction(),
		nullFloat(displacement), string(transitions),
	); err != nil {
		return fmt.Errorf("insert track %s: %w", tr.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pt_track_samples (
			track_id, slot, frame, t_s, kind, segment, x, y, a, c,
			x_std, y_std, a_std, c_std, sigma_r, p_val, is_psf
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	m := tr.MasterSeries()
	for k := range tr.Kind {
		if _, err := stmt.ExecContext(ctx,
			tr.ID, k, tr.F[k], nullFloat(tr.T[k]), tr.Kind[k].String(), tr.Seg[k],
			nullFloat(m.X[k]), nullFloat(m.Y[k]), nullFloat(m.A[k]), nullFloat(m.C[k]),
			nullFloat(m.XStd[k]), nullFloat(m.YStd[k]), nullFloat(m.AStd[k]), nullFloat(m.CStd[k]),
			nullFloat(m.SigmaR[k]), nullFloat(m.PVal[k]), m.IsPSF[k],
		); err != nil {
			return fmt.Errorf("insert sample %d of %s: %w", k, tr.ID, err)
		}
	}

	if tr.Motion == nil {
		return nil
	}
	for lag := range tr.Motion.MSD {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pt_track_msd (track_id, lag, msd, msd_std, pairs) VALUES (?, ?, ?, ?, ?)`,
			tr.ID, lag+1, nullFloat(tr.Motion.MSD[lag]), nullFloat(tr.Motion.MSDStd[lag]), tr.Motion.MSDPairs[lag],
		); err != nil {
			return fmt.Errorf("insert msd lag %d of %s: %w", lag+1, tr.ID, err)
		}
	}
	return nil
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns runs, newest first, optionally restricted to one movie.
func (s *Store) ListRuns(ctx context.Context, movie string) ([]*Run, error) {
	query := runSelect
	var args []any
	if movie != "" {
		query += ` WHERE movie = ?`
		args = append(args, movie)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY processed_at_ns DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const runSelect = `
	SELECT run_id, movie, version, processed_at_ns, preprocessed, postprocessed,
	       n_frames, frame_interval_s, master_channel, n_tracks, info_json
	FROM pt_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var ns int64
	var info string
	if err := row.Scan(&r.RunID, &r.Movie, &r.Version, &ns, &r.Preprocessed, &r.Postprocessed,
		&r.NFrames, &r.FrameInterval, &r.MasterChannel, &r.NTracks, &info); err != nil {
		return nil, err
	}
	r.ProcessedAt = time.Unix(0, ns).UTC()
	if err := json.Unmarshal([]byte(info), &r.Info); err != nil {
		return nil, fmt.Errorf("decode processing info of %s: %w", r.RunID, err)
	}
	return &r, nil
}

// ListTracks returns a run's tracks ordered by tracker index. A category of
// 0 returns every category.
func (s *Store) ListTracks(ctx context.Context, runID string, category int) ([]*TrackRow, error) {
	query := `
		SELECT track_id, run_id, track_index, parent_id, category, n_seg, start_frame, end_frame,
		       lifetime_s, visibility, is_ccp, max_a, gap_fraction, displacement, transitions_json
		FROM pt_tracks
		WHERE run_id = ?`
	args := []any{runID}
	if category != 0 {
		query += ` AND category = ?`
		args = append(args, category)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY track_index, start_frame`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []*TrackRow
	for rows.Next() {
		var t TrackRow
		var parent sql.NullString
		var maxA, disp sql.NullFloat64
		var transitions string
		if err := rows.Scan(&t.TrackID, &t.RunID, &t.Index, &parent, &t.Category, &t.NSeg,
			&t.StartFrame, &t.EndFrame, &t.Lifetime, &t.Visibility, &t.IsCCP, &maxA,
			&t.GapFraction, &disp, &transitions); err != nil {
			return nil, err
		}
		t.ParentID = parent.String
		t.MaxA = floatOrNaN(maxA)
		t.Displacement = floatOrNaN(disp)
		if err := json.Unmarshal([]byte(transitions), &t.Transitions); err != nil {
			return nil, fmt.Errorf("decode transitions of %s: %w", t.TrackID, err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// TrackSamples returns a track's master-channel slots in slot order.
func (s *Store) TrackSamples(ctx context.Context, trackID string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot, frame, t_s, kind, segment, x, y, a, c,
		       x_std, y_std, a_std, c_std, sigma_r, p_val, is_psf
		FROM pt_track_samples
		WHERE track_id = ?
		ORDER BY slot`, trackID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		var v [11]sql.NullFloat64
		if err := rows.Scan(&sm.Slot, &sm.Frame, &v[0], &sm.Kind, &sm.Segment,
			&v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &v[7], &v[8], &v[9], &v[10], &sm.IsPSF); err != nil {
			return nil, err
		}
		sm.T = floatOrNaN(v[0])
		sm.X, sm.Y, sm.A, sm.C = floatOrNaN(v[1]), floatOrNaN(v[2]), floatOrNaN(v[3]), floatOrNaN(v[4])
		sm.XStd, sm.YStd = floatOrNaN(v[5]), floatOrNaN(v[6])
		sm.AStd, sm.CStd = floatOrNaN(v[7]), floatOrNaN(v[8])
		sm.SigmaR, sm.PVal = floatOrNaN(v[9]), floatOrNaN(v[10])
		out = append(out, sm)
	}
	return out, rows.Err()
}

// TrackMSD returns a track's MSD curve in lag order.
func (s *Store) TrackMSD(ctx context.Context, trackID string) ([]MSDPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lag, msd, msd_std, pairs FROM pt_track_msd WHERE track_id = ? ORDER BY lag`, trackID)
	if err != nil {
		return nil, fmt.Errorf("query msd: %w", err)
	}
	defer rows.Close()

	var out []MSDPoint
	for rows.Next() {
		var p MSDPoint
		var msd, std sql.NullFloat64
		if err := rows.Scan(&p.Lag, &msd, &std, &p.Pairs); err != nil {
			return nil, err
		}
		p.MSD, p.MSDStd = floatOrNaN(msd), floatOrNaN(std)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, by cascade, its tracks.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM pt_runs WHERE run_id = ?`, runID)
		return err
	})
}

// nullFloat maps NaN and ±Inf to NULL; SQLite has no representation for them.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// retryOnBusy retries fn while SQLite reports a locked database. Concurrent
// batch workers share one database file.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
