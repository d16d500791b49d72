// Package api serves a read-mostly JSON view of persisted tracking runs.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/punctatrack/internal/httputil"
	"github.com/banshee-data/punctatrack/internal/monitoring"
	"github.com/banshee-data/punctatrack/internal/tracking/l3tracks"
	"github.com/banshee-data/punctatrack/internal/tracking/pipeline"
	"github.com/banshee-data/punctatrack/internal/tracking/storage/sqlite"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Results is the part of the run store the API reads from.
type Results interface {
	GetRun(ctx context.Context, runID string) (*sqlite.Run, error)
	ListRuns(ctx context.Context, movie string) ([]*sqlite.Run, error)
	ListTracks(ctx context.Context, runID string, category int) ([]*sqlite.TrackRow, error)
	TrackSamples(ctx context.Context, trackID string) ([]sqlite.Sample, error)
	TrackMSD(ctx context.Context, trackID string) ([]sqlite.MSDPoint, error)
	DeleteRun(ctx context.Context, runID string) error
}

type Server struct {
	results Results
}

func NewServer(results Results) *Server {
	return &Server{results: results}
}

// ServeMux returns the API routes.
//
//	GET    /api/runs?movie=
//	GET    /api/runs/{id}
//	DELETE /api/runs/{id}
//	GET    /api/runs/{id}/tracks?category=
//	GET    /api/tracks/{id}/samples
//	GET    /api/tracks/{id}/msd
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/tracks", s.listTracks)
	mux.HandleFunc("GET /api/tracks/{id}/samples", s.trackSamples)
	mux.HandleFunc("GET /api/tracks/{id}/msd", s.trackMSD)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration of each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

type runJSON struct {
	RunID         string                   `json:"run_id"`
	Movie         string                   `json:"movie"`
	Version       string                   `json:"version"`
	ProcessedAt   time.Time                `json:"processed_at"`
	Preprocessed  bool                     `json:"preprocessed"`
	Postprocessed bool                     `json:"postprocessed"`
	NFrames       int                      `json:"n_frames"`
	FrameInterval float64                  `json:"frame_interval_s"`
	MasterChannel int                      `json:"master_channel"`
	NTracks       int                      `json:"n_tracks"`
	Info          *pipeline.ProcessingInfo `json:"info,omitempty"`
}

func toRunJSON(r *sqlite.Run, withInfo bool) runJSON {
	out := runJSON{
		RunID:         r.RunID,
		Movie:         r.Movie,
		Version:       r.Version,
		ProcessedAt:   r.ProcessedAt,
		Preprocessed:  r.Preprocessed,
		Postprocessed: r.Postprocessed,
		NFrames:       r.NFrames,
		FrameInterval: r.FrameInterval,
		MasterChannel: r.MasterChannel,
		NTracks:       r.NTracks,
	}
	if withInfo {
		out.Info = &r.Info
	}
	return out
}

type trackJSON struct {
	TrackID      string                `json:"track_id"`
	Index        int                   `json:"track_index"`
	ParentID     string                `json:"parent_id,omitempty"`
	Category     int                   `json:"category"`
	NSeg         int                   `json:"n_seg"`
	StartFrame   int                   `json:"start_frame"`
	EndFrame     int                   `json:"end_frame"`
	Lifetime     httputil.Float        `json:"lifetime_s"`
	Visibility   string                `json:"visibility"`
	IsCCP        bool                  `json:"is_ccp"`
	MaxA         httputil.Float        `json:"max_a"`
	GapFraction  httputil.Float        `json:"gap_fraction"`
	Displacement httputil.Float        `json:"displacement"`
	Transitions  []l3tracks.Transition `json:"transitions"`
}

type sampleJSON struct {
	Slot    int            `json:"slot"`
	Frame   int            `json:"frame"`
	T       httputil.Float `json:"t_s"`
	Kind    string         `json:"kind"`
	Segment int            `json:"segment"`
	X       httputil.Float `json:"x"`
	Y       httputil.Float `json:"y"`
	A       httputil.Float `json:"a"`
	C       httputil.Float `json:"c"`
	XStd    httputil.Float `json:"x_std"`
	YStd    httputil.Float `json:"y_std"`
	AStd    httputil.Float `json:"a_std"`
	CStd    httputil.Float `json:"c_std"`
	SigmaR  httputil.Float `json:"sigma_r"`
	PVal    httputil.Float `json:"p_val"`
	IsPSF   bool           `json:"is_psf"`
}

type msdJSON struct {
	Lag    int            `json:"lag"`
	MSD    httputil.Float `json:"msd"`
	MSDStd httputil.Float `json:"msd_std"`
	Pairs  int            `json:"pairs"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.results.ListRuns(r.Context(), r.URL.Query().Get("movie"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run, false))
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.results.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, sqlite.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, toRunJSON(run, true))
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.results.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrRunNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	if err := s.results.DeleteRun(r.Context(), id); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	category, err := httputil.IntQuery(r, "category", 0)
	if err != nil || category < 0 || category > 8 {
		httputil.BadRequest(w, "category must be an integer in 0..8")
		return
	}
	rows, err := s.results.ListTracks(r.Context(), r.PathValue("id"), category)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]trackJSON, 0, len(rows))
	for _, t := range rows {
		out = append(out, trackJSON{
			TrackID:      t.TrackID,
			Index:        t.Index,
			ParentID:     t.ParentID,
			Category:     t.Category,
			NSeg:         t.NSeg,
			StartFrame:   t.StartFrame,
			EndFrame:     t.EndFrame,
			Lifetime:     httputil.Float(t.Lifetime),
			Visibility:   t.Visibility,
			IsCCP:        t.IsCCP,
			MaxA:         httputil.Float(t.MaxA),
			GapFraction:  httputil.Float(t.GapFraction),
			Displacement: httputil.Float(t.Displacement),
			Transitions:  t.Transitions,
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) trackSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.results.TrackSamples(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]sampleJSON, 0, len(samples))
	for _, sm := range samples {
		out = append(out, sampleJSON{
			Slot:    sm.Slot,
			Frame:   sm.Frame,
			T:       httputil.Float(sm.T),
			Kind:    sm.Kind,
			Segment: sm.Segment,
			X:       httputil.Float(sm.X),
			Y:       httputil.Float(sm.Y),
			A:       httputil.Float(sm.A),
			C:       httputil.Float(sm.C),
			XStd:    httputil.Float(sm.XStd),
			YStd:    httputil.Float(sm.YStd),
			AStd:    httputil.Float(sm.AStd),
			CStd:    httputil.Float(sm.CStd),
			SigmaR:  httputil.Float(sm.SigmaR),
			PVal:    httputil.Float(sm.PVal),
			IsPSF:   sm.IsPSF,
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) trackMSD(w http.ResponseWriter, r *http.Request) {
	points, err := s.results.TrackMSD(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]msdJSON, 0, len(points))
	for _, p := range points {
		out = append(out, msdJSON{Lag: p.Lag, MSD: httputil.Float(p.MSD), MSDStd: httputil.Float(p.MSDStd), Pairs: p.Pairs})
	}
	httputil.WriteJSONOK(w, out)
}
