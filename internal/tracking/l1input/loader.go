package l1input

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/punctatrack/internal/fsutil"
)

// ErrMissingInput is returned when a movie's tracker or detection file does
// not exist. Callers skip the movie rather than abort the batch.
var ErrMissingInput = errors.New("missing input")

type trackerFile struct {
	Tracks []trackerRecord `json:"tracks"`
}

type trackerRecord struct {
	FirstFrame int           `json:"first_frame"`
	FeatIdx    [][]int       `json:"feat_idx"`
	Events     []eventRecord `json:"events"`
}

type eventRecord struct {
	Frame   int    `json:"frame"`
	Kind    string `json:"kind"`
	Segment int    `json:"segment"`
	Parent  *int   `json:"parent"`
}

type detectionFile struct {
	Frames []DetectionFrame `json:"frames"`
}

type manifestFile struct {
	Movies []Movie `json:"movies"`
}

func readInput(fsys fsutil.FileSystem, path, what string) ([]byte, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s %s", ErrMissingInput, what, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", what, err)
	}
	return data, nil
}

// LoadTracker reads tracker output and converts every compound track into a
// validated segment graph.
func LoadTracker(fsys fsutil.FileSystem, path string) ([]*CompoundTrack, error) {
	data, err := readInput(fsys, path, "tracker output")
	if err != nil {
		return nil, err
	}
	var f trackerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tracker output %s: %w", path, err)
	}

	tracks := make([]*CompoundTrack, 0, len(f.Tracks))
	for i, rec := range f.Tracks {
		events := make([]Event, len(rec.Events))
		for j, er := range rec.Events {
			ev := Event{Frame: er.Frame, Segment: er.Segment, Parent: NoParent}
			switch er.Kind {
			case "start":
				ev.Kind = EventStart
			case "end":
				ev.Kind = EventEnd
			default:
				return nil, fmt.Errorf("%w: track %d event %d has kind %q", ErrInvalidGraph, i, j, er.Kind)
			}
			if er.Parent != nil {
				ev.Parent = *er.Parent
			}
			events[j] = ev
		}
		ct, err := FromEvents(i, rec.FirstFrame, rec.FeatIdx, events)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, ct)
	}
	return tracks, nil
}

// LoadDetections reads the per-frame detection table. Frames are reordered
// by their frame number and must cover 0..n-1 without holes.
func LoadDetections(fsys fsutil.FileSystem, path string) (Detections, error) {
	data, err := readInput(fsys, path, "detections")
	if err != nil {
		return nil, err
	}
	var f detectionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse detections %s: %w", path, err)
	}

	out := make(Detections, len(f.Frames))
	seen := make([]bool, len(f.Frames))
	for _, fr := range f.Frames {
		if fr.Frame < 0 || fr.Frame >= len(out) || seen[fr.Frame] {
			return nil, fmt.Errorf("detections %s: frame %d out of range or duplicated", path, fr.Frame)
		}
		seen[fr.Frame] = true
		out[fr.Frame] = fr
	}
	return out, nil
}

// LoadManifest reads a batch manifest of movie descriptors. Descriptors are
// not validated here; the batch validates each movie before processing.
func LoadManifest(fsys fsutil.FileSystem, path string) ([]Movie, error) {
	data, err := readInput(fsys, path, "manifest")
	if err != nil {
		return nil, err
	}
	var f manifestFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return f.Movies, nil
}

// EncodeTracker renders compound tracks in the tracker file format. Test
// fixtures and tooling use it to produce inputs for LoadTracker.
func EncodeTracker(tracks []*CompoundTrack) ([]byte, error) {
	f := trackerFile{Tracks: make([]trackerRecord, len(tracks))}
	for i, ct := range tracks {
		first, last := ct.Bounds()
		rec := trackerRecord{FirstFrame: first, FeatIdx: make([][]int, len(ct.Segments))}
		for s := range ct.Segments {
			seg := &ct.Segments[s]
			row := make([]int, last-first+1)
			for fr := seg.Start; fr <= seg.End(); fr++ {
				row[fr-first] = seg.FeatAt(fr)
			}
			rec.FeatIdx[s] = row
		}
		for _, ev := range ct.Events() {
			er := eventRecord{Frame: ev.Frame, Kind: ev.Kind.String(), Segment: ev.Segment}
			if ev.Parent != NoParent {
				p := ev.Parent
				er.Parent = &p
			}
			rec.Events = append(rec.Events, er)
		}
		f.Tracks[i] = rec
	}
	return json.Marshal(f)
}

// EncodeDetections renders a detection table in the detection file format.
func EncodeDetections(dets Detections) ([]byte, error) {
	return json.Marshal(detectionFile{Frames: dets})
}
