package l1input

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/punctatrack/internal/config"
)

// ErrNoMasterChannel is returned when no channel's frames come from the
// movie's primary source.
var ErrNoMasterChannel = errors.New("no master channel")

// Channel describes one acquisition channel of a movie.
type Channel struct {
	Name string `json:"name"`
	// FramePattern is a fmt pattern taking the 0-based frame index,
	// e.g. "cell01/ch1/frame_%04d.tif".
	FramePattern string `json:"frame_pattern"`
	// Sigma is the nominal Gaussian PSF standard deviation in pixels.
	Sigma float64 `json:"sigma"`
}

// Movie describes one acquisition and where its inputs live.
type Movie struct {
	Name          string    `json:"name"`
	NFrames       int       `json:"n_frames"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FrameInterval float64   `json:"frame_interval_s,omitempty"`
	FrameTimes    []float64 `json:"frame_times_s,omitempty"`
	Channels      []Channel `json:"channels"`
	// Source is the primary source; the channel whose FramePattern equals it
	// is the master channel used for detection and linking.
	Source        string `json:"source"`
	TrackerPath   string `json:"tracker_path"`
	DetectionPath string `json:"detection_path"`
	MaskPattern   string `json:"mask_pattern,omitempty"`
}

// Validate checks the descriptor and, when frame times are given, that the
// sampling is constant. It fills FrameInterval from FrameTimes.
func (m *Movie) Validate() error {
	if m.Name == "" {
		return errors.New("movie name is required")
	}
	if m.NFrames <= 0 {
		return fmt.Errorf("movie %s: n_frames must be positive, got %d", m.Name, m.NFrames)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("movie %s: image size %dx%d is invalid", m.Name, m.Width, m.Height)
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("movie %s: at least one channel is required", m.Name)
	}
	for i, ch := range m.Channels {
		if !(ch.Sigma > 0) || math.IsInf(ch.Sigma, 0) {
			return fmt.Errorf("movie %s: channel %d sigma must be positive, got %v", m.Name, i, ch.Sigma)
		}
	}
	if len(m.FrameTimes) > 0 {
		if len(m.FrameTimes) != m.NFrames {
			return fmt.Errorf("movie %s: %d frame times for %d frames", m.Name, len(m.FrameTimes), m.NFrames)
		}
		dt, err := config.ValidateFrameTimes(m.FrameTimes)
		if err != nil {
			return fmt.Errorf("movie %s: %w", m.Name, err)
		}
		m.FrameInterval = dt
	}
	if !(m.FrameInterval > 0) {
		return fmt.Errorf("movie %s: %w: frame interval %v", m.Name, config.ErrNonConstantFrameRate, m.FrameInterval)
	}
	if _, err := m.MasterChannel(); err != nil {
		return err
	}
	return nil
}

// MasterChannel returns the index of the channel whose frames are the
// movie's primary source.
func (m *Movie) MasterChannel() (int, error) {
	for i, ch := range m.Channels {
		if ch.FramePattern == m.Source {
			return i, nil
		}
	}
	return 0, fmt.Errorf("movie %s: %w (source %q)", m.Name, ErrNoMasterChannel, m.Source)
}

// Duration returns the movie length in seconds.
func (m *Movie) Duration() float64 {
	return float64(m.NFrames) * m.FrameInterval
}

// Time returns the acquisition time of a frame in seconds.
func (m *Movie) Time(frame int) float64 {
	if len(m.FrameTimes) == m.NFrames && frame >= 0 && frame < m.NFrames {
		return m.FrameTimes[frame]
	}
	return float64(frame) * m.FrameInterval
}
