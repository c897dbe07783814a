package studio

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/livekit/protocol/livekit"
)

// ConnectionQuality is the quality of a participant's connection as
// reported by the room.
type ConnectionQuality int

const (
	ConnectionQualityUnknown ConnectionQuality = iota
	ConnectionQualityPoor
	ConnectionQualityGood
	ConnectionQualityExcellent
)

func (q ConnectionQuality) String() string {
	switch q {
	case ConnectionQualityPoor:
		return "poor"
	case ConnectionQualityGood:
		return "good"
	case ConnectionQualityExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// ConnectionQualityFromLiveKit maps a LiveKit quality level. A lost
// connection is reported as unknown.
func ConnectionQualityFromLiveKit(q livekit.ConnectionQuality) ConnectionQuality {
	switch q {
	case livekit.ConnectionQuality_POOR:
		return ConnectionQualityPoor
	case livekit.ConnectionQuality_GOOD:
		return ConnectionQualityGood
	case livekit.ConnectionQuality_EXCELLENT:
		return ConnectionQualityExcellent
	default:
		return ConnectionQualityUnknown
	}
}

// QualityMonitor follows the local participant's connection quality.
type QualityMonitor struct {
	mu          sync.RWMutex
	quality     ConnectionQuality
	onChange    []func(old, new ConnectionQuality)
	unsubscribe func()
}

// NewQualityMonitor subscribes to events. Call Close to unsubscribe.
func NewQualityMonitor(events RoomEventSource) *QualityMonitor {
	m := &QualityMonitor{}
	m.unsubscribe = events.Subscribe(m.handle)
	return m
}

func (m *QualityMonitor) handle(ev RoomEvent) {
	if ev.Kind != RoomEventConnectionQuality || !ev.IsLocal {
		return
	}
	m.mu.Lock()
	old := m.quality
	m.quality = ev.Quality
	cbs := m.onChange
	m.mu.Unlock()
	if old == ev.Quality {
		return
	}
	for _, cb := range cbs {
		cb(old, ev.Quality)
	}
}

// Quality returns the latest reported quality.
func (m *QualityMonitor) Quality() ConnectionQuality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quality
}

// OnChange registers fn for quality changes.
func (m *QualityMonitor) OnChange(fn func(old, new ConnectionQuality)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Close stops following the room.
func (m *QualityMonitor) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// VideoQuality names a camera capture preset.
type VideoQuality string

const (
	VideoQuality720p    VideoQuality = "720p"
	VideoQuality1080p   VideoQuality = "1080p"
	VideoQuality1080p60 VideoQuality = "1080p60"
)

// BitrateLevel scales a preset's bitrate.
type BitrateLevel string

const (
	BitrateLow    BitrateLevel = "low"
	BitrateMedium BitrateLevel = "medium"
	BitrateHigh   BitrateLevel = "high"
	BitrateUltra  BitrateLevel = "ultra"
)

// QualityPreset is a capture resolution, frame rate and base bitrate.
type QualityPreset struct {
	Width      int
	Height     int
	FrameRate  int
	BitrateBps int
}

var qualityPresets = map[VideoQuality]QualityPreset{
	VideoQuality720p:    {Width: 1280, Height: 720, FrameRate: 30, BitrateBps: 1_500_000},
	VideoQuality1080p:   {Width: 1920, Height: 1080, FrameRate: 30, BitrateBps: 3_000_000},
	VideoQuality1080p60: {Width: 1920, Height: 1080, FrameRate: 60, BitrateBps: 4_500_000},
}

var bitrateMultipliers = map[BitrateLevel]float64{
	BitrateLow:    0.5,
	BitrateMedium: 0.75,
	BitrateHigh:   1.0,
	BitrateUltra:  1.5,
}

// LookupQualityPreset returns the preset for q.
func LookupQualityPreset(q VideoQuality) (QualityPreset, bool) {
	p, ok := qualityPresets[q]
	return p, ok
}

// TargetBitrate returns the preset bitrate scaled by level, rounded to
// the nearest bit per second.
func (p QualityPreset) TargetBitrate(level BitrateLevel) int {
	mult, ok := bitrateMultipliers[level]
	if !ok {
		mult = 1.0
	}
	return int(math.Round(float64(p.BitrateBps) * mult))
}

// Constraints returns the capture constraints for the preset.
func (p QualityPreset) Constraints() TrackConstraints {
	return TrackConstraints{Width: p.Width, Height: p.Height, FrameRate: p.FrameRate}
}

// ApplyQuality applies a preset to the local camera and returns the
// resulting target bitrate. Tracks that cannot be constrained are left
// as they are.
func ApplyQuality(ctx context.Context, camera MediaTrack, quality VideoQuality, level BitrateLevel) (int, error) {
	preset, ok := LookupQualityPreset(quality)
	if !ok {
		return 0, fmt.Errorf("unknown video quality %q", quality)
	}
	bitrate := preset.TargetBitrate(level)
	if camera == nil {
		return bitrate, nil
	}
	if ct, ok := camera.(ConstrainableTrack); ok {
		if err := ct.ApplyConstraints(ctx, preset.Constraints()); err != nil {
			return bitrate, fmt.Errorf("apply %s constraints: %w", quality, err)
		}
	}
	return bitrate, nil
}
