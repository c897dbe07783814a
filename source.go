package studio

import "fmt"

// SourceKind identifies which publication of a participant a source is.
type SourceKind int

const (
	SourceKindUnknown    SourceKind = iota
	SourceKindCamera                // Camera capture
	SourceKindScreen                // Screen share
	SourceKindMicrophone            // Microphone capture
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindCamera:
		return "camera"
	case SourceKindScreen:
		return "screen_share"
	case SourceKindMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}

// IsVideo reports whether sources of this kind carry video.
func (k SourceKind) IsVideo() bool {
	return k == SourceKindCamera || k == SourceKindScreen
}

// SourceHandle identifies one live media source of a participant.
// The room owns the track; holders must treat a handle as possibly stale
// on every use.
type SourceHandle struct {
	OwnerID   string
	OwnerName string
	Kind      SourceKind
	Track     MediaTrack
	IsLocal   bool
}

// ID returns a stable identifier for the source, "<owner>/<kind>".
func (h SourceHandle) ID() string {
	return fmt.Sprintf("%s/%s", h.OwnerID, h.Kind)
}

// Video returns the handle's track as a VideoTrack.
func (h SourceHandle) Video() (VideoTrack, bool) {
	if !h.Kind.IsVideo() || h.Track == nil {
		return nil, false
	}
	v, ok := h.Track.(VideoTrack)
	return v, ok
}

// Audio returns the handle's track as an AudioTrack.
func (h SourceHandle) Audio() (AudioTrack, bool) {
	if h.Kind != SourceKindMicrophone || h.Track == nil {
		return nil, false
	}
	a, ok := h.Track.(AudioTrack)
	return a, ok
}

// Live reports whether the underlying track currently produces media.
func (h SourceHandle) Live() bool {
	return h.Track != nil && h.Track.State() == TrackStateLive
}

// SourceRegistry reports the sources currently available for recording.
type SourceRegistry interface {
	// ActiveSources returns the live sources at call time, local
	// participant first, then remote participants in join order.
	// An empty result is not an error.
	ActiveSources() []SourceHandle
}

// SourcesOfKind filters handles by kind, preserving order.
func SourcesOfKind(handles []SourceHandle, kind SourceKind) []SourceHandle {
	out := make([]SourceHandle, 0, len(handles))
	for _, h := range handles {
		if h.Kind == kind {
			out = append(out, h)
		}
	}
	return out
}
