package studio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrTrackEnded is returned by reads on a track that has ended.
var ErrTrackEnded = errors.New("track ended")

// TrackState represents the state of a track.
type TrackState int

const (
	TrackStateLive  TrackState = iota // Track is active and producing media
	TrackStateEnded                   // Track has ended
	TrackStateMuted                   // Track is muted (still published but not producing)
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	case TrackStateMuted:
		return "muted"
	default:
		return "unknown"
	}
}

// TrackConstraints describes desired track properties (like browser MediaTrackConstraints).
type TrackConstraints struct {
	Width     int    // Desired width (0 = any)
	Height    int    // Desired height (0 = any)
	FrameRate int    // Desired framerate (0 = any)
	DeviceID  string // Specific device ID to use
}

// MediaTrack is a single live audio or video feed owned by the room.
type MediaTrack interface {
	// ID returns the unique identifier for this track.
	ID() string

	// State returns the current track state.
	State() TrackState
}

// VideoTrack is a track whose most recent decoded frame can be sampled.
type VideoTrack interface {
	MediaTrack

	// LatestFrame returns the most recently decoded frame. ok is false
	// until the first frame has been decoded. The frame must not be
	// modified by the caller.
	LatestFrame() (frame *VideoFrame, ok bool)
}

// AudioTrack is a track producing PCM samples.
type AudioTrack interface {
	MediaTrack

	// ReadSamples blocks until the next block of samples is available.
	ReadSamples(ctx context.Context) (*AudioSamples, error)
}

// ConstrainableTrack is a local track that accepts capture constraints.
type ConstrainableTrack interface {
	ApplyConstraints(ctx context.Context, constraints TrackConstraints) error
}

// BaseTrack provides ID and state bookkeeping for track implementations.
type BaseTrack struct {
	id    string
	state atomic.Int32

	mu      sync.Mutex
	endedCb []func()
}

// NewBaseTrack creates a live base track.
func NewBaseTrack(id string) *BaseTrack {
	t := &BaseTrack{id: id}
	t.state.Store(int32(TrackStateLive))
	return t
}

func (t *BaseTrack) ID() string { return t.id }

func (t *BaseTrack) State() TrackState {
	return TrackState(t.state.Load())
}

// SetState updates the track state. Ended is terminal and fires the
// OnEnded callbacks once.
func (t *BaseTrack) SetState(state TrackState) {
	for {
		old := t.state.Load()
		if TrackState(old) == TrackStateEnded {
			return
		}
		if t.state.CompareAndSwap(old, int32(state)) {
			break
		}
	}
	if state != TrackStateEnded {
		return
	}
	t.mu.Lock()
	cbs := t.endedCb
	t.endedCb = nil
	t.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// OnEnded registers a callback fired when the track ends.
func (t *BaseTrack) OnEnded(callback func()) {
	t.mu.Lock()
	t.endedCb = append(t.endedCb, callback)
	t.mu.Unlock()
}

// frameSlot holds the latest decoded frame of a video track.
type frameSlot struct {
	mu    sync.RWMutex
	frame *VideoFrame
}

// store keeps a private copy of frame; decoder output is only valid
// until the next decode call.
func (s *frameSlot) store(frame *VideoFrame) {
	if !frame.Valid() {
		return
	}
	c := frame.Clone()
	s.mu.Lock()
	s.frame = c
	s.mu.Unlock()
}

func (s *frameSlot) load() (*VideoFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.frame != nil
}

func (s *frameSlot) reset() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}
