package studio

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// TrackPublisher publishes the local participant's camera, microphone
// and screen share.
type TrackPublisher interface {
	SourceEnabled(kind SourceKind) bool
	SetSourceEnabled(ctx context.Context, kind SourceKind, enabled bool) error
}

// ToggleError reports a failed camera, microphone or screen share toggle.
// The source keeps its previous state.
type ToggleError struct {
	Source SourceKind
	Err    error
}

func (e *ToggleError) Error() string {
	return fmt.Sprintf("toggle %s: %v", e.Source, e.Err)
}

func (e *ToggleError) Unwrap() error { return e.Err }

// MediaControls toggles the local participant's published sources.
type MediaControls struct {
	publisher TrackPublisher
	logger    *zap.Logger

	// mu serializes toggles so two clicks cannot interleave.
	mu sync.Mutex
}

// NewMediaControls creates controls over publisher.
func NewMediaControls(publisher TrackPublisher, logger *zap.Logger) *MediaControls {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaControls{publisher: publisher, logger: logger}
}

// ToggleCamera flips the camera and returns whether it is now enabled.
func (c *MediaControls) ToggleCamera(ctx context.Context) (bool, error) {
	return c.toggle(ctx, SourceKindCamera)
}

// ToggleMicrophone flips the microphone.
func (c *MediaControls) ToggleMicrophone(ctx context.Context) (bool, error) {
	return c.toggle(ctx, SourceKindMicrophone)
}

// ToggleScreenShare starts or stops sharing the screen.
func (c *MediaControls) ToggleScreenShare(ctx context.Context) (bool, error) {
	return c.toggle(ctx, SourceKindScreen)
}

// Enabled reports whether kind is currently published.
func (c *MediaControls) Enabled(kind SourceKind) bool {
	return c.publisher.SourceEnabled(kind)
}

func (c *MediaControls) toggle(ctx context.Context, kind SourceKind) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.publisher.SourceEnabled(kind)
	err := c.publisher.SetSourceEnabled(ctx, kind, !prev)
	if err == nil {
		return !prev, nil
	}

	if c.publisher.SourceEnabled(kind) != prev {
		if rerr := c.publisher.SetSourceEnabled(context.WithoutCancel(ctx), kind, prev); rerr != nil {
			c.logger.Error("restore source state", zap.Stringer("source", kind), zap.Error(rerr))
		}
	}
	c.logger.Warn("toggle failed", zap.Stringer("source", kind), zap.Bool("enable", !prev), zap.Error(err))
	return prev, &ToggleError{Source: kind, Err: err}
}
