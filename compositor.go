package studio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrCompositorStopped is returned when Start is called after Stop.
var ErrCompositorStopped = errors.New("compositor stopped")

// CompositorConfig configures the frame compositor.
type CompositorConfig struct {
	Layout     LayoutConfig
	Background [3]byte // Background color (Y, U, V)
	Scheduler  FrameScheduler
}

// DefaultCompositorConfig returns a 1920x1080 canvas on a #1a1a1a
// background refreshed at DefaultRefreshRate.
func DefaultCompositorConfig() CompositorConfig {
	y, u, v := rgbToYUV(0x1a, 0x1a, 0x1a)
	return CompositorConfig{
		Layout:     DefaultLayoutConfig(),
		Background: [3]byte{y, u, v},
	}
}

// CompositorOption customizes a Compositor.
type CompositorOption func(*Compositor)

// WithCompositorLogger sets the logger used for per-source draw failures.
func WithCompositorLogger(logger *zap.Logger) CompositorOption {
	return func(c *Compositor) {
		c.logger = logger
	}
}

// WithCompositorMetrics records frame counters on m.
func WithCompositorMetrics(m *Metrics) CompositorOption {
	return func(c *Compositor) {
		c.metrics = m
	}
}

// Compositor redraws the recording canvas once per scheduled frame from
// whatever sources the registry reports at that moment. The canvas is
// written only by the compositor; readers take copies with Snapshot.
type Compositor struct {
	config    CompositorConfig
	registry  SourceRegistry
	scheduler FrameScheduler
	logger    *zap.Logger
	metrics   *Metrics

	mu          sync.Mutex
	canvas      *VideoFrame
	placeholder *VideoFrame
	layout      Layout

	running atomic.Bool
	stopped atomic.Bool
	frames  atomic.Uint64
}

// NewCompositor creates a compositor drawing sources from registry.
func NewCompositor(registry SourceRegistry, config CompositorConfig, opts ...CompositorOption) *Compositor {
	if config.Layout.Width <= 0 || config.Layout.Height <= 0 {
		config.Layout = DefaultLayoutConfig()
	}
	// I420 needs even dimensions
	config.Layout.Width = (config.Layout.Width + 1) &^ 1
	config.Layout.Height = (config.Layout.Height + 1) &^ 1
	if config.Scheduler == nil {
		config.Scheduler = NewTickerScheduler(DefaultRefreshRate)
	}

	c := &Compositor{
		config:    config,
		registry:  registry,
		scheduler: config.Scheduler,
		logger:    zap.NewNop(),
		canvas:    NewI420Frame(config.Layout.Width, config.Layout.Height),
	}
	for _, opt := range opts {
		opt(c)
	}

	bg := config.Background
	c.canvas.Fill(bg[0], bg[1], bg[2])

	card := NewTestCardTrack("placeholder", TestCardConfig{Width: 320, Height: 180, Pattern: TestCardColorBars})
	c.placeholder, _ = card.LatestFrame()
	return c
}

// Width returns the canvas width.
func (c *Compositor) Width() int { return c.config.Layout.Width }

// Height returns the canvas height.
func (c *Compositor) Height() int { return c.config.Layout.Height }

// Start begins drawing frames. A stopped compositor cannot be restarted.
func (c *Compositor) Start() error {
	if c.stopped.Load() {
		return ErrCompositorStopped
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.scheduler.Start(c.renderFrame); err != nil {
		c.running.Store(false)
		return fmt.Errorf("start compositor: %w", err)
	}
	return nil
}

// Stop halts the frame loop. No frame is drawn after Stop returns.
func (c *Compositor) Stop() {
	c.stopped.Store(true)
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.scheduler.Stop()
}

// Running reports whether the frame loop is active.
func (c *Compositor) Running() bool {
	return c.running.Load()
}

// Frames returns the number of frames drawn so far.
func (c *Compositor) Frames() uint64 {
	return c.frames.Load()
}

// Snapshot returns a copy of the current canvas.
func (c *Compositor) Snapshot() *VideoFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canvas.Clone()
}

// Layout returns the layout used for the most recent frame.
func (c *Compositor) Layout() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	layout := c.layout
	layout.Cells = append([]LayoutCell(nil), c.layout.Cells...)
	return layout
}

// RenderFrame draws one frame immediately, regardless of the scheduler.
func (c *Compositor) RenderFrame(now time.Time) {
	c.draw(now)
}

func (c *Compositor) renderFrame(now time.Time) {
	if !c.running.Load() {
		return
	}
	c.draw(now)
}

// frameSource is a video source sampled for the current frame.
type frameSource struct {
	handle SourceHandle
	frame  *VideoFrame // nil when no frame is ready
}

func (c *Compositor) draw(now time.Time) {
	handles := c.registry.ActiveSources()

	byID := make(map[string]frameSource, len(handles))
	cameras := make([]LayoutSource, 0, len(handles))
	var screens []SourceHandle

	for _, h := range handles {
		switch h.Kind {
		case SourceKindCamera:
			fs := c.sample(h)
			byID[h.ID()] = fs
			cameras = append(cameras, layoutSourceOf(fs))
		case SourceKindScreen:
			screens = append(screens, h)
		}
	}

	var screen *LayoutSource
	if h, ok := SelectScreenShare(screens); ok {
		fs := c.sample(h)
		byID[h.ID()] = fs
		ls := layoutSourceOf(fs)
		screen = &ls
	}

	layout := ComputeLayout(c.config.Layout, cameras, screen)

	c.mu.Lock()
	defer c.mu.Unlock()

	bg := c.config.Background
	c.canvas.Fill(bg[0], bg[1], bg[2])
	c.canvas.Timestamp = now.UnixNano()

	for _, cell := range layout.Cells {
		if cell.Placeholder {
			c.drawPlaceholder(cell)
			continue
		}
		fs, ok := byID[cell.SourceID]
		if !ok || fs.frame == nil {
			c.metrics.drawSkipped(fs.handle.Kind)
			continue
		}
		if err := c.drawCell(fs.frame, cell); err != nil {
			c.metrics.drawFailed(fs.handle.Kind)
			c.logger.Warn("draw source failed",
				zap.String("source", cell.SourceID),
				zap.Error(err),
			)
		}
	}

	c.layout = layout
	c.frames.Add(1)
	c.metrics.frameComposited()
}

// sample reads the latest decoded frame of a source. A track that ended
// or panics between the registry query and now is treated as not ready.
func (c *Compositor) sample(h SourceHandle) (fs frameSource) {
	fs.handle = h
	defer func() {
		if r := recover(); r != nil {
			fs.frame = nil
			c.logger.Warn("sample source panicked",
				zap.String("source", h.ID()),
				zap.Any("panic", r),
			)
		}
	}()
	track, ok := h.Video()
	if !ok || track.State() != TrackStateLive {
		return fs
	}
	frame, ok := track.LatestFrame()
	if !ok || !frame.Valid() {
		return fs
	}
	fs.frame = frame
	return fs
}

func layoutSourceOf(fs frameSource) LayoutSource {
	ls := LayoutSource{ID: fs.handle.ID(), IsLocal: fs.handle.IsLocal}
	if fs.frame != nil {
		ls.Width, ls.Height = fs.frame.Width, fs.frame.Height
	}
	return ls
}

func (c *Compositor) drawCell(frame *VideoFrame, cell LayoutCell) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("draw panicked: %v", r)
		}
	}()
	return DrawScaled(c.canvas, frame, FitRect(frame.Width, frame.Height, cell.Rect))
}

func (c *Compositor) drawPlaceholder(cell LayoutCell) {
	if c.placeholder == nil {
		return
	}
	// A quarter-size card centered in the cell.
	inner := Rect{
		X:      cell.Rect.X + cell.Rect.Width*3/8,
		Y:      cell.Rect.Y + cell.Rect.Height*3/8,
		Width:  cell.Rect.Width / 4,
		Height: cell.Rect.Height / 4,
	}
	if err := c.drawCell(c.placeholder, LayoutCell{Rect: inner}); err != nil {
		c.logger.Warn("draw placeholder failed", zap.Error(err))
	}
}
