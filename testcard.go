package studio

import (
	"context"
	"sync"
)

// TestCardPattern selects what a test card draws.
type TestCardPattern int

const (
	TestCardColorBars TestCardPattern = iota // Eight vertical color bars
	TestCardSolid                            // One flat color
	TestCardMovingBox                        // White box sliding over black, changes every frame
)

func (p TestCardPattern) String() string {
	switch p {
	case TestCardColorBars:
		return "color_bars"
	case TestCardSolid:
		return "solid"
	case TestCardMovingBox:
		return "moving_box"
	default:
		return "unknown"
	}
}

// TestCardConfig configures a synthetic video track.
type TestCardConfig struct {
	Width   int
	Height  int
	Pattern TestCardPattern

	// Solid color for TestCardSolid
	R, G, B uint8
}

// DefaultTestCardConfig returns a 640x360 color bar card.
func DefaultTestCardConfig() TestCardConfig {
	return TestCardConfig{Width: 640, Height: 360, Pattern: TestCardColorBars}
}

// TestCardTrack is a VideoTrack producing a synthetic picture. It stands
// in for a camera in tests and example binaries; the compositor uses the
// same generator for placeholder tiles.
type TestCardTrack struct {
	*BaseTrack
	config TestCardConfig

	mu    sync.Mutex
	frame *VideoFrame
	count uint64
	slot  frameSlot
}

// NewTestCardTrack creates a live test card track with its first frame
// already rendered.
func NewTestCardTrack(id string, config TestCardConfig) *TestCardTrack {
	if config.Width <= 0 {
		config.Width = 640
	}
	if config.Height <= 0 {
		config.Height = 360
	}
	t := &TestCardTrack{
		BaseTrack: NewBaseTrack(id),
		config:    config,
		frame:     NewI420Frame(config.Width, config.Height),
	}
	t.Advance()
	return t
}

// Advance renders the next frame of the pattern.
func (t *TestCardTrack) Advance() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.config.Pattern {
	case TestCardSolid:
		y, u, v := rgbToYUV(t.config.R, t.config.G, t.config.B)
		t.frame.Fill(y, u, v)
	case TestCardMovingBox:
		drawMovingBox(t.frame, t.count)
	default:
		drawColorBars(t.frame)
	}
	t.frame.Timestamp = int64(t.count)
	t.count++
	t.slot.store(t.frame)
}

// LatestFrame implements VideoTrack.
func (t *TestCardTrack) LatestFrame() (*VideoFrame, bool) {
	if t.State() != TrackStateLive {
		return nil, false
	}
	return t.slot.load()
}

// ApplyConstraints implements ConstrainableTrack. Width and height
// resize the card; other fields are ignored.
func (t *TestCardTrack) ApplyConstraints(ctx context.Context, constraints TrackConstraints) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.State() == TrackStateEnded {
		return ErrTrackEnded
	}
	t.mu.Lock()
	if constraints.Width > 0 && constraints.Height > 0 &&
		(constraints.Width != t.config.Width || constraints.Height != t.config.Height) {
		t.config.Width = constraints.Width
		t.config.Height = constraints.Height
		t.frame = NewI420Frame(constraints.Width, constraints.Height)
	}
	t.mu.Unlock()
	t.Advance()
	return nil
}

// Size returns the current card dimensions.
func (t *TestCardTrack) Size() (width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config.Width, t.config.Height
}

// Stop ends the track.
func (t *TestCardTrack) Stop() {
	t.SetState(TrackStateEnded)
	t.slot.reset()
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func drawColorBars(f *VideoFrame) {
	barWidth := f.Width / len(colorBarsRGB)
	if barWidth < 2 {
		barWidth = 2
	}
	for i, rgb := range colorBarsRGB {
		y, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
		r := Rect{X: i * barWidth, Width: barWidth, Height: f.Height}
		if i == len(colorBarsRGB)-1 {
			r.Width = f.Width - r.X
		}
		FillRect(f, r, y, u, v)
	}
}

func drawMovingBox(f *VideoFrame, frameNum uint64) {
	f.Fill(16, 128, 128)
	size := f.Height / 4
	if size < 2 {
		size = 2
	}
	travel := f.Width - size
	if travel <= 0 {
		travel = 1
	}
	x := int(frameNum*8) % travel
	FillRect(f, Rect{X: x, Y: (f.Height - size) / 2, Width: size, Height: size}, 235, 128, 128)
}

// rgbToYUV converts RGB to YUV (BT.601)
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clampFloat(yf, 16, 235))
	u = uint8(clampFloat(uf, 16, 240))
	v = uint8(clampFloat(vf, 16, 240))
	return
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
