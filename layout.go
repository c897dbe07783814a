package studio

// Rect is an axis-aligned rectangle in canvas pixels.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Within reports whether r lies fully inside bounds.
func (r Rect) Within(bounds Rect) bool {
	return r.X >= bounds.X && r.Y >= bounds.Y &&
		r.X+r.Width <= bounds.X+bounds.Width &&
		r.Y+r.Height <= bounds.Y+bounds.Height
}

// LayoutMode selects how the canvas is divided.
type LayoutMode int

const (
	LayoutModeGrid        LayoutMode = iota // Equal cells for every camera
	LayoutModeScreenShare                   // Share on top, camera strip below
)

func (m LayoutMode) String() string {
	switch m {
	case LayoutModeGrid:
		return "grid"
	case LayoutModeScreenShare:
		return "screen_share"
	default:
		return "unknown"
	}
}

// LayoutSource is the layout engine's view of a video source.
// Width and Height are the intrinsic frame size, 0 when unknown.
type LayoutSource struct {
	ID      string
	Width   int
	Height  int
	IsLocal bool
}

// LayoutCell is one draw rectangle. Order of cells is draw order only.
type LayoutCell struct {
	SourceID    string
	Rect        Rect
	Primary     bool // The screen share in LayoutModeScreenShare
	Placeholder bool // No source; drawn as a placeholder tile
}

// Layout is the result of one layout computation.
type Layout struct {
	Mode  LayoutMode
	Cols  int // Grid mode only
	Rows  int // Grid mode only
	Cells []LayoutCell
}

// LayoutConfig holds the canvas size and screen share strip geometry.
type LayoutConfig struct {
	Width       int     // Canvas width
	Height      int     // Canvas height
	ShareRatio  float64 // Fraction of the height reserved for the share
	ThumbWidth  int     // Camera thumbnail width in the strip
	ThumbHeight int     // Camera thumbnail height in the strip
	Margin      int     // Space between share region and strip, and left edge
	Gap         int     // Space between thumbnails
}

// DefaultLayoutConfig returns the 1080p studio layout.
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		Width:       1920,
		Height:      1080,
		ShareRatio:  0.75,
		ThumbWidth:  320,
		ThumbHeight: 180,
		Margin:      20,
		Gap:         10,
	}
}

// GridDimensions returns the grid shape for n camera sources:
// one column up to one source, two up to four, three beyond.
func GridDimensions(n int) (cols, rows int) {
	switch {
	case n <= 1:
		cols = 1
	case n <= 4:
		cols = 2
	default:
		cols = 3
	}
	rows = (n + cols - 1) / cols
	if rows < 1 {
		rows = 1
	}
	return cols, rows
}

// ComputeLayout places cameras and an optional screen share on the canvas.
// It has no side effects and is meant to be called once per frame.
func ComputeLayout(cfg LayoutConfig, cameras []LayoutSource, screen *LayoutSource) Layout {
	if screen != nil {
		return screenShareLayout(cfg, cameras, *screen)
	}
	return gridLayout(cfg, cameras)
}

func gridLayout(cfg LayoutConfig, cameras []LayoutSource) Layout {
	cols, rows := GridDimensions(len(cameras))
	layout := Layout{Mode: LayoutModeGrid, Cols: cols, Rows: rows}

	if len(cameras) == 0 {
		layout.Cells = []LayoutCell{{
			Rect:        Rect{Width: cfg.Width, Height: cfg.Height},
			Placeholder: true,
		}}
		return layout
	}

	layout.Cells = make([]LayoutCell, 0, len(cameras))
	for i, src := range cameras {
		col, row := i%cols, i/cols
		x0, x1 := col*cfg.Width/cols, (col+1)*cfg.Width/cols
		y0, y1 := row*cfg.Height/rows, (row+1)*cfg.Height/rows
		layout.Cells = append(layout.Cells, LayoutCell{
			SourceID: src.ID,
			Rect:     Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0},
		})
	}
	return layout
}

func screenShareLayout(cfg LayoutConfig, cameras []LayoutSource, screen LayoutSource) Layout {
	shareHeight := int(float64(cfg.Height) * cfg.ShareRatio)
	layout := Layout{Mode: LayoutModeScreenShare}
	layout.Cells = append(layout.Cells, LayoutCell{
		SourceID: screen.ID,
		Rect:     Rect{Width: cfg.Width, Height: shareHeight},
		Primary:  true,
	})

	thumbY := shareHeight + cfg.Margin
	thumbH := cfg.ThumbHeight
	if thumbY+thumbH > cfg.Height {
		thumbH = cfg.Height - thumbY
	}
	if thumbH <= 0 {
		return layout
	}

	x := cfg.Margin
	for _, src := range cameras {
		if x+cfg.ThumbWidth > cfg.Width {
			break
		}
		layout.Cells = append(layout.Cells, LayoutCell{
			SourceID: src.ID,
			Rect:     Rect{X: x, Y: thumbY, Width: cfg.ThumbWidth, Height: thumbH},
		})
		x += cfg.ThumbWidth + cfg.Gap
	}
	return layout
}

// FitRect returns the largest rectangle with the source's aspect ratio
// that fits in cell, centered. A source wider than the cell keeps the
// cell width and is centered vertically; otherwise it keeps the cell
// height and is centered horizontally. Unknown sizes yield the cell.
func FitRect(srcW, srcH int, cell Rect) Rect {
	if srcW <= 0 || srcH <= 0 || cell.Empty() {
		return cell
	}
	// srcW/srcH > cellW/cellH without floating point.
	if srcW*cell.Height > cell.Width*srcH {
		h := cell.Width * srcH / srcW
		return Rect{
			X:      cell.X,
			Y:      cell.Y + (cell.Height-h)/2,
			Width:  cell.Width,
			Height: h,
		}
	}
	w := cell.Height * srcW / srcH
	return Rect{
		X:      cell.X + (cell.Width-w)/2,
		Y:      cell.Y,
		Width:  w,
		Height: cell.Height,
	}
}

// SelectScreenShare picks the one share to feature. A local share wins
// over remote shares; otherwise the first remote share in order wins.
func SelectScreenShare(screens []SourceHandle) (SourceHandle, bool) {
	for _, h := range screens {
		if h.IsLocal {
			return h, true
		}
	}
	if len(screens) > 0 {
		return screens[0], true
	}
	return SourceHandle{}, false
}
