package studio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cameraSources(n int) []LayoutSource {
	out := make([]LayoutSource, n)
	for i := range out {
		out[i] = LayoutSource{ID: fmt.Sprintf("p%d/camera", i), Width: 1280, Height: 720}
	}
	return out
}

func TestGridDimensions(t *testing.T) {
	tests := []struct {
		n          int
		cols, rows int
	}{
		{0, 1, 1},
		{1, 1, 1},
		{2, 2, 1},
		{3, 2, 2},
		{4, 2, 2},
		{5, 3, 2},
		{6, 3, 2},
		{7, 3, 3},
		{9, 3, 3},
		{10, 3, 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			cols, rows := GridDimensions(tt.n)
			assert.Equal(t, tt.cols, cols, "cols")
			assert.Equal(t, tt.rows, rows, "rows")
		})
	}
}

func TestGridLayoutCellsInBounds(t *testing.T) {
	cfg := DefaultLayoutConfig()
	canvas := Rect{Width: cfg.Width, Height: cfg.Height}

	for n := 1; n <= 10; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			layout := ComputeLayout(cfg, cameraSources(n), nil)
			require.Equal(t, LayoutModeGrid, layout.Mode)
			require.Len(t, layout.Cells, n)
			assert.LessOrEqual(t, n, layout.Cols*layout.Rows)

			for i, cell := range layout.Cells {
				assert.False(t, cell.Rect.Empty(), "cell %d empty", i)
				assert.True(t, cell.Rect.Within(canvas), "cell %d %+v outside canvas", i, cell.Rect)
				assert.Equal(t, fmt.Sprintf("p%d/camera", i), cell.SourceID)

				fit := FitRect(1280, 720, cell.Rect)
				assert.True(t, fit.Within(cell.Rect), "fit %+v outside cell %+v", fit, cell.Rect)
			}
		})
	}
}

func TestGridLayoutEmpty(t *testing.T) {
	cfg := DefaultLayoutConfig()
	layout := ComputeLayout(cfg, nil, nil)

	require.Len(t, layout.Cells, 1)
	assert.True(t, layout.Cells[0].Placeholder)
	assert.Equal(t, Rect{Width: 1920, Height: 1080}, layout.Cells[0].Rect)
}

func TestGridLayoutThreeCameras(t *testing.T) {
	layout := ComputeLayout(DefaultLayoutConfig(), cameraSources(3), nil)

	assert.Equal(t, 2, layout.Cols)
	assert.Equal(t, 2, layout.Rows)
	require.Len(t, layout.Cells, 3)
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 960, Height: 540}, layout.Cells[0].Rect)
	assert.Equal(t, Rect{X: 960, Y: 0, Width: 960, Height: 540}, layout.Cells[1].Rect)
	assert.Equal(t, Rect{X: 0, Y: 540, Width: 960, Height: 540}, layout.Cells[2].Rect)
}

func TestFitRect(t *testing.T) {
	cell := Rect{X: 100, Y: 50, Width: 960, Height: 540}

	tests := []struct {
		name       string
		srcW, srcH int
		want       Rect
	}{
		{"same aspect", 1280, 720, cell},
		{"wider letterboxes", 1920, 800, Rect{X: 100, Y: 50 + (540-400)/2, Width: 960, Height: 400}},
		{"taller pillarboxes", 720, 1280, Rect{X: 100 + (960-303)/2, Y: 50, Width: 303, Height: 540}},
		{"square", 500, 500, Rect{X: 100 + (960-540)/2, Y: 50, Width: 540, Height: 540}},
		{"unknown size", 0, 0, cell},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitRect(tt.srcW, tt.srcH, cell)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Within(cell))
		})
	}
}

func TestScreenShareLayout(t *testing.T) {
	cfg := DefaultLayoutConfig()
	screen := LayoutSource{ID: "local/screen_share", Width: 2560, Height: 1440, IsLocal: true}
	cameras := []LayoutSource{
		{ID: "local/camera", Width: 1280, Height: 720, IsLocal: true},
		{ID: "remote/camera", Width: 1280, Height: 720},
	}

	layout := ComputeLayout(cfg, cameras, &screen)
	require.Equal(t, LayoutModeScreenShare, layout.Mode)
	require.Len(t, layout.Cells, 3)

	share := layout.Cells[0]
	assert.True(t, share.Primary)
	assert.Equal(t, "local/screen_share", share.SourceID)
	assert.Equal(t, Rect{Width: 1920, Height: 810}, share.Rect)

	assert.Equal(t, Rect{X: 20, Y: 830, Width: 320, Height: 180}, layout.Cells[1].Rect)
	assert.Equal(t, Rect{X: 350, Y: 830, Width: 320, Height: 180}, layout.Cells[2].Rect)
	assert.Equal(t, "remote/camera", layout.Cells[2].SourceID)
}

func TestScreenShareLayoutStripOverflow(t *testing.T) {
	cfg := DefaultLayoutConfig()
	screen := LayoutSource{ID: "a/screen_share"}
	layout := ComputeLayout(cfg, cameraSources(10), &screen)

	canvas := Rect{Width: cfg.Width, Height: cfg.Height}
	// Thumbnails start at x=20, 350, 680, 1010, 1340; the sixth would
	// end past the right edge.
	assert.Len(t, layout.Cells[1:], 5)
	for _, c := range layout.Cells {
		assert.True(t, c.Rect.Within(canvas), "%+v outside canvas", c.Rect)
	}
}

func TestSelectScreenShare(t *testing.T) {
	remote1 := SourceHandle{OwnerID: "r1", Kind: SourceKindScreen}
	remote2 := SourceHandle{OwnerID: "r2", Kind: SourceKindScreen}
	local := SourceHandle{OwnerID: "me", Kind: SourceKindScreen, IsLocal: true}

	tests := []struct {
		name    string
		screens []SourceHandle
		want    string
		ok      bool
	}{
		{"none", nil, "", false},
		{"first remote", []SourceHandle{remote1, remote2}, "r1", true},
		{"local wins", []SourceHandle{remote1, local, remote2}, "me", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectScreenShare(tt.screens)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.OwnerID)
		})
	}
}
