package studio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createGradientFrame(width, height int) *VideoFrame {
	frame := NewI420Frame(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			frame.Data[0][y*frame.Stride[0]+x] = byte((x + y) % 256)
		}
	}
	for i := range frame.Data[1] {
		frame.Data[1][i] = 128
		frame.Data[2][i] = 128
	}
	return frame
}

func solidFrame(width, height int, y, u, v byte) *VideoFrame {
	frame := NewI420Frame(width, height)
	frame.Fill(y, u, v)
	return frame
}

func lumaAt(f *VideoFrame, x, y int) byte {
	return f.Data[0][y*f.Stride[0]+x]
}

func TestDrawScaled(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		dst        Rect
	}{
		{"downscale", 1280, 720, Rect{X: 100, Y: 40, Width: 640, Height: 360}},
		{"upscale", 320, 240, Rect{X: 0, Y: 0, Width: 640, Height: 480}},
		{"same size", 320, 180, Rect{X: 20, Y: 20, Width: 320, Height: 180}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canvas := solidFrame(1280, 720, 16, 128, 128)
			src := solidFrame(tt.srcW, tt.srcH, 200, 90, 60)

			require.NoError(t, DrawScaled(canvas, src, tt.dst))

			// Inside the rectangle the source color, outside untouched.
			assert.Equal(t, byte(200), lumaAt(canvas, tt.dst.X+tt.dst.Width/2, tt.dst.Y+tt.dst.Height/2))
			assert.Equal(t, byte(200), lumaAt(canvas, tt.dst.X, tt.dst.Y))
			assert.Equal(t, byte(16), lumaAt(canvas, 1279, 719))
			cx, cy := (tt.dst.X+tt.dst.Width/2)/2, (tt.dst.Y+tt.dst.Height/2)/2
			assert.Equal(t, byte(90), canvas.Data[1][cy*canvas.Stride[1]+cx])
			assert.Equal(t, byte(60), canvas.Data[2][cy*canvas.Stride[2]+cx])
		})
	}
}

func TestDrawScaledClipsToCanvas(t *testing.T) {
	canvas := solidFrame(640, 360, 16, 128, 128)
	src := createGradientFrame(640, 360)

	require.NoError(t, DrawScaled(canvas, src, Rect{X: 500, Y: 300, Width: 640, Height: 360}))
	assert.Equal(t, byte(16), lumaAt(canvas, 0, 0))
	assert.NotEqual(t, byte(16), lumaAt(canvas, 639, 359))

	// Entirely outside is a no-op.
	before := canvas.Clone()
	require.NoError(t, DrawScaled(canvas, src, Rect{X: 700, Y: 400, Width: 100, Height: 100}))
	assert.Equal(t, before.Data, canvas.Data)
}

func TestDrawScaledInvalidFrame(t *testing.T) {
	canvas := solidFrame(640, 360, 16, 128, 128)

	tests := []struct {
		name string
		src  *VideoFrame
	}{
		{"nil", nil},
		{"short planes", &VideoFrame{
			Data:   [][]byte{make([]byte, 10), make([]byte, 2), make([]byte, 2)},
			Stride: []int{64, 32, 32},
			Width:  64,
			Height: 64,
		}},
		{"nv12", func() *VideoFrame {
			f := NewI420Frame(64, 64)
			f.Format = PixelFormatNV12
			return f
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DrawScaled(canvas, tt.src, Rect{Width: 64, Height: 64})
			assert.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func TestFillRect(t *testing.T) {
	canvas := solidFrame(64, 64, 16, 128, 128)
	FillRect(canvas, Rect{X: 3, Y: 3, Width: 10, Height: 10}, 235, 100, 150)

	// Odd coordinates are aligned down to even.
	assert.Equal(t, byte(235), lumaAt(canvas, 2, 2))
	assert.Equal(t, byte(235), lumaAt(canvas, 11, 11))
	assert.Equal(t, byte(16), lumaAt(canvas, 14, 14))
	assert.Equal(t, byte(100), canvas.Data[1][1*canvas.Stride[1]+1])

	// Clipped at the canvas edge without panicking.
	FillRect(canvas, Rect{X: 60, Y: 60, Width: 20, Height: 20}, 50, 128, 128)
	assert.Equal(t, byte(50), lumaAt(canvas, 63, 63))
}

func BenchmarkDrawScaled(b *testing.B) {
	canvas := NewI420Frame(1920, 1080)
	src := createGradientFrame(1280, 720)
	dst := Rect{Width: 960, Height: 540}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = DrawScaled(canvas, src, dst)
	}
}
