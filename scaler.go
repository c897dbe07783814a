package studio

import "errors"

// ErrInvalidFrame is returned when a frame's planes do not match its size.
var ErrInvalidFrame = errors.New("invalid video frame")

// DrawScaled scales src into the rectangle dst of canvas using bilinear
// interpolation. The rectangle is aligned to even coordinates for 4:2:0
// chroma and clipped to the canvas.
func DrawScaled(canvas *VideoFrame, src *VideoFrame, dst Rect) error {
	if !src.Valid() || !canvas.Valid() {
		return ErrInvalidFrame
	}
	if src.Format != PixelFormatI420 {
		return ErrInvalidFrame
	}

	dst = alignEven(dst)
	clipped := clipRect(dst, Rect{Width: canvas.Width, Height: canvas.Height})
	if clipped.Empty() {
		return nil
	}

	// Luma at full resolution.
	scalePlaneInto(
		src.Data[0], src.Stride[0], src.Width, src.Height,
		canvas.Data[0], canvas.Stride[0],
		dst.X, dst.Y, dst.Width, dst.Height,
		clipped.X, clipped.Y, clipped.Width, clipped.Height,
	)

	// Chroma at half resolution.
	for p := 1; p <= 2; p++ {
		scalePlaneInto(
			src.Data[p], src.Stride[p], src.Width/2, src.Height/2,
			canvas.Data[p], canvas.Stride[p],
			dst.X/2, dst.Y/2, dst.Width/2, dst.Height/2,
			clipped.X/2, clipped.Y/2, clipped.Width/2, clipped.Height/2,
		)
	}
	return nil
}

// FillRect paints a rectangle of the canvas with one YUV color.
func FillRect(canvas *VideoFrame, r Rect, y, u, v byte) {
	r = clipRect(alignEven(r), Rect{Width: canvas.Width, Height: canvas.Height})
	if r.Empty() {
		return
	}
	fillRegion(canvas.Data[0], canvas.Stride[0], r.X, r.Y, r.Width, r.Height, y)
	fillRegion(canvas.Data[1], canvas.Stride[1], r.X/2, r.Y/2, r.Width/2, r.Height/2, u)
	fillRegion(canvas.Data[2], canvas.Stride[2], r.X/2, r.Y/2, r.Width/2, r.Height/2, v)
}

func fillRegion(plane []byte, stride, x, y, w, h int, value byte) {
	for row := y; row < y+h; row++ {
		line := plane[row*stride+x : row*stride+x+w]
		for i := range line {
			line[i] = value
		}
	}
}

// scalePlaneInto maps the full source plane onto the destination
// rectangle (dx, dy, dw, dh) and writes only the visible part
// (cx, cy, cw, ch) of it. Fixed-point 16.16 bilinear interpolation.
func scalePlaneInto(src []byte, srcStride, srcW, srcH int,
	dst []byte, dstStride int,
	dx, dy, dw, dh int,
	cx, cy, cw, ch int) {

	if srcW <= 0 || srcH <= 0 || dw <= 0 || dh <= 0 || cw <= 0 || ch <= 0 {
		return
	}

	xRatio := (srcW << 16) / dw
	yRatio := (srcH << 16) / dh

	for y := cy; y < cy+ch; y++ {
		srcYFP := (y - dy) * yRatio
		y0 := srcYFP >> 16
		yWeight := srcYFP & 0xFFFF
		if y0 >= srcH {
			y0 = srcH - 1
		}
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = y0
		}

		row0 := src[y0*srcStride:]
		row1 := src[y1*srcStride:]
		out := dst[y*dstStride:]

		for x := cx; x < cx+cw; x++ {
			srcXFP := (x - dx) * xRatio
			x0 := srcXFP >> 16
			xWeight := srcXFP & 0xFFFF
			if x0 >= srcW {
				x0 = srcW - 1
			}
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = x0
			}

			p00 := int(row0[x0])
			p10 := int(row0[x1])
			p01 := int(row1[x0])
			p11 := int(row1[x1])

			top := (p00*(0x10000-xWeight) + p10*xWeight) >> 16
			bottom := (p01*(0x10000-xWeight) + p11*xWeight) >> 16
			out[x] = byte((top*(0x10000-yWeight) + bottom*yWeight) >> 16)
		}
	}
}

func alignEven(r Rect) Rect {
	x := r.X &^ 1
	y := r.Y &^ 1
	return Rect{
		X:      x,
		Y:      y,
		Width:  (r.X + r.Width - x) &^ 1,
		Height: (r.Y + r.Height - y) &^ 1,
	}
}

func clipRect(r, bounds Rect) Rect {
	x0, y0 := max(r.X, bounds.X), max(r.Y, bounds.Y)
	x1 := min(r.X+r.Width, bounds.X+bounds.Width)
	y1 := min(r.Y+r.Height, bounds.Y+bounds.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}
