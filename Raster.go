package gifencoder

import (
	"errors"
	"fmt"
	"image"
	"io"
)

// RowReader yields the rows of palette indices in the order they go into
// the GIF raster.
type RowReader interface {
	// AtEnd reports whether every row has been read.
	AtEnd() bool
	// ReadRow returns the next row. The slice is only valid until the next call.
	ReadRow() ([]uint8, error)
}

// interlacePasses lists the first row and row step of each GIF interlace pass.
var interlacePasses = [4][2]int{{0, 8}, {4, 8}, {2, 4}, {1, 2}}

// rowOrder returns the image rows in raster order.
func rowOrder(height int, interlace bool) []int {
	order := make([]int, 0, height)
	if !interlace {
		for y := 0; y < height; y++ {
			order = append(order, y)
		}
		return order
	}
	for _, pass := range interlacePasses {
		for y := pass[0]; y < height; y += pass[1] {
			order = append(order, y)
		}
	}
	return order
}

// sliceRowReader reads rows out of a packed index slice.
type sliceRowReader struct {
	width int
	pix   []uint8
	rows  []int
	next  int
}

// NewSliceRowReader reads len(pix)/width rows of width indices each.
func NewSliceRowReader(width int, pix []uint8, interlace bool) RowReader {
	height := 0
	if width > 0 {
		height = len(pix) / width
	}
	return &sliceRowReader{
		width: width,
		pix:   pix,
		rows:  rowOrder(height, interlace),
	}
}

// NewPalettedRowReader reads the indices of m, honoring its stride.
func NewPalettedRowReader(m *image.Paletted, interlace bool) RowReader {
	b := m.Bounds()
	return &palettedRowReader{
		m:    m,
		rows: rowOrder(b.Dy(), interlace),
	}
}

func (r *sliceRowReader) AtEnd() bool { return r.next >= len(r.rows) }

func (r *sliceRowReader) ReadRow() ([]uint8, error) {
	if r.AtEnd() {
		return nil, io.EOF
	}
	y := r.rows[r.next]
	r.next++
	return r.pix[y*r.width : (y+1)*r.width], nil
}

type palettedRowReader struct {
	m    *image.Paletted
	rows []int
	next int
}

func (r *palettedRowReader) AtEnd() bool { return r.next >= len(r.rows) }

func (r *palettedRowReader) ReadRow() ([]uint8, error) {
	if r.AtEnd() {
		return nil, io.EOF
	}
	y := r.rows[r.next]
	r.next++
	off := y * r.m.Stride
	return r.m.Pix[off : off+r.m.Rect.Dx()], nil
}

// WriteRaster writes the LZW minimum code size byte, the compressed rows and
// the zero-length block that ends the raster data. Every index must be below
// 1<<opts.MinCodeSize.
func WriteRaster(w io.Writer, rows RowReader, opts LZWOptions) (Stats, error) {
	if opts.MinCodeSize < 2 {
		opts.MinCodeSize = 2
	}
	if _, err := w.Write([]byte{byte(opts.MinCodeSize)}); err != nil {
		return Stats{Transparent: -1}, fmt.Errorf("%w: %w", ErrWriteOutput, err)
	}

	enc := NewLZWEncoder(w, opts)
	enc.Start()
	for !rows.AtEnd() {
		row, err := rows.ReadRow()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return enc.Stats(), fmt.Errorf("reading raster row: %w", err)
		}
		for _, p := range row {
			enc.EncodePixel(p)
		}
		if err := enc.Err(); err != nil {
			return enc.Stats(), err
		}
	}
	if err := enc.Finish(); err != nil {
		return enc.Stats(), err
	}

	if _, err := w.Write([]byte{0}); err != nil {
		return enc.Stats(), fmt.Errorf("%w: %w", ErrWriteOutput, err)
	}
	return enc.Stats(), nil
}
