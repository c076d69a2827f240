package gifencoder

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
)

// Section indicators and extension labels.
const (
	sExtension       = 0x21
	sImageDescriptor = 0x2c
	sTrailer         = 0x3b

	gcLabel      = 0xf9
	commentLabel = 0xfe
)

type writer interface {
	io.Writer
	io.ByteWriter
}

// GIFEncoder writes one image as a single-frame GIF file
type GIFEncoder struct {
	out     writer
	flusher *bufio.Writer // set when out wraps a plain io.Writer
	err     error
	buf     [16]byte

	opts EncodeOptions

	width        int
	height       int
	cmap         *Colormap
	indexed      *image.Paletted // image mapped to cmap
	bitsPerPixel int             // color table size exponent
	stats        Stats
}

// NewGIFEncoder creates an encoder writing to w
func NewGIFEncoder(w io.Writer, opts *EncodeOptions) *GIFEncoder {
	ge := &GIFEncoder{}
	if opts != nil {
		ge.opts = *opts
	}
	if ww, ok := w.(writer); ok {
		ge.out = ww
	} else {
		ge.flusher = bufio.NewWriter(w)
		ge.out = ge.flusher
	}
	return ge
}

// Encode writes m as a complete GIF stream: header, screen descriptor,
// global color table, optional extensions, the raster and the trailer.
func (ge *GIFEncoder) Encode(m image.Image) error {
	b := m.Bounds()
	if b.Dx() >= 1<<16 || b.Dy() >= 1<<16 {
		return errors.New("image is too large to encode as GIF")
	}
	ge.width = b.Dx()
	ge.height = b.Dy()

	if err := ge.analyzePixels(m); err != nil {
		return err
	}

	ge.writeHeader()
	ge.writeLSD()
	ge.writePalette()
	if ge.opts.Comment != "" {
		ge.writeCommentExt()
	}
	if ge.cmap.Transparent >= 0 {
		ge.writeGraphicCtrlExt()
	}
	ge.writeImageDesc()
	ge.writePixels()
	ge.writeByte(sTrailer)

	if ge.err == nil && ge.flusher != nil {
		if err := ge.flusher.Flush(); err != nil {
			ge.err = fmt.Errorf("%w: %w", ErrWriteOutput, err)
		}
	}
	return ge.err
}

// Stats returns the statistics of the last Encode
func (ge *GIFEncoder) Stats() Stats {
	return ge.stats
}

// analyzePixels builds the color map and maps the image to it
func (ge *GIFEncoder) analyzePixels(m image.Image) error {
	cmap, err := ComputeColormap(m, &ge.opts)
	if err != nil {
		return err
	}
	ge.cmap = cmap
	ge.indexed = cmap.Paletted(m)
	ge.bitsPerPixel = cmap.BitsPerPixel()

	ge.logf("%d colors found, %d bits per pixel", len(cmap.Palette), ge.bitsPerPixel)
	if cmap.Transparent >= 0 {
		ge.logf("transparent color is palette index %d", cmap.Transparent)
	} else if ge.opts.Transparent != "" {
		ge.logf("color %s not in the image; no transparency", ge.opts.Transparent)
	}
	return nil
}

func (ge *GIFEncoder) logf(format string, v ...any) {
	if ge.opts.Verbose && ge.opts.Logger != nil {
		ge.opts.Logger.Printf(format, v...)
	}
}

func (ge *GIFEncoder) write(p []byte) {
	if ge.err != nil {
		return
	}
	if _, err := ge.out.Write(p); err != nil {
		ge.err = fmt.Errorf("%w: %w", ErrWriteOutput, err)
	}
}

func (ge *GIFEncoder) writeByte(c byte) {
	if ge.err != nil {
		return
	}
	if err := ge.out.WriteByte(c); err != nil {
		ge.err = fmt.Errorf("%w: %w", ErrWriteOutput, err)
	}
}

// writeShort writes 16-bit value in little-endian order
func (ge *GIFEncoder) writeShort(value int) {
	ge.writeByte(byte(value & 0xff))
	ge.writeByte(byte((value >> 8) & 0xff))
}

// writeHeader writes the signature. GIF89a is only needed for extensions.
func (ge *GIFEncoder) writeHeader() {
	if ge.opts.Comment != "" || ge.cmap.Transparent >= 0 {
		ge.write([]byte("GIF89a"))
	} else {
		ge.write([]byte("GIF87a"))
	}
}

// writeLSD writes Logical Screen Descriptor
func (ge *GIFEncoder) writeLSD() {
	ge.writeShort(ge.width)
	ge.writeShort(ge.height)

	bpp := byte(ge.bitsPerPixel - 1)
	ge.writeByte(0x80 | // global color table flag
		bpp<<4 | // color resolution
		bpp) // global color table size
	ge.writeByte(0) // background color index
	ge.writeByte(0) // pixel aspect ratio - assume 1:1
}

// writePalette writes the global color table padded to 2^bitsPerPixel entries
func (ge *GIFEncoder) writePalette() {
	for i := 0; i < 1<<ge.bitsPerPixel; i++ {
		ge.buf[0], ge.buf[1], ge.buf[2] = 0, 0, 0
		if i < len(ge.cmap.Palette) {
			r, g, b, _ := ge.cmap.Palette[i].RGBA()
			ge.buf[0] = byte(r >> 8)
			ge.buf[1] = byte(g >> 8)
			ge.buf[2] = byte(b >> 8)
		}
		ge.write(ge.buf[:3])
	}
}

// writeCommentExt writes the comment as data sub-blocks
func (ge *GIFEncoder) writeCommentExt() {
	ge.writeByte(sExtension)
	ge.writeByte(commentLabel)
	if ge.err != nil {
		return
	}
	blocks := NewByteBuffer(ge.out)
	for i := 0; i < len(ge.opts.Comment); i++ {
		blocks.Out(ge.opts.Comment[i])
	}
	if err := blocks.Flush(); err != nil {
		ge.err = err
		return
	}
	ge.writeByte(0) // block terminator
}

// writeGraphicCtrlExt writes Graphic Control Extension carrying the
// transparent index
func (ge *GIFEncoder) writeGraphicCtrlExt() {
	ge.buf[0] = sExtension
	ge.buf[1] = gcLabel
	ge.buf[2] = 4    // data block size
	ge.buf[3] = 0x01 // transparency flag, no disposal
	ge.buf[4], ge.buf[5] = 0, 0
	ge.buf[6] = byte(ge.cmap.Transparent)
	ge.buf[7] = 0 // block terminator
	ge.write(ge.buf[:8])
}

// writeImageDesc writes Image Descriptor
func (ge *GIFEncoder) writeImageDesc() {
	ge.writeByte(sImageDescriptor)
	ge.writeShort(0) // image position x,y = 0,0
	ge.writeShort(0)
	ge.writeShort(ge.width)
	ge.writeShort(ge.height)

	var flags byte // no local color table
	if ge.opts.Interlace {
		flags |= 0x40
	}
	ge.writeByte(flags)
}

// writePixels compresses and writes the raster
func (ge *GIFEncoder) writePixels() {
	if ge.err != nil {
		return
	}
	minCodeSize := ge.bitsPerPixel
	if minCodeSize < 2 {
		minCodeSize = 2
	}
	var logger Logger
	if ge.opts.Verbose {
		logger = ge.opts.Logger
	}
	ge.stats, ge.err = WriteRaster(ge.out, NewPalettedRowReader(ge.indexed, ge.opts.Interlace), LZWOptions{
		MinCodeSize: minCodeSize,
		PixelCount:  ge.width * ge.height,
		NoLZW:       ge.opts.NoLZW,
		NoClear:     ge.opts.NoClear,
		Logger:      logger,
	})
	ge.stats.Colors = len(ge.cmap.Palette)
	ge.stats.Transparent = ge.cmap.Transparent
}
