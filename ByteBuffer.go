package gifencoder

import (
	"errors"
	"fmt"
	"io"
)

// maxBlockSize is the largest payload of a GIF data sub-block.
const maxBlockSize = 255

// ErrWriteOutput wraps every failure of the output sink.
var ErrWriteOutput = errors.New("error writing output file")

// ByteBuffer batches output bytes into GIF data sub-blocks: a length byte
// followed by up to 255 bytes of payload. It never writes the zero-length
// terminator block; that is the caller's job.
type ByteBuffer struct {
	w      io.Writer
	count  int
	buf    [1 + maxBlockSize]byte // buf[0] holds the block length
	blocks int
	err    error
}

// NewByteBuffer creates an empty ByteBuffer bound to w
func NewByteBuffer(w io.Writer) *ByteBuffer {
	return &ByteBuffer{w: w}
}

// Out queues one byte, writing a full block as soon as 255 are queued.
func (b *ByteBuffer) Out(c byte) {
	b.buf[1+b.count] = c
	b.count++
	if b.count >= maxBlockSize {
		b.Flush()
	}
}

// Flush writes the queued bytes as one sub-block. It does nothing when no
// bytes are queued. Once the sink has failed, queued data is dropped and the
// first error is returned again.
func (b *ByteBuffer) Flush() error {
	if b.count == 0 {
		return b.err
	}
	if b.err == nil {
		b.buf[0] = byte(b.count)
		if _, err := b.w.Write(b.buf[:1+b.count]); err != nil {
			b.err = fmt.Errorf("%w: %w", ErrWriteOutput, err)
		} else {
			b.blocks++
		}
	}
	b.count = 0
	return b.err
}

// Err returns the first write error, if any
func (b *ByteBuffer) Err() error {
	return b.err
}

// Blocks returns the number of sub-blocks written so far
func (b *ByteBuffer) Blocks() int {
	return b.blocks
}
