package gifencoder

import (
	"fmt"
	"io"
)

// StringCode identifies a single pixel value (below the clear code), one of the
// two control codes, or a string built by the LZW compressor.
type StringCode uint16

const (
	maxCodeBits  = 12
	maxCodeLimit = 1 << maxCodeBits // 4096
)

// CodeBuffer packs variable-width codes LSB-first into a byte stream. Codes
// are contiguous across byte boundaries.
type CodeBuffer struct {
	bytes *ByteBuffer

	initBits     uint
	nBits        uint // current code width
	maxCode      StringCode
	maxCodeLimit StringCode

	curAccum uint32
	curBits  uint

	codesWritten int
}

// NewCodeBuffer creates a CodeBuffer that starts with codes of initBits bits.
// With lzw false the width can never grow, so only literal and control
// codes are ever representable.
func NewCodeBuffer(w io.Writer, initBits int, lzw bool) *CodeBuffer {
	if initBits < 2 || initBits > maxCodeBits {
		panic(fmt.Sprintf("gifencoder: invalid initial code width %d", initBits))
	}
	cb := &CodeBuffer{
		bytes:    NewByteBuffer(w),
		initBits: uint(initBits),
		nBits:    uint(initBits),
	}
	cb.maxCode = maxCodeFor(cb.nBits)
	if lzw {
		cb.maxCodeLimit = maxCodeLimit
	} else {
		cb.maxCodeLimit = cb.maxCode
	}
	return cb
}

// maxCodeFor returns the largest code that fits in nBits
func maxCodeFor(nBits uint) StringCode {
	return StringCode(1<<nBits - 1)
}

// Output appends code at the current width.
func (cb *CodeBuffer) Output(code StringCode) {
	if code > cb.maxCode {
		panic(fmt.Sprintf("gifencoder: code %d does not fit in %d bits", code, cb.nBits))
	}
	cb.curAccum |= uint32(code) << cb.curBits
	cb.curBits += cb.nBits

	for cb.curBits >= 8 {
		cb.bytes.Out(byte(cb.curAccum))
		cb.curAccum >>= 8
		cb.curBits -= 8
	}
	cb.codesWritten++
}

// ResetCodeSize goes back to the initial width after a table clear.
func (cb *CodeBuffer) ResetCodeSize() {
	cb.nBits = cb.initBits
	cb.maxCode = maxCodeFor(cb.nBits)
}

// IncreaseCodeSize widens codes by one bit.
func (cb *CodeBuffer) IncreaseCodeSize() {
	cb.nBits++
	if cb.nBits > maxCodeBits {
		panic(fmt.Sprintf("gifencoder: code width %d exceeds %d bits", cb.nBits, maxCodeBits))
	}
	cb.maxCode = maxCodeFor(cb.nBits)
}

// Flush writes the last partial byte, padded with zero bits, and flushes the
// underlying ByteBuffer.
func (cb *CodeBuffer) Flush() error {
	if cb.curBits > 0 {
		cb.bytes.Out(byte(cb.curAccum))
		cb.curAccum = 0
		cb.curBits = 0
	}
	return cb.bytes.Flush()
}

func (cb *CodeBuffer) CodeSize() int            { return int(cb.nBits) }
func (cb *CodeBuffer) MaxCode() StringCode      { return cb.maxCode }
func (cb *CodeBuffer) MaxCodeLimit() StringCode { return cb.maxCodeLimit }
func (cb *CodeBuffer) CodesWritten() int        { return cb.codesWritten }
func (cb *CodeBuffer) Err() error               { return cb.bytes.Err() }
