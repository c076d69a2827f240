package gifencoder

import (
	"fmt"
	"io"
	"math/bits"
)

// hashSizes are the string table sizes, all prime, indexed by the number of
// significant bits of the pixel count minus 8. 5003 keeps the table under
// 80% full with all 4096 codes defined.
var hashSizes = [...]int{257, 521, 1031, 2053, 4099, 5003}

// Logger receives diagnostics. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// LZWOptions configures one raster compression.
type LZWOptions struct {
	// MinCodeSize is the LZW minimum code size written before the raster,
	// max(2, bits per pixel). Codes start one bit wider.
	MinCodeSize int

	// PixelCount estimates the number of pixels and sizes the string table.
	// Zero means unknown and selects the largest table.
	PixelCount int

	// NoLZW writes one literal code per pixel.
	NoLZW bool

	// NoClear keeps using a full string table instead of clearing it.
	NoClear bool

	// Logger gets verbose diagnostics. May be nil.
	Logger Logger
}

// hashEntry records that baseString followed by additionalPixel has the
// code combinedString.
type hashEntry struct {
	present         bool
	baseString      StringCode
	additionalPixel uint8
	combinedString  StringCode
}

// LZWEncoder turns a stream of palette indices into GIF LZW codes.
type LZWEncoder struct {
	codes   *CodeBuffer
	lzw     bool
	noClear bool
	log     Logger

	clearCode     StringCode
	eofCode       StringCode
	initCodeLimit int
	codeLimit     int // code count at which the width must grow

	stringSoFar      StringCode
	nextCodeToDefine int
	buildingString   bool

	hsize     int
	hshift    uint
	hashTable []hashEntry

	tableFullReported bool

	pixels int
	clears int
}

// NewLZWEncoder creates an encoder writing sub-blocks to w. Start must be
// called before the first pixel.
func NewLZWEncoder(w io.Writer, opts LZWOptions) *LZWEncoder {
	minCodeSize := opts.MinCodeSize
	if minCodeSize < 2 {
		minCodeSize = 2
	}
	if minCodeSize > 8 {
		panic(fmt.Sprintf("gifencoder: minimum code size %d out of range", minCodeSize))
	}
	initBits := minCodeSize + 1
	hsize, hshift := hashSizeFor(opts.PixelCount)

	enc := &LZWEncoder{
		codes:         NewCodeBuffer(w, initBits, !opts.NoLZW),
		lzw:           !opts.NoLZW,
		noClear:       opts.NoClear,
		log:           opts.Logger,
		clearCode:     1 << minCodeSize,
		initCodeLimit: 1 << initBits,
		hsize:         hsize,
		hshift:        hshift,
	}
	enc.eofCode = enc.clearCode + 1
	if enc.lzw {
		enc.hashTable = make([]hashEntry, hsize)
	}
	return enc
}

// hashSizeFor picks the smallest table whose implied width covers pixelCount.
func hashSizeFor(pixelCount int) (int, uint) {
	idx := len(hashSizes) - 1
	if pixelCount > 0 {
		idx = bits.Len(uint(pixelCount)) - 8
		if idx < 0 {
			idx = 0
		}
		if idx > len(hashSizes)-1 {
			idx = len(hashSizes) - 1
		}
	}
	hsize := hashSizes[idx]
	// Spread the pixel value over the upper bits of the table range.
	return hsize, uint(bits.Len(uint(hsize)) - 9)
}

// Start emits the leading clear code and empties the string table.
func (enc *LZWEncoder) Start() {
	enc.codes.Output(enc.clearCode)
	enc.clears++
	enc.resetTable()
	enc.buildingString = false
}

func (enc *LZWEncoder) resetTable() {
	for i := range enc.hashTable {
		enc.hashTable[i] = hashEntry{}
	}
	enc.nextCodeToDefine = int(enc.clearCode) + 2
	enc.codeLimit = enc.initCodeLimit
	enc.codes.ResetCodeSize()
}

// clearTable tells the decoder to start over and does the same here.
func (enc *LZWEncoder) clearTable() {
	enc.codes.Output(enc.clearCode)
	enc.clears++
	enc.resetTable()
}

// outputCode writes code and widens codes once a code at the current width
// boundary has been defined. A decoder widens at exactly the same point: it
// learns of a definition one code after the encoder makes it.
func (enc *LZWEncoder) outputCode(code StringCode) {
	enc.codes.Output(code)
	if enc.nextCodeToDefine >= enc.codeLimit && enc.codeLimit < maxCodeLimit {
		enc.codes.IncreaseCodeSize()
		enc.codeLimit *= 2
	}
}

// lookup finds the slot of (base, p), or the empty slot where it belongs.
func (enc *LZWEncoder) lookup(base StringCode, p uint8) (int, bool) {
	i := (int(p)<<enc.hshift ^ int(base)) % enc.hsize
	disp := enc.hsize - i // secondary hash (after G. Knott)
	if i == 0 {
		disp = 1
	}
	for {
		e := &enc.hashTable[i]
		if !e.present {
			return i, false
		}
		if e.baseString == base && e.additionalPixel == p {
			return i, true
		}
		i -= disp
		if i < 0 {
			i += enc.hsize
		}
	}
}

// tableLimit is the first code that can not be defined. An underestimated
// pixel count shrinks it so the hash table always keeps an empty slot.
func (enc *LZWEncoder) tableLimit() int {
	limit := int(enc.codes.MaxCodeLimit())
	if n := int(enc.clearCode) + 2 + enc.hsize - 1; n < limit {
		limit = n
	}
	return limit
}

// EncodePixel feeds the next palette index.
func (enc *LZWEncoder) EncodePixel(p uint8) {
	if StringCode(p) >= enc.clearCode {
		panic(fmt.Sprintf("gifencoder: pixel value %d out of range for clear code %d", p, enc.clearCode))
	}
	enc.pixels++
	if !enc.lzw {
		enc.encodeLiteral(p)
		return
	}
	if !enc.buildingString {
		enc.stringSoFar = StringCode(p)
		enc.buildingString = true
		return
	}

	i, found := enc.lookup(enc.stringSoFar, p)
	if found {
		enc.stringSoFar = enc.hashTable[i].combinedString
		return
	}

	enc.outputCode(enc.stringSoFar)
	if enc.nextCodeToDefine < enc.tableLimit() {
		enc.hashTable[i] = hashEntry{
			present:         true,
			baseString:      enc.stringSoFar,
			additionalPixel: p,
			combinedString:  StringCode(enc.nextCodeToDefine),
		}
		enc.nextCodeToDefine++
	} else if enc.noClear && enc.nextCodeToDefine == maxCodeLimit {
		// A decoder stops defining codes at 4096 too, so the frozen table
		// stays in step without a clear code.
		if !enc.tableFullReported {
			enc.logf("string table full; continuing without clearing it")
			enc.tableFullReported = true
		}
	} else {
		enc.clearTable()
	}
	enc.stringSoFar = StringCode(p)
}

// encodeLiteral writes p as its own code. The decoder still assumes a code
// gets defined for every code read, so a clear code goes out before that
// implied table would force the width up.
func (enc *LZWEncoder) encodeLiteral(p uint8) {
	if enc.nextCodeToDefine > int(enc.codes.MaxCodeLimit()) {
		enc.codes.Output(enc.clearCode)
		enc.clears++
		enc.nextCodeToDefine = int(enc.clearCode) + 2
	}
	enc.codes.Output(StringCode(p))
	enc.nextCodeToDefine++
}

// Finish writes the pending string, the end-of-information code and flushes
// the last sub-block.
func (enc *LZWEncoder) Finish() error {
	if enc.buildingString {
		enc.outputCode(enc.stringSoFar)
		// The string this would start is never completed; only the count moves.
		if enc.nextCodeToDefine < enc.tableLimit() {
			enc.nextCodeToDefine++
		}
		enc.buildingString = false
	}
	enc.codes.Output(enc.eofCode)
	return enc.codes.Flush()
}

// Err returns the first write error seen so far
func (enc *LZWEncoder) Err() error {
	return enc.codes.Err()
}

func (enc *LZWEncoder) logf(format string, v ...any) {
	if enc.log != nil {
		enc.log.Printf(format, v...)
	}
}

// Stats reports what the encoder has done so far.
func (enc *LZWEncoder) Stats() Stats {
	return Stats{
		Pixels:        enc.pixels,
		Codes:         enc.codes.CodesWritten(),
		ClearCodes:    enc.clears,
		Blocks:        enc.codes.bytes.Blocks(),
		HashSize:      enc.hsize,
		FinalCodeSize: enc.codes.CodeSize(),
		TableFull:     enc.tableFullReported,
		Transparent:   -1,
	}
}
