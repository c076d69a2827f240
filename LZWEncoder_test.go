package gifencoder

import (
	"bytes"
	"compress/lzw"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// unblock joins the payload of the data sub-blocks in data, which must end
// with exactly one zero-length block.
func unblock(t *testing.T, data []byte) []byte {
	t.Helper()
	var payload []byte
	i := 0
	for {
		require.Less(t, i, len(data), "missing zero-length terminator block")
		n := int(data[i])
		i++
		if n == 0 {
			require.Equal(t, len(data), i, "data after the terminator block")
			return payload
		}
		require.LessOrEqual(t, i+n, len(data), "block length larger than the data left")
		payload = append(payload, data[i:i+n]...)
		i += n
	}
}

// encodeIndices runs pix through WriteRaster as a single row.
func encodeIndices(t *testing.T, pix []uint8, opts LZWOptions) []byte {
	t.Helper()
	out := NewByteArray()
	_, err := WriteRaster(out, NewSliceRowReader(len(pix), pix, false), opts)
	require.NoError(t, err)
	return out.Bytes()
}

// decodeIndices decompresses raster data with the standard library decoder.
func decodeIndices(t *testing.T, data []byte) []uint8 {
	t.Helper()
	r := lzw.NewReader(bytes.NewReader(unblock(t, data[1:])), lzw.LSB, int(data[0]))
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	return got
}

type tracedCode struct {
	code  int
	width int
}

// traceCodes splits raster data into codes, tracking the code width the
// way a GIF decoder does.
func traceCodes(t *testing.T, data []byte) []tracedCode {
	t.Helper()
	litWidth := int(data[0])
	payload := unblock(t, data[1:])
	clear := 1 << litWidth
	eof := clear + 1

	width := litWidth + 1
	hi := eof
	overflow := 1 << width

	var (
		acc   uint32
		nbits int
		pos   int
		codes []tracedCode
	)
	for {
		for nbits < width {
			require.Less(t, pos, len(payload), "stream ends without an EOF code")
			acc |= uint32(payload[pos]) << nbits
			pos++
			nbits += 8
		}
		code := int(acc & (1<<width - 1))
		acc >>= width
		nbits -= width
		codes = append(codes, tracedCode{code, width})

		switch code {
		case clear:
			width = litWidth + 1
			hi = eof
			overflow = 1 << width
			continue
		case eof:
			require.Equal(t, len(payload), pos, "bytes after the EOF code")
			return codes
		}
		hi++
		if hi >= overflow {
			if width == maxCodeBits {
				hi--
			} else {
				width++
				overflow <<= 1
			}
		}
	}
}

func countCode(codes []tracedCode, code int) int {
	n := 0
	for _, c := range codes {
		if c.code == code {
			n++
		}
	}
	return n
}

func minCodeSizeFor(paletteSize int) int {
	bits := 2
	for 1<<bits < paletteSize {
		bits++
	}
	return bits
}

func randomIndices(rng *rand.Rand, n, paletteSize int) []uint8 {
	pix := make([]uint8, n)
	for i := range pix {
		pix[i] = uint8(rng.Intn(paletteSize))
	}
	return pix
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func TestTwoColorRuns(t *testing.T) {
	pix := []uint8{0, 0, 0, 0, 1, 1, 1, 1}
	data := encodeIndices(t, pix, LZWOptions{MinCodeSize: 2, PixelCount: len(pix)})

	require.Equal(t, []byte{0x02, 0x04, 0x84, 0x11, 0x19, 0x05, 0x00}, data)
	require.Equal(t, []tracedCode{
		{4, 3}, {0, 3}, {6, 3}, {0, 3},
		{1, 4}, {9, 4}, {1, 4}, {5, 4},
	}, traceCodes(t, data))
	require.Equal(t, pix, decodeIndices(t, data))
}

func TestSinglePixel(t *testing.T) {
	data := encodeIndices(t, []uint8{0}, LZWOptions{MinCodeSize: 2, PixelCount: 1})
	require.Equal(t, []byte{0x02, 0x02, 0x44, 0x01, 0x00}, data)
	require.Equal(t, []tracedCode{{4, 3}, {0, 3}, {5, 3}}, traceCodes(t, data))
}

func TestNoPixels(t *testing.T) {
	data := encodeIndices(t, nil, LZWOptions{MinCodeSize: 8})
	require.Equal(t, []tracedCode{{256, 9}, {257, 9}}, traceCodes(t, data))
	require.Empty(t, decodeIndices(t, data))
}

func TestLongRunOfOneValue(t *testing.T) {
	pix := bytes.Repeat([]byte{42}, 5000)
	data := encodeIndices(t, pix, LZWOptions{MinCodeSize: 8, PixelCount: len(pix)})

	codes := traceCodes(t, data)
	require.Equal(t, 256, codes[0].code)
	require.Equal(t, 257, codes[len(codes)-1].code)
	require.Equal(t, 1, countCode(codes, 256), "no clear before code 511 is used up")
	// Strings of length 1, 2, 3, ... cover 5000 pixels in about 100 codes.
	require.Less(t, len(codes), 110)
	for _, c := range codes {
		require.Equal(t, 9, c.width)
	}
	require.Equal(t, pix, decodeIndices(t, data))
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, paletteSize := range []int{2, 3, 4, 7, 16, 100, 256} {
		for _, n := range []int{1, 2, 3, 100, 5000, 70000} {
			random := randomIndices(rng, n, paletteSize)
			ramp := make([]uint8, n)
			for i := range ramp {
				ramp[i] = uint8((i / 7) % paletteSize)
			}
			for _, mode := range []struct {
				name string
				opts LZWOptions
			}{
				{"lzw", LZWOptions{}},
				{"noclear", LZWOptions{NoClear: true}},
				{"nolzw", LZWOptions{NoLZW: true}},
			} {
				opts := mode.opts
				opts.MinCodeSize = minCodeSizeFor(paletteSize)
				opts.PixelCount = n
				t.Run(fmt.Sprintf("%s/%d/%d", mode.name, paletteSize, n), func(t *testing.T) {
					require.Equal(t, random, decodeIndices(t, encodeIndices(t, random, opts)))
					require.Equal(t, ramp, decodeIndices(t, encodeIndices(t, ramp, opts)))
				})
			}
		}
	}
}

func TestCodeWidthGrowsOneBitAtATime(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	pix := randomIndices(rng, 100000, 256)
	data := encodeIndices(t, pix, LZWOptions{MinCodeSize: 8, PixelCount: len(pix)})
	codes := traceCodes(t, data)

	require.Greater(t, countCode(codes, 256), 1, "random data must exhaust the table")
	maxWidth := 0
	for i := 1; i < len(codes); i++ {
		prev, cur := codes[i-1], codes[i]
		if prev.code == 256 {
			require.Equal(t, 9, cur.width, "width resets after a clear")
			continue
		}
		require.GreaterOrEqual(t, cur.width, prev.width)
		require.LessOrEqual(t, cur.width-prev.width, 1)
		if cur.width > maxWidth {
			maxWidth = cur.width
		}
	}
	require.Equal(t, maxCodeBits, maxWidth)
	require.Equal(t, pix, decodeIndices(t, data))
}

func TestNoClearKeepsFullTable(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pix := randomIndices(rng, 100000, 256)
	logger := &recordingLogger{}
	opts := LZWOptions{MinCodeSize: 8, PixelCount: len(pix), NoClear: true, Logger: logger}

	out := NewByteArray()
	stats, err := WriteRaster(out, NewSliceRowReader(1000, pix, false), opts)
	require.NoError(t, err)
	data := out.Bytes()

	codes := traceCodes(t, data)
	require.Equal(t, 1, countCode(codes, 256), "only the leading clear code")
	require.True(t, stats.TableFull)
	require.Len(t, logger.lines, 1, "table full is reported once")
	require.Equal(t, pix, decodeIndices(t, data))

	again := encodeIndices(t, pix, opts)
	require.Equal(t, data, again, "same input, same output")

	// Up to the first table clear, both modes emit the same codes.
	cleared := traceCodes(t, encodeIndices(t, pix, LZWOptions{MinCodeSize: 8, PixelCount: len(pix)}))
	second := 1
	for cleared[second].code != 256 {
		second++
	}
	require.Equal(t, cleared[:second], codes[:second])
}

func TestNoLZWWritesOneCodePerPixel(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, minCodeSize := range []int{2, 4, 8} {
		pix := randomIndices(rng, 3000, 1<<minCodeSize)
		data := encodeIndices(t, pix, LZWOptions{MinCodeSize: minCodeSize, NoLZW: true})
		codes := traceCodes(t, data)

		clear := 1 << minCodeSize
		literals := 0
		for _, c := range codes {
			require.Equal(t, minCodeSize+1, c.width)
			if c.code < clear {
				literals++
			}
		}
		require.Equal(t, len(pix), literals)
		require.Equal(t, pix, decodeIndices(t, data))
	}
}

func TestUnderestimatedPixelCount(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pix := randomIndices(rng, 20000, 256)
	for _, noClear := range []bool{false, true} {
		out := NewByteArray()
		stats, err := WriteRaster(out, NewSliceRowReader(len(pix), pix, false),
			LZWOptions{MinCodeSize: 8, PixelCount: 10, NoClear: noClear})
		require.NoError(t, err)
		require.Equal(t, 257, stats.HashSize)
		require.Equal(t, pix, decodeIndices(t, out.Bytes()))

		// 257 slots hold 256 strings, so the table is cleared long before
		// code 4096, NoClear or not.
		require.Greater(t, stats.ClearCodes, 20, "noClear=%v", noClear)
		require.False(t, stats.TableFull, "noClear=%v", noClear)
		require.LessOrEqual(t, stats.FinalCodeSize, 10)

		codes := traceCodes(t, out.Bytes())
		require.Equal(t, stats.ClearCodes, countCode(codes, 256))
		for _, c := range codes {
			require.LessOrEqual(t, c.code, 256+2+256, "code beyond the table limit")
		}
	}

	// With the real count the same data fills all 4096 codes and NoClear
	// keeps the table.
	stats, err := WriteRaster(NewByteArray(), NewSliceRowReader(len(pix), pix, false),
		LZWOptions{MinCodeSize: 8, PixelCount: len(pix), NoClear: true})
	require.NoError(t, err)
	require.Equal(t, 1, stats.ClearCodes)
	require.True(t, stats.TableFull)
}

func TestHashSizeFor(t *testing.T) {
	for _, tc := range []struct {
		pixels int
		size   int
		shift  uint
	}{
		{0, 5003, 4},
		{1, 257, 0},
		{255, 257, 0},
		{256, 521, 1},
		{1023, 1031, 2},
		{2047, 2053, 3},
		{4095, 4099, 4},
		{4096, 5003, 4},
		{1 << 24, 5003, 4},
	} {
		size, shift := hashSizeFor(tc.pixels)
		require.Equal(t, tc.size, size, "pixels=%d", tc.pixels)
		require.Equal(t, tc.shift, shift, "pixels=%d", tc.pixels)
	}
}

func TestEncodePixelOutOfRange(t *testing.T) {
	enc := NewLZWEncoder(NewByteArray(), LZWOptions{MinCodeSize: 2})
	enc.Start()
	require.Panics(t, func() { enc.EncodePixel(4) })
}

func TestWriteRasterWriteError(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	pix := randomIndices(rng, 10000, 256)

	_, err := WriteRaster(&failingWriter{}, NewSliceRowReader(100, pix, false), LZWOptions{MinCodeSize: 8})
	require.ErrorIs(t, err, ErrWriteOutput)

	_, err = WriteRaster(&failingWriter{limit: 300}, NewSliceRowReader(100, pix, false), LZWOptions{MinCodeSize: 8})
	require.ErrorIs(t, err, ErrWriteOutput)
	require.ErrorIs(t, err, errDiskFull)
}

func BenchmarkLZWEncoder(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	pix := make([]uint8, 256*256)
	for i := range pix {
		pix[i] = uint8(i/64%16) + uint8(rng.Intn(2))
	}
	b.SetBytes(int64(len(pix)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := NewByteArray()
		if _, err := WriteRaster(out, NewSliceRowReader(256, pix, false), LZWOptions{MinCodeSize: 8, PixelCount: len(pix)}); err != nil {
			b.Fatal(err)
		}
	}
}
