package main

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
)

var (
	errPAMHeader = errors.New("pam: invalid header")
	errPAMShort  = errors.New("pam: not enough image data")
)

// pamHeader is the part of a PAM header the decoder needs. Depth 2 and 4
// carry an alpha channel after the gray or RGB samples.
type pamHeader struct {
	width, height int
	depth         int
	maxVal        int
	tupleType     string
}

// decodePAM reads a P7 image into an *image.NRGBA, or an *image.NRGBA64 when
// samples are wider than a byte. Samples are scaled from maxval to the full
// range.
func decodePAM(br *bufio.Reader) (image.Image, error) {
	h, err := readPAMHeader(br)
	if err != nil {
		return nil, err
	}

	sampleBytes := 1
	if h.maxVal > 255 {
		sampleBytes = 2
	}
	row := make([]byte, h.width*h.depth*sampleBytes)
	rect := image.Rect(0, 0, h.width, h.height)

	var (
		m8  *image.NRGBA
		m16 *image.NRGBA64
	)
	if sampleBytes == 1 {
		m8 = image.NewNRGBA(rect)
	} else {
		m16 = image.NewNRGBA64(rect)
	}

	sample := make([]uint32, 4)
	for y := 0; y < h.height; y++ {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, errPAMShort
		}
		for x := 0; x < h.width; x++ {
			tuple := row[x*h.depth*sampleBytes:]
			for i := 0; i < h.depth; i++ {
				v := uint32(tuple[i*sampleBytes])
				if sampleBytes == 2 {
					v = v<<8 | uint32(tuple[i*sampleBytes+1])
				}
				if v > uint32(h.maxVal) {
					return nil, fmt.Errorf("pam: sample %d exceeds maxval %d", v, h.maxVal)
				}
				sample[i] = v
			}
			r, g, b, a := h.rgba(sample)
			if m8 != nil {
				p := m8.PixOffset(x, y)
				m8.Pix[p+0] = uint8(h.scale(r, 0xff))
				m8.Pix[p+1] = uint8(h.scale(g, 0xff))
				m8.Pix[p+2] = uint8(h.scale(b, 0xff))
				m8.Pix[p+3] = uint8(h.scale(a, 0xff))
			} else {
				p := m16.PixOffset(x, y)
				for i, v := range [4]uint32{r, g, b, a} {
					s := h.scale(v, 0xffff)
					m16.Pix[p+2*i] = uint8(s >> 8)
					m16.Pix[p+2*i+1] = uint8(s)
				}
			}
		}
	}
	if m8 != nil {
		return m8, nil
	}
	return m16, nil
}

// rgba spreads one tuple over red, green, blue and alpha, all in maxval units.
func (h *pamHeader) rgba(s []uint32) (r, g, b, a uint32) {
	a = uint32(h.maxVal)
	switch h.depth {
	case 1:
		return s[0], s[0], s[0], a
	case 2:
		return s[0], s[0], s[0], s[1]
	case 3:
		return s[0], s[1], s[2], a
	default:
		return s[0], s[1], s[2], s[3]
	}
}

func (h *pamHeader) scale(v, full uint32) uint32 {
	m := uint32(h.maxVal)
	return (v*full + m/2) / m
}

// readPAMHeader parses "KEY value" lines from the P7 magic up to ENDHDR.
func readPAMHeader(br *bufio.Reader) (*pamHeader, error) {
	line, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "P7" {
		return nil, errPAMHeader
	}

	h := &pamHeader{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errPAMHeader
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if fields[0] == "ENDHDR" {
			break
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: %s without a value", errPAMHeader, fields[0])
		}
		switch fields[0] {
		case "TUPLTYPE":
			// Several TUPLTYPE lines are joined by spaces.
			if h.tupleType != "" {
				h.tupleType += " "
			}
			h.tupleType += strings.Join(fields[1:], " ")
		case "WIDTH", "HEIGHT", "DEPTH", "MAXVAL":
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: bad %s %q", errPAMHeader, fields[0], fields[1])
			}
			switch fields[0] {
			case "WIDTH":
				h.width = n
			case "HEIGHT":
				h.height = n
			case "DEPTH":
				h.depth = n
			case "MAXVAL":
				h.maxVal = n
			}
		}
	}

	if h.width == 0 || h.height == 0 || h.depth == 0 || h.maxVal == 0 {
		return nil, fmt.Errorf("%w: missing WIDTH, HEIGHT, DEPTH or MAXVAL", errPAMHeader)
	}
	if h.depth > 4 {
		return nil, fmt.Errorf("pam: depth %d (%s) is not supported", h.depth, h.tupleType)
	}
	if h.maxVal > 65535 {
		return nil, fmt.Errorf("pam: maxval %d is larger than 65535", h.maxVal)
	}
	return h, nil
}
