package gifencoder

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"strconv"
	"strings"
)

// maxColors is the largest GIF color table.
const maxColors = 256

// ErrTooManyColors is returned for images that need more than 256 palette
// entries. They have to be quantized first.
var ErrTooManyColors = errors.New("too many colors - try quantizing to 256 colors first")

// Colormap maps the colors of one image to GIF palette indices.
type Colormap struct {
	Palette color.Palette

	// Transparent is the palette index of the transparent color, or -1.
	Transparent int

	index map[uint32]int
	// alphaIndex is the fake entry for pixels below half opacity, or -1.
	alphaIndex int
}

func rgbKey(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// isTransparentPixel treats anything less than half opaque as transparent.
func isTransparentPixel(c color.Color) bool {
	_, _, _, a := c.RGBA()
	return a < 0x8000
}

// ComputeColormap builds the exact color map of m. Transparent pixels share
// one extra entry painted with opts.AlphaColor.
func ComputeColormap(m image.Image, opts *EncodeOptions) (*Colormap, error) {
	if opts == nil {
		opts = &EncodeOptions{}
	}
	cm := &Colormap{
		Transparent: -1,
		index:       make(map[uint32]int),
		alphaIndex:  -1,
	}

	b := m.Bounds()
	hasAlpha := false
	var colors []color.NRGBA
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := m.At(x, y)
			if isTransparentPixel(c) {
				hasAlpha = true
				continue
			}
			nc := color.NRGBAModel.Convert(c).(color.NRGBA)
			nc.A = 0xff
			key := rgbKey(nc)
			if _, ok := cm.index[key]; ok {
				continue
			}
			if len(colors) >= maxColors {
				return nil, ErrTooManyColors
			}
			cm.index[key] = len(colors)
			colors = append(colors, nc)
		}
	}

	if opts.Sort {
		sort.Slice(colors, func(i, j int) bool {
			return rgbKey(colors[i]) < rgbKey(colors[j])
		})
		for i, c := range colors {
			cm.index[rgbKey(c)] = i
		}
	}

	cm.Palette = make(color.Palette, len(colors), len(colors)+1)
	for i, c := range colors {
		cm.Palette[i] = c
	}

	if hasAlpha {
		if len(cm.Palette) >= maxColors {
			return nil, ErrTooManyColors
		}
		alphaColor := color.RGBA{A: 0xff}
		if opts.AlphaColor != "" {
			c, err := ParseColor(opts.AlphaColor)
			if err != nil {
				return nil, fmt.Errorf("alpha color: %w", err)
			}
			alphaColor = c
		}
		cm.alphaIndex = len(cm.Palette)
		cm.Transparent = cm.alphaIndex
		cm.Palette = append(cm.Palette, alphaColor)
	} else if opts.Transparent != "" {
		want := opts.Transparent
		exact := strings.HasPrefix(want, "=")
		c, err := ParseColor(strings.TrimPrefix(want, "="))
		if err != nil {
			return nil, fmt.Errorf("transparent color: %w", err)
		}
		if exact {
			if i, ok := cm.index[rgbKey(color.NRGBA{R: c.R, G: c.G, B: c.B})]; ok {
				cm.Transparent = i
			}
		} else {
			cm.Transparent = cm.Closest(c)
		}
	}

	// A GIF needs at least one color table entry.
	if len(cm.Palette) == 0 {
		cm.Palette = append(cm.Palette, color.RGBA{A: 0xff})
	}
	return cm, nil
}

// Index returns the palette index of c. Colors not in the map get the
// closest entry.
func (cm *Colormap) Index(c color.Color) int {
	if cm.alphaIndex >= 0 && isTransparentPixel(c) {
		return cm.alphaIndex
	}
	nc := color.NRGBAModel.Convert(c).(color.NRGBA)
	if i, ok := cm.index[rgbKey(nc)]; ok {
		return i
	}
	return cm.Closest(nc)
}

// Closest returns the index of the opaque entry nearest to c
func (cm *Colormap) Closest(c color.Color) int {
	nc := color.NRGBAModel.Convert(c).(color.NRGBA)
	minpos := 0
	dmin := 256 * 256 * 256
	for i, pc := range cm.Palette {
		if i == cm.alphaIndex {
			continue
		}
		p := color.NRGBAModel.Convert(pc).(color.NRGBA)
		dr := int(nc.R) - int(p.R)
		dg := int(nc.G) - int(p.G)
		db := int(nc.B) - int(p.B)
		d := dr*dr + dg*dg + db*db
		if d < dmin {
			dmin = d
			minpos = i
		}
	}
	return minpos
}

// BitsPerPixel returns the color table size exponent, at least 1.
func (cm *Colormap) BitsPerPixel() int {
	bpp := 1
	for 1<<bpp < len(cm.Palette) {
		bpp++
	}
	return bpp
}

// Paletted maps every pixel of m to its palette index.
func (cm *Colormap) Paletted(m image.Image) *image.Paletted {
	b := m.Bounds()
	pm := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), cm.Palette)
	for y := 0; y < b.Dy(); y++ {
		row := pm.Pix[y*pm.Stride : y*pm.Stride+b.Dx()]
		for x := range row {
			row[x] = uint8(cm.Index(m.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return pm
}

var colorNames = map[string]color.RGBA{
	"black":   {0, 0, 0, 0xff},
	"white":   {0xff, 0xff, 0xff, 0xff},
	"red":     {0xff, 0, 0, 0xff},
	"green":   {0, 0xff, 0, 0xff},
	"blue":    {0, 0, 0xff, 0xff},
	"yellow":  {0xff, 0xff, 0, 0xff},
	"cyan":    {0, 0xff, 0xff, 0xff},
	"magenta": {0xff, 0, 0xff, 0xff},
	"gray":    {0xbe, 0xbe, 0xbe, 0xff},
	"grey":    {0xbe, 0xbe, 0xbe, 0xff},
}

// ParseColor understands "#rgb", "#rrggbb", "rgb:r/g/b" with one to four hex
// digits per component, and a few color names.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := colorNames[s]; ok {
		return c, nil
	}
	switch {
	case strings.HasPrefix(s, "#"):
		hex := s[1:]
		if len(hex) != 3 && len(hex) != 6 {
			return color.RGBA{}, fmt.Errorf("invalid color %q", s)
		}
		n := len(hex) / 3
		var comp [3]uint8
		for i := range comp {
			v, err := parseHexComponent(hex[i*n : (i+1)*n])
			if err != nil {
				return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
			}
			comp[i] = v
		}
		return color.RGBA{comp[0], comp[1], comp[2], 0xff}, nil
	case strings.HasPrefix(s, "rgb:"):
		parts := strings.Split(s[4:], "/")
		if len(parts) != 3 {
			return color.RGBA{}, fmt.Errorf("invalid color %q", s)
		}
		var comp [3]uint8
		for i, part := range parts {
			v, err := parseHexComponent(part)
			if err != nil {
				return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
			}
			comp[i] = v
		}
		return color.RGBA{comp[0], comp[1], comp[2], 0xff}, nil
	}
	return color.RGBA{}, fmt.Errorf("unknown color %q", s)
}

// parseHexComponent scales a 1 to 4 digit hex value to 8 bits.
func parseHexComponent(h string) (uint8, error) {
	if len(h) < 1 || len(h) > 4 {
		return 0, fmt.Errorf("component %q must have 1 to 4 hex digits", h)
	}
	v, err := strconv.ParseUint(h, 16, 16)
	if err != nil {
		return 0, err
	}
	maxval := uint64(1)<<(4*len(h)) - 1
	return uint8((v*255 + maxval/2) / maxval), nil
}
