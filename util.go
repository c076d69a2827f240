package gifencoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// EncodeOptions provides control over how an image is written
type EncodeOptions struct {
	Interlace   bool   // write rows in the four-pass interlaced order
	Sort        bool   // sort the color table by RGB value
	Transparent string // color to make transparent; a leading "=" requires an exact match
	AlphaColor  string // color table entry used for transparent pixels, default black
	Comment     string // text for a comment extension
	NoLZW       bool   // one code per pixel, no string table
	NoClear     bool   // keep using a full string table instead of clearing it
	Verbose     bool
	Logger      Logger // receives diagnostics when Verbose is set
}

// Stats describes one encoded raster
type Stats struct {
	Pixels        int  `json:"pixels"`
	Codes         int  `json:"codes"`
	ClearCodes    int  `json:"clearCodes"`
	Blocks        int  `json:"blocks"`
	HashSize      int  `json:"hashSize"`
	FinalCodeSize int  `json:"finalCodeSize"`
	TableFull     bool `json:"tableFull"`
	Colors        int  `json:"colors,omitempty"`      // set by GIFEncoder only
	Transparent   int  `json:"transparent"`           // palette index, -1 for none
}

// JSON renders the statistics as indented JSON
func (s Stats) JSON() []byte {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return pretty.PrettyOptions(data, &pretty.Options{Width: 80, Indent: "  "})
}

// Encode writes m to w in GIF format
func Encode(w io.Writer, m image.Image, opts *EncodeOptions) (Stats, error) {
	ge := NewGIFEncoder(w, opts)
	if err := ge.Encode(m); err != nil {
		return ge.Stats(), err
	}
	return ge.Stats(), nil
}

// EncodeGIF is a convenience function returning the GIF stream of m
func EncodeGIF(m image.Image, opts *EncodeOptions) ([]byte, error) {
	out := NewByteArray()
	if _, err := Encode(out, m, opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// LoadOptions reads EncodeOptions from a JSON document such as
//
//	{"interlace": true, "transparent": "=#ffffff", "comment": "made by pamtogif"}
//
// Unknown keys are ignored.
func LoadOptions(data []byte) (*EncodeOptions, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("options: invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, errors.New("options: expected a JSON object")
	}
	opts := &EncodeOptions{
		Interlace:   doc.Get("interlace").Bool(),
		Sort:        doc.Get("sort").Bool(),
		Transparent: doc.Get("transparent").String(),
		AlphaColor:  doc.Get("alphacolor").String(),
		Comment:     doc.Get("comment").String(),
		NoLZW:       doc.Get("nolzw").Bool(),
		NoClear:     doc.Get("noclear").Bool(),
		Verbose:     doc.Get("verbose").Bool(),
	}
	for _, key := range []string{"transparent", "alphacolor"} {
		v := doc.Get(key)
		if !v.Exists() {
			continue
		}
		if _, err := ParseColor(strings.TrimPrefix(v.String(), "=")); err != nil {
			return nil, fmt.Errorf("options: %s: %w", key, err)
		}
	}
	return opts, nil
}
