// Command pamtogif converts a PAM, PNM, QOI, PNG or GIF image with at most
// 256 colors to a GIF file.
//
//	pamtogif [flags] [input]
//	pamtogif -match '*.ppm' [flags] directory
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	pnm "github.com/jbuchbinder/gopnm"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/match"
	"github.com/xfmoulet/qoi"

	gifencoder "github.com/ManInM00N/pamtogif"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "pamtogif:", err)
		os.Exit(1)
	}
}

type config struct {
	opts    gifencoder.EncodeOptions
	output  string
	pattern string
	stats   bool
}

// parseFlags applies the -config file first, then every flag given on the
// command line on top of it.
func parseFlags(args []string, stderr io.Writer) (*config, []string, error) {
	fs := flag.NewFlagSet("pamtogif", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var cli gifencoder.EncodeOptions
	fs.BoolVar(&cli.Interlace, "interlace", false, "write an interlaced GIF")
	fs.BoolVar(&cli.Sort, "sort", false, "sort the color table")
	fs.StringVar(&cli.Transparent, "transparent", "", "make this color transparent; prefix with = for an exact match")
	fs.StringVar(&cli.AlphaColor, "alphacolor", "", "color table entry for transparent pixels")
	fs.StringVar(&cli.Comment, "comment", "", "add a comment extension")
	fs.BoolVar(&cli.NoLZW, "nolzw", false, "write uncompressed codes")
	fs.BoolVar(&cli.NoClear, "noclear", false, "never clear the string table")
	fs.BoolVar(&cli.Verbose, "verbose", false, "report progress on stderr")
	configFile := fs.String("config", "", "JSON file with encoding options")
	output := fs.String("o", "", "output file or, with -match, output directory")
	pattern := fs.String("match", "", "encode every file in the input directory matching this pattern")
	stats := fs.Bool("stats", false, "print compression statistics as JSON on stderr")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := &config{output: *output, pattern: *pattern, stats: *stats}
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, nil, err
		}
		loaded, err := gifencoder.LoadOptions(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", *configFile, err)
		}
		cfg.opts = *loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interlace":
			cfg.opts.Interlace = cli.Interlace
		case "sort":
			cfg.opts.Sort = cli.Sort
		case "transparent":
			cfg.opts.Transparent = cli.Transparent
		case "alphacolor":
			cfg.opts.AlphaColor = cli.AlphaColor
		case "comment":
			cfg.opts.Comment = cli.Comment
		case "nolzw":
			cfg.opts.NoLZW = cli.NoLZW
		case "noclear":
			cfg.opts.NoClear = cli.NoClear
		case "verbose":
			cfg.opts.Verbose = cli.Verbose
		}
	})
	cfg.opts.Logger = log.New(stderr, "pamtogif: ", 0)
	return cfg, fs.Args(), nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if len(rest) > 1 {
		return errors.New("too many arguments")
	}

	if cfg.pattern != "" {
		if len(rest) != 1 {
			return errors.New("-match needs an input directory")
		}
		return runBatch(cfg, rest[0], stderr)
	}

	in, name := stdin, "-"
	if len(rest) == 1 && rest[0] != "-" {
		f, err := os.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in, name = f, rest[0]
	}

	if cfg.output == "" {
		return convert(cfg, in, name, stdout, stderr)
	}
	out, err := os.Create(cfg.output)
	if err != nil {
		return err
	}
	if err := convert(cfg, in, name, out, stderr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// runBatch converts every matching file of dir to a .gif next to it, or in
// the -o directory.
func runBatch(cfg *config, dir string, stderr io.Writer) error {
	names, err := selectInputs(dir, cfg.pattern)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no files in %s match %q", dir, cfg.pattern)
	}
	outDir := dir
	if cfg.output != "" {
		outDir = cfg.output
	}
	for _, name := range names {
		if err := convertFile(cfg, filepath.Join(dir, name), filepath.Join(outDir, gifName(name)), stderr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// selectInputs returns the regular files of dir whose names match pattern.
func selectInputs(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && match.Match(e.Name(), pattern) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// gifName strips a .zst suffix and replaces the image extension with .gif.
func gifName(name string) string {
	name = strings.TrimSuffix(name, ".zst")
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".gif"
}

func convertFile(cfg *config, inPath, outPath string, stderr io.Writer) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := convert(cfg, in, inPath, out, stderr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func convert(cfg *config, in io.Reader, name string, out io.Writer, stderr io.Writer) error {
	img, err := readImage(in, name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}

	bw := bufio.NewWriter(out)
	stats, err := gifencoder.Encode(bw, img, &cfg.opts)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", gifencoder.ErrWriteOutput, err)
	}

	if cfg.stats {
		if _, err := stderr.Write(stats.JSON()); err != nil {
			return fmt.Errorf("writing stats: %w", err)
		}
	}
	return nil
}

// readImage decodes PAM, the other Netpbm formats and QOI by their magic numbers and anything else
// through the registered image formats. A .zst name is decompressed first.
func readImage(r io.Reader, name string) (image.Image, error) {
	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil && len(magic) < 2 {
		return nil, fmt.Errorf("input too short: %w", err)
	}
	switch {
	case magic[0] == 'P' && magic[1] == '7':
		return decodePAM(br)
	case magic[0] == 'P' && magic[1] >= '1' && magic[1] <= '6':
		return pnm.Decode(br)
	case string(magic) == "qoif":
		return qoi.Decode(br)
	}
	img, _, err := image.Decode(br)
	return img, err
}
