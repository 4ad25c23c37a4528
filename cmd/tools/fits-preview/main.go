// Command fits-preview renders a FITS frame as a grayscale PNG for quick
// inspection.
package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/preview"
)

var (
	in    = flag.String("in", "", "Input FITS file")
	out   = flag.String("out", "", "Output PNG path (default: input with .png extension)")
	title = flag.String("title", "", "Plot title (default: input filename)")
)

func main() {
	flag.Parse()

	if *in == "" {
		log.Fatal("fits-preview: -in is required")
	}

	outPath := *out
	if outPath == "" {
		ext := filepath.Ext(*in)
		outPath = (*in)[:len(*in)-len(ext)] + ".png"
	}
	plotTitle := *title
	if plotTitle == "" {
		plotTitle = filepath.Base(*in)
	}

	fsys := fsutil.OSFileSystem{}
	f, err := frame.Load(fsys, *in, frame.UnitADU)
	if err != nil {
		log.Fatalf("fits-preview: %v", err)
	}

	if err := preview.WritePNG(fsys, outPath, f, plotTitle); err != nil {
		log.Fatalf("fits-preview: %v", err)
	}
	log.Printf("wrote %s", outPath)
}
