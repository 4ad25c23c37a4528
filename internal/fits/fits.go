// Package fits reads and writes the subset of the FITS image format produced
// by the ASTEP wide-field cameras: a single 2-D primary HDU with 8, 16 or
// 32-bit integer or 32/64-bit float pixels. Headers are preserved card by
// card so calibrated outputs can carry the original acquisition metadata.
package fits

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/lmarthur/ASTEP/internal/fsutil"
)

const (
	cardSize  = 80
	blockSize = 2880
	cardsPer  = blockSize / cardSize
)

// Image is a decoded 2-D FITS primary HDU. Pixel data is row-major float64
// with BZERO/BSCALE already applied.
type Image struct {
	Width  int
	Height int
	Data   []float64
	Header *Header
}

// ReadFile reads a full FITS image through the given filesystem.
func ReadFile(fsys fsutil.FileSystem, path string) (*Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return img, nil
}

// ReadHeaderFile reads only the header of a FITS file, skipping pixel data.
// The classifier uses this to collect exposure times cheaply.
func ReadHeaderFile(fsys fsutil.FileSystem, path string) (*Header, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, err := read(f, true)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	return img.Header, nil
}

// Read decodes a FITS image from r.
func Read(r io.Reader) (*Image, error) {
	return read(r, false)
}

// imageInfo is the structural part of a parsed header: everything needed to
// locate and decode the pixel stream that follows it.
type imageInfo struct {
	bitpix        int
	naxis         int
	width, height int
	bzero, bscale float64
	header        *Header
}

func readInfo(r io.Reader) (*imageInfo, error) {
	var bitpix, naxis, width, height int
	bzero := 0.0
	bscale := 1.0
	header := NewHeader()

	buf := make([]byte, cardSize)
	headerDone := false
	for !headerDone {
		for i := 0; i < cardsPer; i++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("reading header record: %w", err)
			}
			record := string(buf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				if remaining := cardsPer - 1 - i; remaining > 0 {
					if _, err := io.ReadFull(r, make([]byte, remaining*cardSize)); err != nil {
						return nil, fmt.Errorf("skipping header padding: %w", err)
					}
				}
				break
			}

			if len(record) <= 10 || record[8] != '=' || record[9] != ' ' {
				continue
			}

			rawValue, comment := splitValueComment(record[10:])
			switch keyword {
			case "BITPIX":
				bitpix, _ = strconv.Atoi(rawValue)
			case "NAXIS":
				naxis, _ = strconv.Atoi(rawValue)
			case "NAXIS1":
				width, _ = strconv.Atoi(rawValue)
			case "NAXIS2":
				height, _ = strconv.Atoi(rawValue)
			case "BZERO":
				bzero, _ = strconv.ParseFloat(rawValue, 64)
			case "BSCALE":
				bscale, _ = strconv.ParseFloat(rawValue, 64)
			}
			if keyword != "" && !structuralKeywords[keyword] {
				header.Set(keyword, unquote(rawValue), comment)
			}
		}
	}

	return &imageInfo{
		bitpix: bitpix,
		naxis:  naxis,
		width:  width,
		height: height,
		bzero:  bzero,
		bscale: bscale,
		header: header,
	}, nil
}

func (info *imageInfo) validate() error {
	if info.naxis < 2 || info.width <= 0 || info.height <= 0 {
		return fmt.Errorf("invalid FITS geometry: NAXIS=%d NAXIS1=%d NAXIS2=%d",
			info.naxis, info.width, info.height)
	}
	return nil
}

// bytesPerPixel returns the storage width for the BITPIX, or 0 when the
// BITPIX is unsupported.
func (info *imageInfo) bytesPerPixel() int {
	switch info.bitpix {
	case 8:
		return 1
	case 16:
		return 2
	case 32, -32:
		return 4
	case -64:
		return 8
	default:
		return 0
	}
}

// decodePixels reads len(dst) pixels from r, applying BZERO/BSCALE.
func (info *imageInfo) decodePixels(r io.Reader, dst []float64) error {
	n := len(dst)
	bzero, bscale := info.bzero, info.bscale

	switch info.bitpix {
	case 8:
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("reading 8-bit pixels: %w", err)
		}
		for i := 0; i < n; i++ {
			dst[i] = float64(raw[i])*bscale + bzero
		}
	case 16:
		raw := make([]byte, n*2)
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("reading 16-bit pixels: %w", err)
		}
		for i := 0; i < n; i++ {
			v := int16(binary.BigEndian.Uint16(raw[i*2:]))
			dst[i] = float64(v)*bscale + bzero
		}
	case 32:
		raw := make([]byte, n*4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("reading 32-bit pixels: %w", err)
		}
		for i := 0; i < n; i++ {
			v := int32(binary.BigEndian.Uint32(raw[i*4:]))
			dst[i] = float64(v)*bscale + bzero
		}
	case -32:
		raw := make([]byte, n*4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("reading float32 pixels: %w", err)
		}
		for i := 0; i < n; i++ {
			v := math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
			dst[i] = float64(v)*bscale + bzero
		}
	case -64:
		raw := make([]byte, n*8)
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("reading float64 pixels: %w", err)
		}
		for i := 0; i < n; i++ {
			v := math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
			dst[i] = v*bscale + bzero
		}
	default:
		return fmt.Errorf("unsupported BITPIX: %d", info.bitpix)
	}
	return nil
}

func read(r io.Reader, headerOnly bool) (*Image, error) {
	info, err := readInfo(r)
	if err != nil {
		return nil, err
	}
	if err := info.validate(); err != nil {
		return nil, err
	}

	img := &Image{Width: info.width, Height: info.height, Header: info.header}
	if headerOnly {
		return img, nil
	}

	img.Data = make([]float64, info.width*info.height)
	if err := info.decodePixels(r, img.Data); err != nil {
		return nil, err
	}
	return img, nil
}

// splitValueComment splits the value field of a card from its trailing
// comment. The slash separator is ignored inside quoted strings.
func splitValueComment(s string) (value, comment string) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '/':
			if !inQuote {
				return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
			}
		}
	}
	return strings.TrimSpace(s), ""
}

// unquote strips FITS string quoting ('value   ') if present.
func unquote(raw string) string {
	if !strings.HasPrefix(raw, "'") {
		return raw
	}
	end := strings.LastIndex(raw, "'")
	if end > 0 {
		return strings.TrimRight(raw[1:end], " ")
	}
	return strings.Trim(raw, "' ")
}
