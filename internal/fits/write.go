package fits

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lmarthur/ASTEP/internal/fsutil"
)

// WriteFile writes a FITS image through the given filesystem, creating
// parent directories as needed.
func WriteFile(fsys fsutil.FileSystem, path string, img *Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, img); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Write encodes img as a single-HDU FITS file with BITPIX=-64 pixels so
// reduction results round-trip exactly.
func Write(w io.Writer, img *Image) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("invalid image geometry: %dx%d with %d pixels", img.Width, img.Height, len(img.Data))
	}

	var cards []string
	cards = append(cards,
		formatCard("SIMPLE", "T", "conforms to FITS standard"),
		formatCard("BITPIX", "-64", "IEEE double precision"),
		formatCard("NAXIS", "2", ""),
		formatCard("NAXIS1", strconv.Itoa(img.Width), ""),
		formatCard("NAXIS2", strconv.Itoa(img.Height), ""),
	)
	if img.Header != nil {
		for _, c := range img.Header.Cards() {
			if structuralKeywords[c.Keyword] {
				continue
			}
			cards = append(cards, formatCard(c.Keyword, encodeValue(c.Value), c.Comment))
		}
	}
	cards = append(cards, padRecord("END"))

	var header strings.Builder
	for _, c := range cards {
		header.WriteString(c)
	}
	for header.Len()%blockSize != 0 {
		header.WriteString(strings.Repeat(" ", cardSize))
	}
	if _, err := io.WriteString(w, header.String()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	buf := make([]byte, len(img.Data)*8)
	for i, v := range img.Data {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	if pad := len(buf) % blockSize; pad != 0 {
		buf = append(buf, make([]byte, blockSize-pad)...)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing pixels: %w", err)
	}
	return nil
}

// encodeValue quotes a card value when it is not a number or FITS logical.
func encodeValue(v string) string {
	if v == "T" || v == "F" {
		return v
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// formatCard renders one 80-byte "KEYWORD = value / comment" record.
func formatCard(keyword, value, comment string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s= ", strings.ToUpper(keyword))
	if strings.HasPrefix(value, "'") {
		b.WriteString(value)
	} else {
		fmt.Fprintf(&b, "%20s", value)
	}
	if comment != "" {
		b.WriteString(" / ")
		b.WriteString(comment)
	}
	return padRecord(b.String())
}

// padRecord pads or truncates a record to exactly 80 bytes.
func padRecord(s string) string {
	if len(s) >= cardSize {
		return s[:cardSize]
	}
	return s + strings.Repeat(" ", cardSize-len(s))
}
