package fits

import (
	"fmt"
	"io"
	"io/fs"

	"github.com/lmarthur/ASTEP/internal/fsutil"
)

// RowReader streams the pixel rows of a FITS image in ascending order, so a
// stack of frames can be combined without holding any full pixel array. Rows
// may be skipped but never revisited.
type RowReader struct {
	f    fs.File
	info *imageInfo
	next int
}

// OpenRows opens a FITS file for row-wise reading. The header is parsed
// eagerly; pixel rows are decoded on demand.
func OpenRows(fsys fsutil.FileSystem, path string) (*RowReader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := readInfo(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := info.validate(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if info.bytesPerPixel() == 0 {
		f.Close()
		return nil, fmt.Errorf("read %s: unsupported BITPIX: %d", path, info.bitpix)
	}
	return &RowReader{f: f, info: info}, nil
}

// Width returns the image width in pixels.
func (r *RowReader) Width() int { return r.info.width }

// Height returns the image height in rows.
func (r *RowReader) Height() int { return r.info.height }

// Header returns the parsed header.
func (r *RowReader) Header() *Header { return r.info.header }

// ReadRows decodes rows [y0, y1) into dst, which must hold exactly
// (y1-y0)*Width() values. y0 must not precede rows already read; gaps are
// skipped without decoding.
func (r *RowReader) ReadRows(y0, y1 int, dst []float64) error {
	if y0 < r.next || y0 > y1 || y1 > r.info.height {
		return fmt.Errorf("fits: row range [%d,%d) not readable (next row %d, height %d)",
			y0, y1, r.next, r.info.height)
	}
	if len(dst) != (y1-y0)*r.info.width {
		return fmt.Errorf("fits: destination holds %d values, want %d", len(dst), (y1-y0)*r.info.width)
	}

	if skip := y0 - r.next; skip > 0 {
		n := int64(skip) * int64(r.info.width) * int64(r.info.bytesPerPixel())
		if _, err := io.CopyN(io.Discard, r.f, n); err != nil {
			return fmt.Errorf("skipping %d rows: %w", skip, err)
		}
	}
	if err := r.info.decodePixels(r.f, dst); err != nil {
		return err
	}
	r.next = y1
	return nil
}

// Close releases the underlying file.
func (r *RowReader) Close() error { return r.f.Close() }
