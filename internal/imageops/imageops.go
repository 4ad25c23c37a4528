// Package imageops provides the 2-D neighborhood operations behind defect
// masking and cosmic-ray rejection: box median filters, Laplacian edge
// response on a supersampled grid, and block resampling.
package imageops

import (
	"sort"
)

// MedianFilter returns the box-median smoothed copy of a row-major image.
// box must be odd; borders are handled by clamping the window to the image.
func MedianFilter(data []float64, width, height, box int) []float64 {
	if box < 1 || box%2 == 0 {
		panic("imageops: median filter box must be positive and odd")
	}
	half := box / 2
	out := make([]float64, len(data))
	window := make([]float64, 0, box*box)

	for y := 0; y < height; y++ {
		y0, y1 := y-half, y+half
		if y0 < 0 {
			y0 = 0
		}
		if y1 >= height {
			y1 = height - 1
		}
		for x := 0; x < width; x++ {
			x0, x1 := x-half, x+half
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= width {
				x1 = width - 1
			}
			window = window[:0]
			for yy := y0; yy <= y1; yy++ {
				row := yy * width
				for xx := x0; xx <= x1; xx++ {
					window = append(window, data[row+xx])
				}
			}
			out[y*width+x] = medianOf(window)
		}
	}
	return out
}

// medianOf sorts the window in place and returns its median.
func medianOf(w []float64) float64 {
	sort.Float64s(w)
	n := len(w)
	if n%2 == 1 {
		return w[n/2]
	}
	return 0.5 * (w[n/2-1] + w[n/2])
}

// Subsample2x doubles the image resolution by pixel replication. The
// Laplacian cosmic-ray detector operates on this grid so single-pixel hits
// produce a sharp, sign-definite edge response.
func Subsample2x(data []float64, width, height int) []float64 {
	out := make([]float64, 4*width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := data[y*width+x]
			i0 := (2 * y) * (2 * width)
			i1 := (2*y + 1) * (2 * width)
			out[i0+2*x] = v
			out[i0+2*x+1] = v
			out[i1+2*x] = v
			out[i1+2*x+1] = v
		}
	}
	return out
}

// Laplace convolves with the discrete Laplacian kernel
//
//	 0 -1  0
//	-1  4 -1
//	 0 -1  0
//
// and clips negative responses to zero. Borders replicate edge pixels.
func Laplace(data []float64, width, height int) []float64 {
	out := make([]float64, len(data))
	at := func(x, y int) float64 {
		if x < 0 {
			x = 0
		}
		if x >= width {
			x = width - 1
		}
		if y < 0 {
			y = 0
		}
		if y >= height {
			y = height - 1
		}
		return data[y*width+x]
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := 4*at(x, y) - at(x-1, y) - at(x+1, y) - at(x, y-1) - at(x, y+1)
			if v < 0 {
				v = 0
			}
			out[y*width+x] = v
		}
	}
	return out
}

// Rebin2x2 halves the resolution by averaging 2x2 blocks, the inverse of
// Subsample2x. width and height refer to the input image and must be even.
func Rebin2x2(data []float64, width, height int) []float64 {
	ow, oh := width/2, height/2
	out := make([]float64, ow*oh)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			i0 := (2 * y) * width
			i1 := (2*y + 1) * width
			out[y*ow+x] = 0.25 * (data[i0+2*x] + data[i0+2*x+1] + data[i1+2*x] + data[i1+2*x+1])
		}
	}
	return out
}

// GrowMask dilates a binary flag image by one pixel in the 8-connected
// sense, returning the dilated copy.
func GrowMask(mask []uint8, width, height int) []uint8 {
	out := make([]uint8, len(mask))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask[y*width+x] == 0 {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= width {
						continue
					}
					out[yy*width+xx] = 1
				}
			}
		}
	}
	return out
}
