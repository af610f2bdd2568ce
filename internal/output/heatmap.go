package output

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/HugoSmits86/nativewebp"

	"github.com/aurelle-dev/threadlens/internal/dataset"
	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

const maxUpscale = 4

// Heatmap rasterizes final scores onto a fixed-color WebP image whose
// alpha channel encodes blurred per-cell score mass. The grid always
// spans the bounds of the whole dataset, not just the surviving rows,
// so images for different queries over one dataset line up.
type Heatmap struct {
	// Density is the number of grid cells per unit of map space.
	Density float64  `json:"density"`
	Color   [3]uint8 `json:"color"`
	// AlphaScale multiplies blurred cell values before they are clamped
	// into [0, 1] alpha. Defaults to 1.
	AlphaScale *float64 `json:"alpha_scale,omitempty"`
	// Sigma is the integer gaussian blur radius parameter. Fractional
	// blur is achieved by raising Upscale instead. Defaults to 1.
	Sigma *int `json:"sigma,omitempty"`
	// Upscale repeats each cell into an NxN pixel block before blurring,
	// which keeps the blurred edges smooth. Defaults to 1, max 4.
	Upscale *int `json:"upscale,omitempty"`
}

func (o *Heatmap) alphaScale() float64 {
	if o.AlphaScale == nil {
		return 1
	}
	return *o.AlphaScale
}

func (o *Heatmap) sigma() int {
	if o.Sigma == nil {
		return 1
	}
	return *o.Sigma
}

func (o *Heatmap) upscale() int {
	if o.Upscale == nil {
		return 1
	}
	return *o.Upscale
}

func (o *Heatmap) validate() error {
	if o.Density <= 0 {
		return fmt.Errorf("%w: heatmap.density must be > 0", domain.ErrInvalidRequest)
	}
	if o.AlphaScale != nil && *o.AlphaScale < 0 {
		return fmt.Errorf("%w: heatmap.alpha_scale must be >= 0", domain.ErrInvalidRequest)
	}
	if o.Sigma != nil && *o.Sigma < 0 {
		return fmt.Errorf("%w: heatmap.sigma must be >= 0", domain.ErrInvalidRequest)
	}
	if o.Upscale != nil && (*o.Upscale < 1 || *o.Upscale > maxUpscale) {
		return fmt.Errorf("%w: heatmap.upscale must be in [1, %d]", domain.ErrInvalidRequest, maxUpscale)
	}
	return nil
}

func (o *Heatmap) calculate(d *dataset.Dataset, t *table.Table) ([]byte, error) {
	xs, ok := t.Col("x")
	if !ok {
		return nil, domain.NewUnknownColumn("x", "heatmap")
	}
	ys, ok := t.Col("y")
	if !ok {
		return nil, domain.NewUnknownColumn("y", "heatmap")
	}
	scores, ok := t.Col("final_score")
	if !ok {
		return nil, domain.NewUnknownColumn("final_score", "heatmap")
	}

	b := d.Bounds
	gridW := int((b.XMax - b.XMin) * o.Density)
	gridH := int((b.YMax - b.YMin) * o.Density)
	if gridW < 1 || gridH < 1 {
		return nil, fmt.Errorf("%w: heatmap.density %g yields an empty grid", domain.ErrInvalidRequest, o.Density)
	}

	// Cell score mass. Rows landing in the same cell accumulate.
	grid := make([]float32, gridH*gridW)
	for i := 0; i < t.Len(); i++ {
		gx := cellIndex(xs.Float64At(i), b.XMin, o.Density, gridW)
		gy := cellIndex(ys.Float64At(i), b.YMin, o.Density, gridH)
		grid[gy*gridW+gx] += float32(scores.Float64At(i))
	}

	up := o.upscale()
	grid, gridW, gridH = upscaleGrid(grid, gridW, gridH, up)
	gaussianBlur(grid, gridW, gridH, o.sigma())

	img := image.NewNRGBA(image.Rect(0, 0, gridW, gridH))
	scale := o.alphaScale()
	for y := 0; y < gridH; y++ {
		for x := 0; x < gridW; x++ {
			a := float64(grid[y*gridW+x]) * scale
			a = math.Min(math.Max(a, 0), 1)
			img.SetNRGBA(x, y, color.NRGBA{
				R: o.Color[0],
				G: o.Color[1],
				B: o.Color[2],
				A: uint8(a * 255),
			})
		}
	}

	var webp bytes.Buffer
	if err := nativewebp.Encode(&webp, img, nil); err != nil {
		return nil, fmt.Errorf("encode heatmap: %w", err)
	}

	out := make([]byte, 4+webp.Len())
	binary.LittleEndian.PutUint32(out, uint32(webp.Len()))
	copy(out[4:], webp.Bytes())
	return out, nil
}

// cellIndex maps a coordinate to its grid cell, clamped into the grid.
// Points can sit outside the recorded bounds after reprojection, so both
// ends clamp rather than error.
func cellIndex(v, min, density float64, n int) int {
	i := int((v - min) * density)
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// upscaleGrid repeats each cell into a factor x factor block.
func upscaleGrid(grid []float32, w, h, factor int) ([]float32, int, int) {
	if factor == 1 {
		return grid, w, h
	}
	uw, uh := w*factor, h*factor
	out := make([]float32, uh*uw)
	for y := 0; y < uh; y++ {
		src := grid[(y/factor)*w:]
		row := out[y*uw:]
		for x := 0; x < uw; x++ {
			row[x] = src[x/factor]
		}
	}
	return out, uw, uh
}

// gaussianBlur applies a separable gaussian filter in place, with a
// truncated kernel (4 sigma) and reflected boundaries.
func gaussianBlur(grid []float32, w, h, sigma int) {
	if sigma == 0 {
		return
	}
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2

	// Horizontal pass.
	tmp := make([]float32, len(grid))
	for y := 0; y < h; y++ {
		row := grid[y*w : (y+1)*w]
		dst := tmp[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				acc += kernel[k+radius] * float64(row[reflect(x+k, w)])
			}
			dst[x] = float32(acc)
		}
	}

	// Vertical pass.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				acc += kernel[k+radius] * float64(tmp[reflect(y+k, h)*w+x])
			}
			grid[y*w+x] = float32(acc)
		}
	}
}

func gaussianKernel(sigma int) []float64 {
	radius := int(4*float64(sigma) + 0.5)
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-0.5 * float64(i*i) / float64(sigma*sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// reflect maps an out-of-range index back into [0, n) by mirroring
// about the array edges.
func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		} else {
			i = 2*n - 1 - i
		}
	}
	return i
}
