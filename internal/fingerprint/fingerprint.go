// Package fingerprint computes content and perceptual fingerprints for
// images. The content hash matches only byte-identical files; the two
// perceptual hashes (a DCT pHash and a gradient dHash) are compared by
// Hamming distance and survive resizing and recompression.
package fingerprint

import (
	"bytes"
	"crypto/md5" //nolint:gosec // fingerprint for duplicate detection, not security
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// pHash geometry: decode at 4x the grid, keep the low-frequency grid.
const (
	hashGrid  = 16       // 16x16 bits = 256-bit fingerprints
	pHashSize = hashGrid * 4
)

// DecodeError indicates the input bytes are not a decodable image. Callers
// skip the item for the current run and retry on the next one.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("image decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Result contains all fingerprints computed for one image.
type Result struct {
	ContentHash string  `json:"content_hash"` // md5 of the raw bytes, hex
	PHash       Hash256 `json:"-"`
	DHash       Hash256 `json:"-"`
}

// Hash returns the perceptual fingerprint of the given kind.
func (r *Result) Hash(kind Kind) Hash256 {
	if kind == KindDHash {
		return r.DHash
	}
	return r.PHash
}

// Compute fingerprints an image. Deterministic: identical bytes always
// produce identical results. Returns *DecodeError if the bytes cannot be
// decoded as an image.
func Compute(imageData []byte) (*Result, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &Result{
		ContentHash: fmt.Sprintf("%x", md5.Sum(imageData)), //nolint:gosec
		PHash:       computePHash(img),
		DHash:       computeDHash(img),
	}, nil
}

// computePHash computes a 256-bit perceptual hash using DCT.
func computePHash(img image.Image) Hash256 {
	// 1. Resize to 64x64 and convert to grayscale
	gray := toGrayscale(resizeImage(img, pHashSize, pHashSize))

	// 2. 2D DCT, row-column decomposition
	dct := computeDCT(gray)

	// 3. Keep the top-left 16x16 low-frequency block
	lowFreq := make([]float64, 0, hashGrid*hashGrid)
	for u := 0; u < hashGrid; u++ {
		for v := 0; v < hashGrid; v++ {
			lowFreq = append(lowFreq, dct[u][v])
		}
	}

	// 4. One bit per coefficient: 1 if above the block median
	median := computeMedian(lowFreq)
	var hash Hash256
	for i, v := range lowFreq {
		if v > median {
			hash.SetBit(i)
		}
	}

	return hash
}

// computeDHash computes a 256-bit difference hash.
func computeDHash(img image.Image) Hash256 {
	// 17 columns give 16 horizontal differences per row
	gray := toGrayscale(resizeImage(img, hashGrid+1, hashGrid))

	var hash Hash256
	bit := 0
	for y := 0; y < hashGrid; y++ {
		for x := 0; x < hashGrid; x++ {
			if gray[x][y] > gray[x+1][y] {
				hash.SetBit(bit)
			}
			bit++
		}
	}

	return hash
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255),
// indexed as gray[x][y].
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := 0; x < width; x++ {
		gray[x] = make([]float64, height)
		for y := 0; y < height; y++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}

	return gray
}

// computeDCT computes the 2D DCT-II of a square grayscale image using the
// separable row-column method.
func computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)

	// Precompute cosine values.
	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := 0; j < size; j++ {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	// Rows: transform along y for every x.
	rows := make([][]float64, size)
	for x := 0; x < size; x++ {
		rows[x] = make([]float64, size)
		for v := 0; v < size; v++ {
			var sum float64
			for y := 0; y < size; y++ {
				sum += gray[x][y] * cosTable[v][y]
			}
			rows[x][v] = sum
		}
	}

	// Columns: transform along x for every v.
	dct := make([][]float64, size)
	for u := 0; u < size; u++ {
		dct[u] = make([]float64, size)
		for v := 0; v < size; v++ {
			var sum float64
			for x := 0; x < size; x++ {
				sum += rows[x][v] * cosTable[u][x]
			}
			dct[u][v] = sum
		}
	}

	return dct
}

// computeMedian returns the median value from a slice.
func computeMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
