package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"testing"

	"golang.org/x/image/draw"
)

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// noisyTestImage builds an image with enough structure that perceptual
// hashes are meaningful (uniform fills hash to degenerate values).
func noisyTestImage(t *testing.T, w, h int, seed int64) image.Image {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(rng.Intn(256))
			img.Set(x, y, color.RGBA{v, uint8(x * 255 / w), uint8(y * 255 / h), 255})
		}
	}
	return img
}

func TestComputeDeterministic(t *testing.T) {
	data := encodeJPEG(t, noisyTestImage(t, 120, 80, 1))

	first, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	second, err := Compute(data)
	if err != nil {
		t.Fatalf("second Compute failed: %v", err)
	}

	if first.ContentHash != second.ContentHash {
		t.Errorf("content hash not deterministic: %s vs %s", first.ContentHash, second.ContentHash)
	}
	if first.PHash != second.PHash {
		t.Errorf("pHash not deterministic")
	}
	if first.DHash != second.DHash {
		t.Errorf("dHash not deterministic")
	}
	if len(first.ContentHash) != 32 {
		t.Errorf("content hash length = %d; want 32 hex chars", len(first.ContentHash))
	}
}

func TestComputeDifferentImages(t *testing.T) {
	a, err := Compute(encodeJPEG(t, noisyTestImage(t, 100, 100, 1)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compute(encodeJPEG(t, noisyTestImage(t, 100, 100, 99)))
	if err != nil {
		t.Fatal(err)
	}

	if a.ContentHash == b.ContentHash {
		t.Error("different images share a content hash")
	}
	if a.PHash.Distance(b.PHash) == 0 {
		t.Error("different noisy images share an identical pHash")
	}
}

func TestComputeResizedImageStaysSimilar(t *testing.T) {
	src := noisyTestImage(t, 256, 256, 7)

	// Downscale to simulate a recompressed copy of the same photo.
	small := image.NewRGBA(image.Rect(0, 0, 128, 128))
	draw.BiLinear.Scale(small, small.Bounds(), src, src.Bounds(), draw.Over, nil)

	orig, err := Compute(encodeJPEG(t, src))
	if err != nil {
		t.Fatal(err)
	}
	resized, err := Compute(encodeJPEG(t, small))
	if err != nil {
		t.Fatal(err)
	}

	if orig.ContentHash == resized.ContentHash {
		t.Error("resized copy should not be byte-identical")
	}

	// A scaled copy of the same image must stay well within the loose
	// matching threshold on the DCT hash.
	if d := orig.PHash.Distance(resized.PHash); d > 32 {
		t.Errorf("pHash distance after resize = %d; want <= 32", d)
	}
}

func TestComputeUndecodable(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated jpeg", []byte{0xFF, 0xD8, 0xFF}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(tc.data)
			if err == nil {
				t.Fatal("Compute succeeded on undecodable input")
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("error type = %T; want *DecodeError", err)
			}
		})
	}
}

func TestResultHashByKind(t *testing.T) {
	r := &Result{PHash: Hash256{1, 0, 0, 0}, DHash: Hash256{2, 0, 0, 0}}
	if r.Hash(KindPHash) != r.PHash {
		t.Error("Hash(KindPHash) did not return the pHash")
	}
	if r.Hash(KindDHash) != r.DHash {
		t.Error("Hash(KindDHash) did not return the dHash")
	}
}
