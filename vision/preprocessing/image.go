package preprocessing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"

	// Register decoders for every format a dataset folder may hold.
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/tsawler/go-srgan/tensor"
)

// Extensions lists the file extensions DecodeFile can read.
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}

// Decode reads any registered image format and converts it to RGBA.
func Decode(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return ToRGBA(img), nil
}

// DecodeFile decodes the image stored at path.
func DecodeFile(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ToRGBA returns img as an RGBA image anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Resize scales img to width x height with Catmull-Rom interpolation.
func Resize(img image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

// SaveJPEG writes img to path, creating parent directories.
func SaveJPEG(path string, img image.Image, quality int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// FromImages stacks equally sized images into a (N, H, W, 3) tensor of RGB
// values in [0, 255]. Alpha is dropped.
func FromImages(imgs []*image.RGBA) (*tensor.Tensor, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("no images")
	}
	b := imgs[0].Bounds()
	w, h := b.Dx(), b.Dy()
	out, err := tensor.Zeros([]int{len(imgs), h, w, 3})
	if err != nil {
		return nil, err
	}
	for n, img := range imgs {
		ib := img.Bounds()
		if ib.Dx() != w || ib.Dy() != h {
			return nil, fmt.Errorf("image %d is %dx%d, want %dx%d: %w", n, ib.Dx(), ib.Dy(), w, h, tensor.ErrShapeMismatch)
		}
		base := n * h * w * 3
		for y := 0; y < h; y++ {
			row := img.Pix[img.PixOffset(ib.Min.X, ib.Min.Y+y):]
			for x := 0; x < w; x++ {
				o := base + (y*w+x)*3
				out.Data[o] = float32(row[x*4])
				out.Data[o+1] = float32(row[x*4+1])
				out.Data[o+2] = float32(row[x*4+2])
			}
		}
	}
	return out, nil
}

// ToImages converts a (N, H, W, 3) tensor of values in [0, 255] to opaque
// RGBA images, rounding to the nearest integer and saturating out-of-range
// values.
func ToImages(x *tensor.Tensor) ([]*image.RGBA, error) {
	if x.Rank() != 4 || x.Shape[3] != 3 {
		return nil, fmt.Errorf("expected [N H W 3], got %v: %w", x.Shape, tensor.ErrShapeMismatch)
	}
	n, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	imgs := make([]*image.RGBA, n)
	for i := range imgs {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		base := i * h * w * 3
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				o := base + (y*w+xx)*3
				img.SetRGBA(xx, y, color.RGBA{
					R: toUint8(x.Data[o]),
					G: toUint8(x.Data[o+1]),
					B: toUint8(x.Data[o+2]),
					A: 255,
				})
			}
		}
		imgs[i] = img
	}
	return imgs, nil
}

func toUint8(v float32) uint8 {
	r := math.Round(float64(v))
	switch {
	case r != r || r <= 0:
		return 0
	case r >= 255:
		return 255
	default:
		return uint8(r)
	}
}
