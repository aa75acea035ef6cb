package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/tsawler/go-srgan/tensor"
)

// createGradientImage creates a simple colored image for testing.
func createGradientImage(width, height int, base color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			factor := float64(x+y) / float64(width+height)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(float64(base.R) * factor),
				G: uint8(float64(base.G) * factor),
				B: uint8(float64(base.B) * factor),
				A: 255,
			})
		}
	}
	return img
}

func TestPreprocessRanges(t *testing.T) {
	x, err := tensor.NewTensor([]int{1, 1, 1, 3}, []float32{0, 127.5, 255})
	require.NoError(t, err)

	require.Equal(t, []float32{-1, 0, 1}, PreprocessHR(x).Data)
	require.Equal(t, []float32{0, 0.5, 1}, PreprocessLR(x).Data)
	// Inputs are never modified in place.
	require.Equal(t, []float32{0, 127.5, 255}, x.Data)
}

func TestPreprocessDeprocessRoundTrip(t *testing.T) {
	x, err := tensor.RandomUniform([]int{2, 4, 4, 3}, 0, 255, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.InDeltaSlice(t, x.Data, DeprocessHR(PreprocessHR(x)).Data, 1e-3)
	require.InDeltaSlice(t, x.Data, DeprocessLR(PreprocessLR(x)).Data, 1e-3)
}

func TestDeprocessLRClips(t *testing.T) {
	x, err := tensor.NewTensor([]int{1, 1, 1, 3}, []float32{-0.5, 0.5, 1.5})
	require.NoError(t, err)
	require.Equal(t, []float32{0, 127.5, 255}, DeprocessLR(x).Data)

	// The HR path is a pure affine map.
	hr, err := tensor.NewTensor([]int{1, 1, 1, 1}, []float32{1.5})
	require.NoError(t, err)
	require.InDelta(t, 318.75, DeprocessHR(hr).Data[0], 1e-4)
}

func TestImagesTensorRoundTrip(t *testing.T) {
	imgs := []*image.RGBA{
		createGradientImage(5, 3, color.RGBA{255, 128, 64, 255}),
		createGradientImage(5, 3, color.RGBA{10, 200, 30, 255}),
	}
	x, err := FromImages(imgs)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 5, 3}, x.Shape)

	back, err := ToImages(x)
	require.NoError(t, err)
	for i := range imgs {
		require.Equal(t, imgs[i].Pix, back[i].Pix)
	}

	// Through both normalisations, every uint8 value survives.
	hr, err := ToImages(DeprocessHR(PreprocessHR(x)))
	require.NoError(t, err)
	require.Equal(t, imgs[0].Pix, hr[0].Pix)
}

func TestToImagesRoundsAndSaturates(t *testing.T) {
	x, err := tensor.NewTensor([]int{1, 1, 2, 3}, []float32{-20, 254.6, 300, 0.4, 0.5, 127.49})
	require.NoError(t, err)
	imgs, err := ToImages(x)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{0, 255, 255, 255}, imgs[0].RGBAAt(0, 0))
	require.Equal(t, color.RGBA{0, 1, 127, 255}, imgs[0].RGBAAt(1, 0))

	_, err = ToImages(tensor.Scalar(1))
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestFromImagesRejectsMixedSizes(t *testing.T) {
	_, err := FromImages([]*image.RGBA{
		createGradientImage(4, 4, color.RGBA{1, 2, 3, 255}),
		createGradientImage(4, 5, color.RGBA{1, 2, 3, 255}),
	})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = FromImages(nil)
	require.Error(t, err)
}

func TestFromImagesSubImage(t *testing.T) {
	img := createGradientImage(8, 8, color.RGBA{200, 100, 50, 255})
	sub := img.SubImage(image.Rect(2, 3, 6, 7)).(*image.RGBA)
	x, err := FromImages([]*image.RGBA{sub})
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 4, 3}, x.Shape)
	want := img.RGBAAt(2, 3)
	require.Equal(t, float32(want.R), x.Data[0])
}

func TestDecodeFormats(t *testing.T) {
	src := createGradientImage(6, 4, color.RGBA{90, 180, 240, 255})
	dir := t.TempDir()

	var pngBuf, bmpBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, src))
	require.NoError(t, bmp.Encode(&bmpBuf, src))
	files := map[string][]byte{"a.png": pngBuf.Bytes(), "b.bmp": bmpBuf.Bytes()}

	for name, data := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		img, err := DecodeFile(path)
		require.NoError(t, err, name)
		require.Equal(t, src.Pix, img.Pix, name)
	}

	_, err := Decode(bytes.NewReader([]byte("definitely not an image")))
	require.Error(t, err)
}

func TestResizeAndSaveJPEG(t *testing.T) {
	src := createGradientImage(16, 16, color.RGBA{255, 255, 255, 255})
	small := Resize(src, 4, 4)
	require.Equal(t, image.Rect(0, 0, 4, 4), small.Bounds())

	path := filepath.Join(t.TempDir(), "nested", "out.jpg")
	require.NoError(t, SaveJPEG(path, small, 90))
	img, err := DecodeFile(path)
	require.NoError(t, err)
	require.Equal(t, 4, img.Bounds().Dx())
}
