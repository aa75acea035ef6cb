package dataset

import (
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"math/rand"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-srgan/tensor"
	"github.com/tsawler/go-srgan/vision/preprocessing"
)

// FolderConfig configures a FolderManager.
type FolderConfig struct {
	// Root is searched recursively for images with a known extension.
	Root string
	// HRSize is the side of the square HR crops.
	HRSize int
	// Scale is the HR/LR ratio.
	Scale int
	// TestSplit is the fraction of images held out for testing.
	TestSplit float64
	// CacheSize is the number of decoded images kept in memory; 0 disables
	// caching.
	CacheSize int
	// Workers bounds concurrent decodes; 0 uses GOMAXPROCS.
	Workers int
	Seed    int64
}

// FolderManager serves random HR crops from an image folder and their
// downscaled LR counterparts. Training batches are sampled with replacement
// and randomly cropped and flipped. Testing batches are the first images of
// the held-out split, center cropped, so repeated calls return the same data.
type FolderManager struct {
	config FolderConfig
	train  []string
	test   []string
	cache  *ImageCache

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFolderManager lists the images under config.Dir and splits them into
// training and testing sets.
func NewFolderManager(config FolderConfig) (*FolderManager, error) {
	if err := checkSizes(config.HRSize, config.Scale); err != nil {
		return nil, err
	}
	if config.TestSplit < 0 || config.TestSplit >= 1 {
		return nil, fmt.Errorf("test split must be in [0, 1), got %g", config.TestSplit)
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}

	paths, err := listImages(config.Root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", config.Root)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	rng.Shuffle(len(paths), func(i, j int) {
		paths[i], paths[j] = paths[j], paths[i]
	})

	m := &FolderManager{config: config, rng: rng}
	testSize := int(float64(len(paths)) * config.TestSplit)
	if testSize == 0 && config.TestSplit > 0 && len(paths) > 1 {
		testSize = 1
	}
	m.test = paths[:testSize]
	m.train = paths[testSize:]
	if len(m.test) == 0 {
		m.test = m.train
	}
	if config.CacheSize > 0 {
		m.cache = NewImageCache(config.CacheSize)
	}

	slog.Debug("image folder loaded", "root", config.Root, "train", len(m.train), "test", len(m.test))
	return m, nil
}

func listImages(root string) ([]string, error) {
	known := make(map[string]bool, len(preprocessing.Extensions))
	for _, ext := range preprocessing.Extensions {
		known[ext] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && known[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Len returns the number of training and testing images.
func (m *FolderManager) Len() (train, test int) {
	return len(m.train), len(m.test)
}

// CacheStats reports the decoded-image cache, or the zero value when caching
// is disabled.
func (m *FolderManager) CacheStats() CacheStats {
	if m.cache == nil {
		return CacheStats{}
	}
	return m.cache.Stats()
}

// cropPlan fixes the random choices for one sample before decoding starts,
// so concurrent workers never touch the shared rng.
type cropPlan struct {
	path   string
	fx, fy float64
	flip   bool
}

func (m *FolderManager) plan(batchSize int, isTesting bool) []cropPlan {
	plans := make([]cropPlan, batchSize)
	if isTesting {
		for i := range plans {
			plans[i] = cropPlan{path: m.test[i%len(m.test)], fx: 0.5, fy: 0.5}
		}
		return plans
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range plans {
		plans[i] = cropPlan{
			path: m.train[m.rng.Intn(len(m.train))],
			fx:   m.rng.Float64(),
			fy:   m.rng.Float64(),
			flip: m.rng.Intn(2) == 1,
		}
	}
	return plans
}

// LoadData returns an (HR, LR) pair of uint8-range batches. Training batches
// are random crops; testing batches are deterministic.
func (m *FolderManager) LoadData(batchSize int, isTesting bool) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := checkBatch(batchSize); err != nil {
		return nil, nil, err
	}
	plans := m.plan(batchSize, isTesting)
	hrImgs := make([]*image.RGBA, batchSize)
	lrImgs := make([]*image.RGBA, batchSize)
	lrSize := m.config.HRSize / m.config.Scale

	var g errgroup.Group
	g.SetLimit(m.config.Workers)
	for i, p := range plans {
		i, p := i, p
		g.Go(func() error {
			img, err := m.decode(p.path)
			if err != nil {
				return err
			}
			hr := crop(img, m.config.HRSize, p)
			hrImgs[i] = hr
			lrImgs[i] = preprocessing.Resize(hr, lrSize, lrSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	hr, err := preprocessing.FromImages(hrImgs)
	if err != nil {
		return nil, nil, err
	}
	lr, err := preprocessing.FromImages(lrImgs)
	if err != nil {
		return nil, nil, err
	}
	return hr, lr, nil
}

func (m *FolderManager) decode(path string) (*image.RGBA, error) {
	if m.cache != nil {
		if img, ok := m.cache.Get(path); ok {
			return img, nil
		}
	}
	img, err := preprocessing.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Put(path, img)
	}
	return img, nil
}

// crop cuts a size x size square out of img at the planned offset, first
// upscaling images whose shorter side is below size. The source image is
// never modified.
func crop(img *image.RGBA, size int, p cropPlan) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < size || h < size {
		short := min(w, h)
		w = (w*size + short - 1) / short
		h = (h*size + short - 1) / short
		img = preprocessing.Resize(img, w, h)
		b = img.Bounds()
	}

	x0 := b.Min.X + int(p.fx*float64(w-size+1))
	y0 := b.Min.Y + int(p.fy*float64(h-size+1))
	x0 = min(x0, b.Max.X-size)
	y0 = min(y0, b.Max.Y-size)

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), img, image.Pt(x0, y0), draw.Src)
	if p.flip {
		flipHorizontal(out)
	}
	return out
}

func flipHorizontal(img *image.RGBA) {
	w := img.Bounds().Dx()
	for y := 0; y < img.Bounds().Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			for c := 0; c < 4; c++ {
				row[l*4+c], row[r*4+c] = row[r*4+c], row[l*4+c]
			}
		}
	}
}
