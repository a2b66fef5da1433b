package tasks

import (
	"fmt"
	"path/filepath"

	"gopkg.in/gographics/imagick.v3/imagick"

	"coadd/internal/clip"
)

// FrameStacks holds the per-channel sample stacks for a loaded session:
// one clip.Stack per RGB channel, sample n of pixel p at index n*P+p.
// The caller owns imagick initialization.
type FrameStacks struct {
	Width, Height uint
	Channels      [3]*clip.Stack
}

// LoadStacks reads every frame into channel-major stacks ready for the
// rejection kernel. All frames must share the dimensions of the first.
func LoadStacks(paths []string) (*FrameStacks, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames to load")
	}

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(paths[0]); err != nil {
		return nil, fmt.Errorf("failed to read first frame: %w", err)
	}
	width := mw.GetImageWidth()
	height := mw.GetImageHeight()
	pixels := int(width * height)
	n := len(paths)

	fs := &FrameStacks{Width: width, Height: height}
	for ch := range fs.Channels {
		fs.Channels[ch] = &clip.Stack{
			Data:   make([]float32, n*pixels),
			Mask:   make([]uint16, n*pixels),
			Images: n,
			Pixels: pixels,
		}
	}

	for i, path := range paths {
		mw.Clear()
		if err := mw.ReadImage(path); err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", path, err)
		}
		if mw.GetImageWidth() != width || mw.GetImageHeight() != height {
			return nil, fmt.Errorf("frame %s is %dx%d, session is %dx%d",
				filepath.Base(path), mw.GetImageWidth(), mw.GetImageHeight(), width, height)
		}

		raw, err := mw.ExportImagePixels(0, 0, width, height, "RGB", imagick.PIXEL_FLOAT)
		if err != nil {
			return nil, fmt.Errorf("failed to export pixels from %s: %w", path, err)
		}

		// Handle both float32 and float64 pixel data
		var floatPixels []float64
		switch v := raw.(type) {
		case []float64:
			floatPixels = v
		case []float32:
			floatPixels = make([]float64, len(v))
			for j, val := range v {
				floatPixels[j] = float64(val)
			}
		default:
			return nil, fmt.Errorf("unexpected pixel type: %T", raw)
		}

		for p := 0; p < pixels; p++ {
			for ch := 0; ch < 3; ch++ {
				fs.Channels[ch].Data[i*pixels+p] = float32(floatPixels[p*3+ch])
			}
		}
	}

	return fs, nil
}

// WriteCombined writes the combined RGB planes as a 16-bit TIFF.
func WriteCombined(output string, width, height uint, planes [3][]float32) error {
	pixels := int(width * height)
	result := make([]float64, pixels*3)
	for p := 0; p < pixels; p++ {
		for ch := 0; ch < 3; ch++ {
			result[p*3+ch] = float64(planes[ch][p])
		}
	}

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(width, height, "RGB", imagick.PIXEL_FLOAT, result); err != nil {
		return fmt.Errorf("failed to create result image: %w", err)
	}
	mw.SetImageFormat("TIFF")
	mw.SetImageDepth(16)

	if err := mw.WriteImage(output); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// FrameSize pings a frame for its dimensions without decoding pixels.
func FrameSize(path string) (width, height uint, err error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.PingImage(path); err != nil {
		return 0, 0, fmt.Errorf("failed to ping %s: %w", path, err)
	}
	return mw.GetImageWidth(), mw.GetImageHeight(), nil
}
