package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"

	_ "golang.org/x/image/webp" // registers the webp decoder with image.Decode
)

// Quality used for lossy encoders
const Quality = 90

// FitBox scales srcW x srcH to fit inside boxW x boxH keeping the aspect ratio.
// The smaller of the two axis ratios wins, so one side always lands on its bound
// and neither side exceeds it.
func FitBox(srcW, srcH, boxW, boxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || boxW <= 0 || boxH <= 0 {
		return 0, 0
	}

	ratio := math.Min(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))

	w := int(math.Round(float64(srcW) * ratio))
	h := int(math.Round(float64(srcH) * ratio))

	w = min(max(w, 1), boxW)
	h = min(max(h, 1), boxH)
	return w, h
}

// Decode reads an image, applying EXIF orientation for JPEGs.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Resize contain-fits img into size using a Lanczos filter.
func Resize(img image.Image, size Size) *image.NRGBA {
	b := img.Bounds()
	w, h := FitBox(b.Dx(), b.Dy(), size.Width, size.Height)
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// Encode writes img in the format implied by ext. Unknown extensions become JPEG.
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".png":
		return imaging.Encode(w, img, imaging.PNG)
	case ".gif":
		return imaging.Encode(w, img, imaging.GIF)
	case ".bmp":
		return imaging.Encode(w, img, imaging.BMP)
	case ".webp":
		options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, Quality)
		if err != nil {
			return fmt.Errorf("webp options: %w", err)
		}
		return webp.Encode(w, img, options)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(Quality))
	}
}
