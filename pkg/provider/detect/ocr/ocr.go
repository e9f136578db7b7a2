// Package ocr implements a detect.Provider that recognises printed text in a
// frame with Tesseract.
//
// Frames are converted to grayscale, upscaled and adaptively thresholded with
// OpenCV before they reach Tesseract. A single Tesseract client is reused for
// all calls and guarded by a mutex, since the engine is not safe for
// concurrent use.
package ocr

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/types"
)

const (
	defaultLanguage = "eng"
	upscaleFactor   = 1.5
	maxDimension    = 2048
)

// Compile-time interface assertion.
var _ detect.Provider = (*Provider)(nil)

// Option is a functional option for configuring the OCR Provider.
type Option func(*Provider)

// WithLanguages sets the Tesseract language packs, e.g. "eng" or "eng+spa".
func WithLanguages(langs ...string) Option {
	return func(p *Provider) { p.languages = langs }
}

// WithMinConfidence drops results whose average word confidence (0..1) is
// below min. Zero keeps everything.
func WithMinConfidence(min float64) Option {
	return func(p *Provider) { p.minConfidence = min }
}

// Provider runs Tesseract OCR on camera frames.
type Provider struct {
	languages     []string
	minConfidence float64

	mu     sync.Mutex
	client *gosseract.Client
}

// New creates an OCR provider with its own Tesseract client.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{languages: []string{defaultLanguage}}
	for _, o := range opts {
		o(p)
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(p.languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set page segmentation mode: %w", err)
	}
	p.client = client
	return p, nil
}

// Detect implements detect.Provider. Only Text is populated.
func (p *Provider) Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return types.DetectionResult{}, err
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("ocr: decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return types.DetectionResult{}, fmt.Errorf("ocr: decode frame: empty image")
	}

	processed := preprocess(img)
	defer processed.Close()

	buf, err := gocv.IMEncode(".png", processed)
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("ocr: encode frame: %w", err)
	}
	defer buf.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return types.DetectionResult{}, fmt.Errorf("ocr: provider closed")
	}

	if err := p.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return types.DetectionResult{}, fmt.Errorf("ocr: set image: %w", err)
	}
	text, err := p.client.Text()
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("ocr: extract text: %w", err)
	}

	if p.minConfidence > 0 {
		// Missing boxes leave the text unfiltered.
		if boxes, err := p.client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil {
			conf := make([]float64, len(boxes))
			for i, b := range boxes {
				conf[i] = b.Confidence
			}
			if avg, ok := averageConfidence(conf); ok && avg < p.minConfidence {
				return types.DetectionResult{}, nil
			}
		}
	}

	return types.DetectionResult{Text: cleanText(text)}, nil
}

// Close releases the Tesseract client. Safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// preprocess returns a grayscale, upscaled, thresholded copy of src. The caller
// owns the returned Mat.
func preprocess(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	size := gray.Size()
	w, h := scaledSize(size[1], size[0])
	gocv.Resize(gray, &resized, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationLinear)

	out := gocv.NewMat()
	gocv.AdaptiveThreshold(resized, &out, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, 11, 2)
	return out
}

// scaledSize upscales width x height by 1.5, shrinking the factor so that
// neither side exceeds maxDimension.
func scaledSize(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	factor := upscaleFactor
	if float64(width)*factor > maxDimension || float64(height)*factor > maxDimension {
		factor = math.Min(float64(maxDimension)/float64(width), float64(maxDimension)/float64(height))
	}
	return int(float64(width) * factor), int(float64(height) * factor)
}

// averageConfidence averages the positive Tesseract word confidences (0..100)
// and returns the result on a 0..1 scale. ok is false when no word carried a
// confidence.
func averageConfidence(conf []float64) (avg float64, ok bool) {
	var total float64
	var n int
	for _, c := range conf {
		if c > 0 {
			total += c
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n) / 100, true
}

// cleanText trims every line, drops empty ones and joins the rest with a
// single space so the result reads as one sentence.
func cleanText(raw string) string {
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		if f := strings.Join(strings.Fields(line), " "); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}
