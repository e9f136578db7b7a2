// Package yolo implements a detect.Provider that labels objects in a frame
// with a Darknet YOLO model loaded through the OpenCV DNN module.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/types"
)

const (
	defaultInputSize     = 416
	defaultMinConfidence = 0.5

	// Columns 0..4 of a YOLO output row are cx, cy, w, h and objectness.
	firstScoreColumn = 5
)

// Compile-time interface assertion.
var _ detect.Provider = (*Provider)(nil)

// Option is a functional option for configuring the YOLO Provider.
type Option func(*Provider)

// WithMinConfidence sets the class score below which detections are ignored.
func WithMinConfidence(min float64) Option {
	return func(p *Provider) { p.minConfidence = min }
}

// WithInputSize sets the square network input size in pixels (default 416).
func WithInputSize(size int) Option {
	return func(p *Provider) { p.inputSize = size }
}

// Provider runs a YOLO network over camera frames and reports the class names
// of everything it finds.
type Provider struct {
	minConfidence float64
	inputSize     int
	classNames    []string

	mu        sync.Mutex
	net       gocv.Net
	outLayers []string
	closed    bool
}

// New loads the network from weightsPath/configPath and the class list from
// namesPath (one class name per line).
func New(weightsPath, configPath, namesPath string, opts ...Option) (*Provider, error) {
	raw, err := os.ReadFile(namesPath)
	if err != nil {
		return nil, fmt.Errorf("yolo: read class names: %w", err)
	}
	names := parseClassNames(string(raw))
	if len(names) == 0 {
		return nil, fmt.Errorf("yolo: class names file %q is empty", namesPath)
	}

	p := &Provider{
		minConfidence: defaultMinConfidence,
		inputSize:     defaultInputSize,
		classNames:    names,
	}
	for _, o := range opts {
		o(p)
	}
	if p.inputSize <= 0 {
		return nil, errors.New("yolo: input size must be positive")
	}

	net := gocv.ReadNet(weightsPath, configPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("yolo: load network from %q / %q", weightsPath, configPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("yolo: set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("yolo: set target: %w", err)
	}
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		p.outLayers = append(p.outLayers, layer.GetName())
		layer.Close()
	}
	p.net = net
	return p, nil
}

// Detect implements detect.Provider. Only Labels is populated; every class is
// reported once, in order of first appearance.
func (p *Provider) Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return types.DetectionResult{}, err
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("yolo: decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return types.DetectionResult{}, errors.New("yolo: decode frame: empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(p.inputSize, p.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.DetectionResult{}, errors.New("yolo: provider closed")
	}
	p.net.SetInput(blob, "")
	outputs := p.net.ForwardLayers(p.outLayers)
	p.mu.Unlock()

	var cands []candidate
	for _, out := range outputs {
		cands = append(cands, bestClasses(out)...)
		out.Close()
	}

	return types.DetectionResult{Labels: uniqueLabels(cands, p.classNames, p.minConfidence)}, nil
}

// Close releases the network. Safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.net.Close()
}

// candidate is the best-scoring class of one output row.
type candidate struct {
	classID    int
	confidence float64
}

func bestClasses(out gocv.Mat) []candidate {
	if out.Cols() <= firstScoreColumn {
		return nil
	}
	cands := make([]candidate, 0, out.Rows())
	for i := 0; i < out.Rows(); i++ {
		row := out.RowRange(i, i+1)
		scores := row.ColRange(firstScoreColumn, row.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
		scores.Close()
		row.Close()
		cands = append(cands, candidate{classID: maxLoc.X, confidence: float64(maxVal)})
	}
	return cands
}

// uniqueLabels maps candidates at or above minConfidence to class names,
// keeping the first occurrence of each name.
func uniqueLabels(cands []candidate, names []string, minConfidence float64) []string {
	var labels []string
	seen := make(map[string]struct{})
	for _, c := range cands {
		if c.confidence < minConfidence || c.classID < 0 || c.classID >= len(names) {
			continue
		}
		name := names[c.classID]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		labels = append(labels, name)
	}
	return labels
}

// parseClassNames splits a names file into trimmed class names. Blank lines
// are only dropped at the end of the file so that class ids stay aligned.
func parseClassNames(raw string) []string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
