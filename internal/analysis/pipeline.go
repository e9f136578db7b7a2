// Package analysis implements one iteration of the frame analysis loop:
// acquire a frame, detect text and objects, translate every detected unit and
// compose the narration sentence.
//
// Every collaborator failure is absorbed here. A missing frame or a failed
// detection ends the cycle without an event; a failed translation keeps the
// original text for that unit only.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphlens/internal/camera"
	"github.com/MrWong99/glyphlens/internal/narration"
	"github.com/MrWong99/glyphlens/internal/observe"
	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/provider/translate"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// maxParallelTranslations bounds concurrent translation calls per cycle.
const maxParallelTranslations = 4

// Outcome classifies how a cycle ended.
type Outcome int

const (
	// OutcomeUnavailable means no frame could be read.
	OutcomeUnavailable Outcome = iota
	// OutcomeNoDetection means the detector failed.
	OutcomeNoDetection
	// OutcomeEmpty means nothing worth narrating was found.
	OutcomeEmpty
	// OutcomeComposed means a narration event was produced.
	OutcomeComposed
)

// String returns the metric label of o.
func (o Outcome) String() string {
	switch o {
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeNoDetection:
		return "no_detection"
	case OutcomeEmpty:
		return "empty"
	case OutcomeComposed:
		return "composed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FrameSource produces frames on demand. [camera.Source] implements it.
type FrameSource interface {
	Acquire(ctx context.Context) (camera.Frame, error)
}

// Config holds the language and wording settings of a Pipeline.
type Config struct {
	// SourceLanguage is the language of detected text (default "en").
	SourceLanguage string

	// TargetLanguage is the narration language (default "es").
	TargetLanguage string

	// ObjectsPhrase introduces the label list (default
	// [narration.DefaultObjectsPhrase]).
	ObjectsPhrase string
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithMetrics sets the metrics recorder (default [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs analysis cycles. It holds no per-cycle state and is safe for
// concurrent use.
type Pipeline struct {
	src        FrameSource
	detector   detect.Provider
	translator translate.Provider
	cfg        Config
	metrics    *observe.Metrics
	now        func() time.Time
}

// NewPipeline wires the collaborators of one analysis cycle.
func NewPipeline(src FrameSource, detector detect.Provider, translator translate.Provider, cfg Config, opts ...Option) (*Pipeline, error) {
	var errs []error
	if src == nil {
		errs = append(errs, errors.New("frame source must not be nil"))
	}
	if detector == nil {
		errs = append(errs, errors.New("detector must not be nil"))
	}
	if translator == nil {
		errs = append(errs, errors.New("translator must not be nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = "en"
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "es"
	}
	if cfg.ObjectsPhrase == "" {
		cfg.ObjectsPhrase = narration.DefaultObjectsPhrase
	}
	p := &Pipeline{src: src, detector: detector, translator: translator, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Cycle runs detect, translate and compose on one fresh frame. The event is
// non-nil only for OutcomeComposed.
func (p *Pipeline) Cycle(ctx context.Context) (Outcome, *types.NarrationEvent) {
	log := observe.Logger(ctx)

	frame, err := p.src.Acquire(ctx)
	if err != nil {
		log.Debug("frame unavailable, skipping cycle", "err", err)
		return OutcomeUnavailable, nil
	}

	start := time.Now()
	detectCtx, span := observe.StartStage(ctx, observe.SpanDetect, observe.AttrFrameSeq.Int64(int64(frame.Seq)))
	res, err := p.detector.Detect(detectCtx, frame.Data)
	observe.EndSpan(span, err)
	p.metrics.DetectionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "detector", "detection")
		log.Warn("detection failed", "frame_seq", frame.Seq, "err", err)
		return OutcomeNoDetection, nil
	}
	if res.IsEmpty() {
		return OutcomeEmpty, nil
	}

	text, labels := p.translateResult(ctx, res)
	ev, ok := narration.Compose(text, labels, p.cfg.ObjectsPhrase, p.now())
	if !ok {
		return OutcomeEmpty, nil
	}
	return OutcomeComposed, &ev
}

// translateResult translates the text and every label independently and in
// parallel. Order is preserved; a failed unit keeps its original text.
func (p *Pipeline) translateResult(ctx context.Context, res types.DetectionResult) (string, []string) {
	units := make([]string, 0, len(res.Labels)+1)
	units = append(units, strings.TrimSpace(res.Text))
	units = append(units, res.Labels...)

	start := time.Now()
	ctx, span := observe.StartStage(ctx, observe.SpanTranslate, observe.AttrUnits.Int(len(units)))
	defer span.End()
	out := make([]string, len(units))
	var eg errgroup.Group
	eg.SetLimit(maxParallelTranslations)
	for i, unit := range units {
		if strings.TrimSpace(unit) == "" {
			out[i] = unit
			continue
		}
		eg.Go(func() error {
			out[i] = p.translateUnit(ctx, unit)
			return nil
		})
	}
	_ = eg.Wait()
	p.metrics.TranslationDuration.Record(ctx, time.Since(start).Seconds())

	return out[0], out[1:]
}

func (p *Pipeline) translateUnit(ctx context.Context, unit string) string {
	translated, err := p.translator.Translate(ctx, unit, p.cfg.SourceLanguage, p.cfg.TargetLanguage)
	if err != nil || strings.TrimSpace(translated) == "" {
		p.metrics.RecordProviderError(ctx, "translator", "translation")
		observe.Logger(ctx).Warn("translation failed, keeping original", "text", unit, "err", err)
		return unit
	}
	return translated
}
