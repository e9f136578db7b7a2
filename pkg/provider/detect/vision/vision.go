// Package vision implements a detect.Provider backed by a vision-capable LLM.
//
// The frame is attached to a single user message and the model is asked, in
// JSON mode, for an object of the form
//
//	{"text": "<all legible text>", "labels": ["person", "door"]}
//
// Replies wrapped in Markdown code fences are tolerated.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/provider/llm"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// DefaultPrompt instructs the model how to describe a frame.
const DefaultPrompt = `You describe camera frames for a narration system.
Reply with a single JSON object and nothing else:
{"text": "<every piece of legible text in the image, in reading order, or an empty string>",
 "labels": ["<short English noun for each distinct visible object, most prominent first>"]}`

const defaultMaxLabels = 10

// ErrNoVision is returned by [New] when the model cannot accept images.
var ErrNoVision = errors.New("vision: model does not support image input")

// Compile-time interface assertion.
var _ detect.Provider = (*Provider)(nil)

// Option is a functional option for configuring the vision Provider.
type Option func(*Provider)

// WithPrompt overrides the system prompt.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithMaxLabels caps the number of labels kept from one reply. Zero disables
// the cap.
func WithMaxLabels(n int) Option {
	return func(p *Provider) { p.maxLabels = n }
}

// Provider asks an LLM to read text and name objects in a frame.
type Provider struct {
	llm       llm.Provider
	prompt    string
	maxLabels int
}

// New wraps model. The model must report vision support.
func New(model llm.Provider, opts ...Option) (*Provider, error) {
	if model == nil {
		return nil, errors.New("vision: llm provider must not be nil")
	}
	if !model.Capabilities().SupportsVision {
		return nil, ErrNoVision
	}
	p := &Provider{llm: model, prompt: DefaultPrompt, maxLabels: defaultMaxLabels}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Detect implements detect.Provider.
func (p *Provider) Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	if len(jpeg) == 0 {
		return types.DetectionResult{}, errors.New("vision: empty frame")
	}
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.prompt,
		Messages: []types.Message{{
			Role:    "user",
			Content: "Describe this frame.",
			Images:  []types.Image{{MIMEType: "image/jpeg", Data: jpeg}},
		}},
		JSONMode: true,
	})
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("vision: complete: %w", err)
	}
	if resp == nil {
		return types.DetectionResult{}, errors.New("vision: empty response")
	}
	res, err := parseReply(resp.Content)
	if err != nil {
		return types.DetectionResult{}, err
	}
	if p.maxLabels > 0 && len(res.Labels) > p.maxLabels {
		res.Labels = res.Labels[:p.maxLabels]
	}
	return res, nil
}

type reply struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

// parseReply decodes the model output, trimming blank labels.
func parseReply(content string) (types.DetectionResult, error) {
	body := stripFences(content)
	if body == "" {
		return types.DetectionResult{}, nil
	}
	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return types.DetectionResult{}, fmt.Errorf("vision: decode reply: %w", err)
	}
	res := types.DetectionResult{Text: strings.TrimSpace(r.Text)}
	for _, l := range r.Labels {
		if l = strings.TrimSpace(l); l != "" {
			res.Labels = append(res.Labels, l)
		}
	}
	return res, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
