// Package llmtranslate implements translate.Provider on top of an LLM.
//
// Each unit of text is sent as one user message with a terse system prompt
// asking for the translation only. Recent translations are cached because the
// same object labels tend to reappear on every analysis cycle.
package llmtranslate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/glyphlens/pkg/provider/llm"
	"github.com/MrWong99/glyphlens/pkg/provider/translate"
	"github.com/MrWong99/glyphlens/pkg/types"
)

const (
	defaultCacheSize = 256
	defaultMaxTokens = 256
)

// ErrEmptyTranslation is returned when the model replies with nothing.
var ErrEmptyTranslation = errors.New("llmtranslate: empty translation")

var languageNames = map[string]string{
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"nl": "Dutch",
	"pt": "Portuguese",
	"ru": "Russian",
	"zh": "Chinese",
}

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithCacheSize sets how many translations are remembered. Zero disables the
// cache.
func WithCacheSize(n int) Option {
	return func(p *Provider) { p.cacheSize = n }
}

// WithTemperature sets the sampling temperature (default 0).
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// Provider translates text with an LLM.
type Provider struct {
	llm         llm.Provider
	cacheSize   int
	temperature float64

	mu    sync.Mutex
	cache map[cacheKey]string
	order []cacheKey
}

type cacheKey struct {
	text, source, target string
}

// New wraps model.
func New(model llm.Provider, opts ...Option) (*Provider, error) {
	if model == nil {
		return nil, errors.New("llmtranslate: llm provider must not be nil")
	}
	p := &Provider{llm: model, cacheSize: defaultCacheSize}
	for _, o := range opts {
		o(p)
	}
	p.cache = make(map[cacheKey]string)
	return p, nil
}

// Translate implements translate.Provider. Blank input is returned as is
// without calling the model.
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" || (source != "" && source == target) {
		return text, nil
	}
	key := cacheKey{text: text, source: source, target: target}
	if out, ok := p.lookup(key); ok {
		return out, nil
	}

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(source, target),
		Messages:     []types.Message{{Role: "user", Content: text}},
		Temperature:  p.temperature,
		MaxTokens:    defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llmtranslate: complete: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyTranslation
	}
	out := cleanReply(resp.Content)
	if out == "" {
		return "", ErrEmptyTranslation
	}
	p.store(key, out)
	return out, nil
}

func (p *Provider) lookup(key cacheKey) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, ok := p.cache[key]
	return out, ok
}

// store inserts key, evicting the oldest entry once the cache is full.
func (p *Provider) store(key cacheKey, value string) {
	if p.cacheSize <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache[key]; ok {
		p.cache[key] = value
		return
	}
	if len(p.order) >= p.cacheSize {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.cache, oldest)
	}
	p.cache[key] = value
	p.order = append(p.order, key)
}

func systemPrompt(source, target string) string {
	from := "the source language"
	if source != "" {
		from = languageName(source)
	}
	return fmt.Sprintf(
		"Translate the user's text from %s to %s. Reply with the translation only, without quotes, notes or explanations. Keep it short.",
		from, languageName(target))
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// cleanReply trims whitespace and a single pair of surrounding quotes.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
