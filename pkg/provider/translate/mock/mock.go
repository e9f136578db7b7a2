// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphlens/pkg/provider/translate"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Text   string
	Source string
	Target string
}

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// TranslateFunc, if set, takes precedence over Dictionary / Err.
	TranslateFunc func(ctx context.Context, text, source, target string) (string, error)

	// Dictionary maps input text to its translation. Missing entries are
	// returned unchanged.
	Dictionary map[string]string

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []TranslateCall
}

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

// Translate records the call and returns the configured translation.
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranslateCall{Text: text, Source: source, Target: target})
	fn, dict, err := p.TranslateFunc, p.Dictionary, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, source, target)
	}
	if err != nil {
		return "", err
	}
	if out, ok := dict[text]; ok {
		return out, nil
	}
	return text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
