// Package translate defines the Provider interface for translation backends.
//
// A translation provider turns one unit of text (a recognised sentence or a
// single object label) from a source language into a target language.
// Language codes are ISO 639-1 ("en", "es").
//
// Implementations must be safe for concurrent use.
package translate

import "context"

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate returns text rendered in target. source may be empty when the
	// backend should detect the language itself. Errors leave the decision to
	// fall back to the original text with the caller.
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Func adapts an ordinary function to the Provider interface.
type Func func(ctx context.Context, text, source, target string) (string, error)

// Translate calls f.
func (f Func) Translate(ctx context.Context, text, source, target string) (string, error) {
	return f(ctx, text, source, target)
}
