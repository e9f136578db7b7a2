// Package passthrough provides a translate.Provider that returns its input
// unchanged. It is used when source and target language match or no
// translation backend is configured.
package passthrough

import (
	"context"

	"github.com/MrWong99/glyphlens/pkg/provider/translate"
)

// Provider returns the input text unchanged.
type Provider struct{}

// Compile-time interface assertion.
var _ translate.Provider = Provider{}

// New returns a passthrough Provider.
func New() Provider { return Provider{} }

// Translate implements translate.Provider.
func (Provider) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
