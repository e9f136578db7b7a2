package resilience

import (
	"context"

	"github.com/MrWong99/glyphlens/pkg/provider/llm"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider that can serve it.
// Requests carrying images skip backends without vision support.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var eligible func(llm.Provider) bool
	if hasImages(req.Messages) {
		eligible = func(p llm.Provider) bool { return p.Capabilities().SupportsVision }
	}
	return ExecuteWhere(f.group, eligible, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the capabilities of the primary. Vision is reported
// when any backend supports it.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) == 0 {
		return types.ModelCapabilities{}
	}
	caps := f.group.entries[0].value.Capabilities()
	for _, e := range f.group.entries[1:] {
		if e.value.Capabilities().SupportsVision {
			caps.SupportsVision = true
		}
	}
	return caps
}

func hasImages(msgs []types.Message) bool {
	for _, m := range msgs {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}

// States reports the breaker state of every backend by name.
func (f *LLMFallback) States() map[string]State { return f.group.States() }
