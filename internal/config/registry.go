package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/glyphlens/pkg/audio"
	"github.com/MrWong99/glyphlens/pkg/provider/detect"
	"github.com/MrWong99/glyphlens/pkg/provider/llm"
	"github.com/MrWong99/glyphlens/pkg/provider/translate"
	"github.com/MrWong99/glyphlens/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	detection   map[string]func(ProviderEntry) (detect.Provider, error)
	translation map[string]func(ProviderEntry) (translate.Provider, error)
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	tts         map[string]func(ProviderEntry) (tts.Provider, error)
	audio       map[string]func(ProviderEntry) (audio.Sink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		detection:   make(map[string]func(ProviderEntry) (detect.Provider, error)),
		translation: make(map[string]func(ProviderEntry) (translate.Provider, error)),
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:         make(map[string]func(ProviderEntry) (tts.Provider, error)),
		audio:       make(map[string]func(ProviderEntry) (audio.Sink, error)),
	}
}

// RegisterDetection registers a detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDetection(name string, factory func(ProviderEntry) (detect.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detection[name] = factory
}

// RegisterTranslation registers a translator factory under name.
func (r *Registry) RegisterTranslation(name string, factory func(ProviderEntry) (translate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translation[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterAudio registers an audio sink factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateDetection instantiates a detector using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDetection(entry ProviderEntry) (detect.Provider, error) {
	r.mu.RLock()
	factory, ok := r.detection[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: detection/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslation instantiates a translator using the factory registered under entry.Name.
func (r *Registry) CreateTranslation(entry ProviderEntry) (translate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.translation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates an audio sink using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Sink, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
