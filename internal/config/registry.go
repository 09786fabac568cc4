package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/livescribe/pkg/capture"
	"github.com/MrWong99/livescribe/pkg/provider/llm"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func (f *factories[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f *factories[T]) names(mu *sync.RWMutex) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to factories per provider kind. It is safe
// for concurrent use. Registering a name again replaces the factory.
type Registry struct {
	mu          sync.RWMutex
	recognizers factories[stt.Recognizer]
	sources     factories[capture.Source]
	polishers   factories[llm.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		recognizers: factories[stt.Recognizer]{kind: "recognizer", m: make(map[string]Factory[stt.Recognizer])},
		sources:     factories[capture.Source]{kind: "capture", m: make(map[string]Factory[capture.Source])},
		polishers:   factories[llm.Provider]{kind: "polish", m: make(map[string]Factory[llm.Provider])},
	}
}

// RegisterRecognizer registers a speech recognizer factory.
func (r *Registry) RegisterRecognizer(name string, f Factory[stt.Recognizer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers.m[name] = f
}

// RegisterSource registers a capture source factory.
func (r *Registry) RegisterSource(name string, f Factory[capture.Source]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources.m[name] = f
}

// RegisterPolisher registers an LLM factory for transcript polishing.
func (r *Registry) RegisterPolisher(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polishers.m[name] = f
}

// CreateRecognizer builds the recognizer named by entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Recognizer, error) {
	return r.recognizers.create(&r.mu, entry)
}

// CreateSource builds the capture source named by entry.Name.
func (r *Registry) CreateSource(entry ProviderEntry) (capture.Source, error) {
	return r.sources.create(&r.mu, entry)
}

// CreatePolisher builds the LLM named by entry.Name.
func (r *Registry) CreatePolisher(entry ProviderEntry) (llm.Provider, error) {
	return r.polishers.create(&r.mu, entry)
}

// Recognizers returns the registered recognizer names, sorted.
func (r *Registry) Recognizers() []string { return r.recognizers.names(&r.mu) }

// Sources returns the registered capture source names, sorted.
func (r *Registry) Sources() []string { return r.sources.names(&r.mu) }
