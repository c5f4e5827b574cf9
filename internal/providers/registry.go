package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the configured OCR providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]OCRProvider
	defaultName string
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]OCRProvider),
		logger:    slog.Default(),
	}
}

// SetLogger sets the registry logger.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
}

// Register adds a provider. The first registered provider becomes the
// default until SetDefault overrides it.
func (r *Registry) Register(p OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name()] = p
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
	r.logger.Info("ocr provider registered", "name", p.Name())
}

// SetDefault selects the default provider.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown ocr provider: %s", name)
	}
	r.defaultName = name
	return nil
}

// Get returns a provider by name, or the default when name is empty.
func (r *Registry) Get(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown ocr provider: %s", name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
