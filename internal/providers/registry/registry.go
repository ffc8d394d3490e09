// Package registry resolves a platform name to its adapter.
package registry

import (
	"net/http"

	"autoreply/internal/domain"
	"autoreply/internal/providers"
	"autoreply/internal/providers/facebook"
	"autoreply/internal/providers/graph"
	"autoreply/internal/providers/instagram"
	"autoreply/internal/providers/whatsapp"
)

type Registry struct {
	adapters map[domain.Platform]providers.Adapter
}

// New builds a registry from explicit adapters. Later adapters replace
// earlier ones for the same platform.
func New(adapters ...providers.Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Platform]providers.Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Default wires the Instagram, Facebook and WhatsApp adapters to one Meta app.
func Default(app graph.AppConfig, httpClient *http.Client) *Registry {
	g := graph.NewClient(app, httpClient)
	return New(instagram.New(g), facebook.New(g), whatsapp.New(g))
}

// Resolve accepts a platform name in any case. Unknown names return false,
// never an error, so callers can answer "ignored".
func (r *Registry) Resolve(platform string) (providers.Adapter, bool) {
	p, ok := domain.ParsePlatform(platform)
	if !ok {
		return nil, false
	}
	return r.Get(p)
}

func (r *Registry) Get(p domain.Platform) (providers.Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

func (r *Registry) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
