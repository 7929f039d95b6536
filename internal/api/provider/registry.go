package provider

import (
	"fmt"
	"strings"

	"github.com/devstreak/sync/internal/conf"
)

// NotFoundError is returned when a provider is unknown or intentionally
// disabled through configuration. Both cases read as "integration not
// found" to callers.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("Provider %s could not be found", e.ID)
}

// IsNotFoundError returns whether an error represents an unknown or
// disabled provider.
func IsNotFoundError(err error) bool {
	switch err.(type) {
	case NotFoundError, *NotFoundError:
		return true
	}
	return false
}

// Registry is the static catalog of external integration providers. It is
// built once at startup from configuration and never mutated afterwards;
// components receive it explicitly instead of reaching for a global.
type Registry struct {
	providers map[string]OAuthProvider
}

type factory func(ext *conf.OAuthProviderConfiguration, redirectURI string) OAuthProvider

var factories = map[string]factory{
	"github":        NewGithubProvider,
	"gitlab":        NewGitlabProvider,
	"stackexchange": NewStackexchangeProvider,
	"wakatime":      NewWakatimeProvider,
}

// NewRegistry builds the catalog. Providers without a configured client id
// and secret are left out entirely, so lookups report them as not found
// rather than half-configured.
func NewRegistry(config *conf.GlobalConfiguration) *Registry {
	r := &Registry{providers: make(map[string]OAuthProvider)}

	for id, build := range factories {
		ext := config.Providers.Provider(id)
		if ext == nil || !ext.Enabled() {
			continue
		}

		p := build(ext, config.RedirectURI(id))
		if b, ok := revocable(p); ok {
			b.timeout = config.Sync.ProviderTimeout
		}
		r.providers[id] = p
	}
	return r
}

// Lookup returns the provider registered under id.
func (r *Registry) Lookup(id string) (OAuthProvider, error) {
	id = strings.ToLower(id)
	p, ok := r.providers[id]
	if !ok {
		return nil, NotFoundError{ID: id}
	}
	return p, nil
}

// IDs returns the ids of all enabled providers.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}

func chooseHost(base, defaultHost string) string {
	if base == "" {
		return defaultHost
	}
	return strings.TrimSuffix(base, "/")
}
