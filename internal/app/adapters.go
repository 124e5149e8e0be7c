package app

import (
	"errors"
	"fmt"

	"github.com/pscheid92/creatorsync/internal/domain"
)

// Adapters indexes the platform adapters by platform.
type Adapters map[domain.Platform]domain.PlatformAdapter

func NewAdapters(list ...domain.PlatformAdapter) Adapters {
	a := make(Adapters, len(list))
	for _, adapter := range list {
		a[adapter.Platform()] = adapter
	}
	return a
}

func (a Adapters) Get(p domain.Platform) (domain.PlatformAdapter, error) {
	adapter, ok := a[p]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %q", domain.ErrUnknownPlatform, p)
	}
	return adapter, nil
}

// configurable is implemented by adapters that can report missing client settings.
type configurable interface {
	CheckConfigured() error
}

// Integration is the configuration state of one platform.
type Integration struct {
	Platform   domain.Platform
	Configured bool
	Missing    []string
}

// Integrations reports every registered platform in master-job order.
func (a Adapters) Integrations() []Integration {
	var out []Integration
	for _, p := range domain.Platforms {
		adapter, ok := a[p]
		if !ok {
			continue
		}
		in := Integration{Platform: p, Configured: true}
		if c, ok := adapter.(configurable); ok {
			if err := c.CheckConfigured(); err != nil {
				in.Configured = false
				var cfgErr *domain.ConfigurationError
				if errors.As(err, &cfgErr) {
					in.Missing = cfgErr.Missing
				}
			}
		}
		out = append(out, in)
	}
	return out
}
