// Package source holds the connector registry and the HTTP helpers shared by
// provider connectors.
package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// Registry maps provider names to connectors. Lookups ignore case.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]manga.Connector
	order      []string
	logger     *zap.Logger
}

// NewRegistry builds a registry from the given connectors.
func NewRegistry(logger *zap.Logger, connectors ...manga.Connector) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		connectors: make(map[string]manga.Connector, len(connectors)),
		logger:     logger,
	}
	for _, c := range connectors {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a connector. Names must be unique.
func (r *Registry) Register(c manga.Connector) error {
	if c == nil {
		return fmt.Errorf("connector is nil")
	}
	key := strings.ToLower(c.Name())
	if key == "" {
		return fmt.Errorf("connector name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[key]; exists {
		return fmt.Errorf("connector %q already registered", c.Name())
	}
	r.connectors[key] = c
	r.order = append(r.order, key)
	return nil
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (manga.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", manga.ErrUnknownSource, name)
	}
	return c, nil
}

// Names lists provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, key := range r.order {
		names = append(names, r.connectors[key].Name())
	}
	return names
}

// SearchAll queries every provider concurrently. A failing provider is logged
// and contributes no results; output follows registration order.
func (r *Registry) SearchAll(ctx context.Context, query string) []manga.Ref {
	r.mu.RLock()
	connectors := make([]manga.Connector, 0, len(r.order))
	for _, key := range r.order {
		connectors = append(connectors, r.connectors[key])
	}
	r.mu.RUnlock()

	perProvider := make([][]manga.Ref, len(connectors))
	var g errgroup.Group
	for i, c := range connectors {
		g.Go(func() error {
			refs, err := c.Search(ctx, query)
			if err != nil {
				r.logger.Warn("provider search failed",
					zap.String("source", c.Name()),
					zap.String("query", query),
					zap.Error(err),
				)
				return nil
			}
			perProvider[i] = refs
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // searches never return errors

	var out []manga.Ref
	for _, refs := range perProvider {
		out = append(out, refs...)
	}
	return out
}
