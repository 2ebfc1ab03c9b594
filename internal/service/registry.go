package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry fans ticks out to all tracked areas.
type Registry struct {
	areas  map[string]*Area
	order  []string
	logger zerolog.Logger
}

// NewRegistry builds a registry over the given areas, preserving their order.
func NewRegistry(areas []*Area, logger zerolog.Logger) *Registry {
	r := &Registry{
		areas:  make(map[string]*Area, len(areas)),
		logger: logger.With().Str("component", "registry").Logger(),
	}
	for _, area := range areas {
		r.areas[area.Name()] = area
		r.order = append(r.order, area.Name())
	}
	return r
}

// Area looks up an area by name.
func (r *Registry) Area(name string) (*Area, bool) {
	area, ok := r.areas[name]
	return area, ok
}

// Names returns area names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Prime warms every area from persisted state.
func (r *Registry) Prime(ctx context.Context) {
	now := time.Now()
	for _, name := range r.order {
		r.areas[name].Prime(ctx, now)
	}
}

// Tick runs one cycle for every area concurrently. Areas are independent;
// one slow fetch must not delay the others.
func (r *Registry) Tick(ctx context.Context, now time.Time) {
	var wg sync.WaitGroup
	for _, name := range r.order {
		area := r.areas[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			area.Tick(ctx, now)
		}()
	}
	wg.Wait()
}

// StartHealthChecks launches the background health loop for every area.
func (r *Registry) StartHealthChecks(ctx context.Context) {
	for _, name := range r.order {
		r.areas[name].StartHealthCheck(ctx)
	}
}
