package schema

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Loader fetches the raw schema document for a version.
type Loader func(ctx context.Context, version string) ([]byte, error)

// Cache compiles each schema version at most once per process in the common
// case. Concurrent first use may compile the same version twice; whichever
// compile stores last wins, and stored schemas are never mutated. Entries live
// until the process exits.
type Cache struct {
	load     Loader
	compiled atomic.Pointer[map[string]*Schema]
}

func NewCache(load Loader) *Cache {
	c := &Cache{load: load}
	empty := map[string]*Schema{}
	c.compiled.Store(&empty)
	return c
}

// Get returns the compiled schema for version, loading it on first use.
func (c *Cache) Get(ctx context.Context, version string) (*Schema, error) {
	if s, ok := (*c.compiled.Load())[version]; ok {
		return s, nil
	}
	if c.load == nil {
		return nil, fmt.Errorf("no schema loader configured")
	}

	src, err := c.load(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", version, err)
	}
	s, err := Compile(version, src)
	if err != nil {
		return nil, err
	}

	for {
		current := c.compiled.Load()
		next := make(map[string]*Schema, len(*current)+1)
		for k, v := range *current {
			next[k] = v
		}
		next[version] = s
		if c.compiled.CompareAndSwap(current, &next) {
			break
		}
	}

	log.Ctx(ctx).Info().Str("schema_version", version).Msg("Compiled theme schema")
	return s, nil
}
