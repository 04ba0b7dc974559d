package cache

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	factorydomain "github.com/diewerk/toolledger/internal/factory/domain"
)

// Factory reference data changes rarely; a short TTL keeps renames visible
// without hitting the factories table on every history read.
const defaultFactoryNameTTL = 5 * time.Minute

const factoryNamesKey = "factory_names"

// FactoryNameCache is a read-through cache over the factory display-name map.
type FactoryNameCache struct {
	factories factorydomain.Service
	names     Cache[string, map[snowflake.ID]string]
	ttl       time.Duration
}

func NewFactoryNameCache(factories factorydomain.Service) *FactoryNameCache {
	return &FactoryNameCache{
		factories: factories,
		names:     NewTTLCache[string, map[snowflake.ID]string](),
		ttl:       defaultFactoryNameTTL,
	}
}

// DisplayNames returns the ID-to-name map, loading it on a miss.
func (c *FactoryNameCache) DisplayNames(ctx context.Context) (map[snowflake.ID]string, error) {
	if cached, ok := c.names.Get(factoryNamesKey); ok {
		return cached, nil
	}
	names, err := c.factories.DisplayNames(ctx)
	if err != nil {
		return nil, err
	}
	c.names.Set(factoryNamesKey, names, c.ttl)
	return names, nil
}

// Invalidate drops the cached map, forcing the next read to reload.
func (c *FactoryNameCache) Invalidate() {
	c.names.Delete(factoryNamesKey)
}
