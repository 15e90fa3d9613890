package http

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/spatweave/spatweave/internal/domain/neighbors"
	"github.com/spatweave/spatweave/internal/infrastructure/cache"
)

// mapCache is an in-process graph cache for handler tests.
type mapCache struct {
	mu     sync.Mutex
	graphs map[string]*neighbors.Graph
}

func newMapCache() *mapCache {
	return &mapCache{graphs: make(map[string]*neighbors.Graph)}
}

func (c *mapCache) Get(ctx context.Context, key string) (*neighbors.Graph, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.graphs[key]
	return g, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, g *neighbors.Graph) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[key] = g
	return nil
}

func (c *mapCache) Stats() cache.Stats { return cache.Stats{} }

func (c *mapCache) Close() error { return nil }

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric io_prometheus_client.Metric
	require.NoError(t, g.Write(&metric))
	return metric.GetGauge().GetValue()
}
