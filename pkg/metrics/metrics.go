// Package metrics defines buffer pool counters and B+Tree latency
// histograms on an OpenTelemetry metric pipeline exported to Prometheus.
// The buffer pool records its hits, misses, evictions and flushes; nothing
// in this module records the B+Tree histograms. It is built the way
// _examples/sushant-115-gojodb/pkg/telemetry/telemetry.go wires its own
// services: a Config that can disable everything cheaply, real exporters
// when enabled, no-op instruments when not.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config controls whether metrics are collected at all.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Registry holds every instrument this module emits. A disabled Registry
// still has valid (no-op-backed) instruments, so callers never need to nil
// check before recording.
type Registry struct {
	enabled bool
	meter   metric.Meter

	PoolHits      metric.Int64Counter
	PoolMisses    metric.Int64Counter
	PoolEvictions metric.Int64Counter
	PoolFlushes   metric.Int64Counter

	TreeInsertLatency metric.Float64Histogram
	TreeRemoveLatency metric.Float64Histogram
	TreeSearchLatency metric.Float64Histogram
}

// New builds a Registry backed by a Prometheus exporter feeding an OTel
// meter provider. When cfg.Enabled is false, it returns a Registry over the
// OTel no-op meter provider so instrument calls are cheap and safe.
func New(cfg Config, reg *prometheus.Registry) (*Registry, error) {
	var meter metric.Meter
	if cfg.Enabled {
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("metrics: build prometheus exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		meter = provider.Meter(cfg.ServiceName)
	} else {
		meter = noop.NewMeterProvider().Meter(cfg.ServiceName)
	}

	r := &Registry{enabled: cfg.Enabled, meter: meter}
	var err error
	if r.PoolHits, err = meter.Int64Counter("bufferpool_hits_total"); err != nil {
		return nil, err
	}
	if r.PoolMisses, err = meter.Int64Counter("bufferpool_misses_total"); err != nil {
		return nil, err
	}
	if r.PoolEvictions, err = meter.Int64Counter("bufferpool_evictions_total"); err != nil {
		return nil, err
	}
	if r.PoolFlushes, err = meter.Int64Counter("bufferpool_flushes_total"); err != nil {
		return nil, err
	}
	if r.TreeInsertLatency, err = meter.Float64Histogram("bptree_insert_seconds"); err != nil {
		return nil, err
	}
	if r.TreeRemoveLatency, err = meter.Float64Histogram("bptree_remove_seconds"); err != nil {
		return nil, err
	}
	if r.TreeSearchLatency, err = meter.Float64Histogram("bptree_search_seconds"); err != nil {
		return nil, err
	}
	return r, nil
}

// Noop returns a Registry whose instruments discard everything, for tests
// and callers that don't want to set up a Prometheus registry.
func Noop() *Registry {
	r, err := New(Config{Enabled: false, ServiceName: "bustub"}, nil)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) RecordHit()      { r.PoolHits.Add(context.Background(), 1) }
func (r *Registry) RecordMiss()     { r.PoolMisses.Add(context.Background(), 1) }
func (r *Registry) RecordEviction() { r.PoolEvictions.Add(context.Background(), 1) }
func (r *Registry) RecordFlush()    { r.PoolFlushes.Add(context.Background(), 1) }
