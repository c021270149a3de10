package objectpool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "objectpool"

type poolMetrics struct {
	acquired  prometheus.Counter
	exhausted prometheus.Counter
	evicted   prometheus.Counter
	recycled  prometheus.Counter
}

// newPoolMetrics registers the collectors of one pool. Pools sharing a name
// on the same registerer share counters; the free slots gauge stays bound to
// the first of them.
func newPoolMetrics(reg prometheus.Registerer, name string, freeSlots func() float64) *poolMetrics {
	if reg == nil {
		return nil
	}

	labels := prometheus.Labels{"pool": name}
	counter := func(metric, help string) prometheus.Counter {
		return registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}))
	}

	m := &poolMetrics{
		acquired:  counter("acquired_total", "Total number of slots checked out of the pool."),
		exhausted: counter("exhausted_total", "Total number of acquisitions that found no free slot."),
		evicted:   counter("evicted_total", "Total number of forced evictions."),
		recycled:  counter("recycled_total", "Total number of slots reinitialized on release."),
	}

	free := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "free_slots",
		Help:        "Number of slots not held outside the pool.",
		ConstLabels: labels,
	}, freeSlots)
	if err := reg.Register(free); err != nil && !isAlreadyRegistered(err) {
		panic(err)
	}

	return m
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
			return existing
		}
	}
	panic(err)
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}

func (m *poolMetrics) incAcquired() {
	if m != nil {
		m.acquired.Inc()
	}
}

func (m *poolMetrics) incExhausted() {
	if m != nil {
		m.exhausted.Inc()
	}
}

func (m *poolMetrics) incEvicted() {
	if m != nil {
		m.evicted.Inc()
	}
}

func (m *poolMetrics) incRecycled() {
	if m != nil {
		m.recycled.Inc()
	}
}
