package objectpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Option func(*settings)

type settings struct {
	name       string
	policy     LockPolicy
	logger     *zap.Logger
	registerer prometheus.Registerer
}

type options []Option

func (l options) applyTo(s *settings) {
	for _, opt := range l {
		opt(s)
	}
}

// defaultOpts provides list of options
var defaultOpts = []Option{
	WithName("default"),
	WithLockPolicy(SharedExclusive),
	WithLogger(nil),
}

// WithName sets the pool name used in logs, metrics and errors
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLockPolicy sets how slots synchronize access to their payload
func WithLockPolicy(p LockPolicy) Option {
	return func(s *settings) { s.policy = p }
}

// WithLogger sets the logger; nil disables logging
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l == nil {
			l = zap.NewNop()
		}
		s.logger = l
	}
}

// WithRegisterer registers the pool metrics with r; nil disables metrics
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = r }
}
