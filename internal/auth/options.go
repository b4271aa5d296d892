package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Auditor receives security-relevant events. Implementations must not block
// for long; they run on the request path.
type Auditor interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, map[string]any) {}

type options struct {
	now   func() time.Time
	log   *zap.Logger
	audit Auditor
}

// Option configures the services in this package.
type Option func(*options)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithLogger sets the logger used for operational messages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithAuditor routes security events to a.
func WithAuditor(a Auditor) Option {
	return func(o *options) {
		if a != nil {
			o.audit = a
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		log:   zap.NewNop(),
		audit: nopAuditor{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
