package bridge

import (
	"log/slog"
	"time"
)

type options struct {
	sender    Sender
	timeout   time.Duration
	idPrefix  string
	scheduler Scheduler
	now       func() time.Time
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Bridge.
type Option func(*options)

// WithSender installs the transport capability at construction time.
func WithSender(s Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithIDPrefix(prefix string) Option {
	return func(o *options) { o.idPrefix = prefix }
}

// WithScheduler replaces time.AfterFunc for call timeouts.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) *options {
	o := &options{
		timeout:  DefaultTimeout,
		idPrefix: defaultIDPrefix,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.scheduler == nil {
		o.scheduler = systemScheduler{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}
