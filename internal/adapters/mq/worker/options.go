package worker

import (
	"github.com/okian/stakerank/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRetry sets the retry policy for failed recomputations.
func WithRetry(cfg RetryConfig) Option {
	return func(w *InMemoryWorker) {
		w.retry = cfg
	}
}

// WithPending releases coalesced request keys as requests are picked up.
func WithPending(p Pending) Option {
	return func(w *InMemoryWorker) {
		w.pending = p
	}
}

// WithResultHook observes every processed request.
func WithResultHook(h ResultHook) Option {
	return func(w *InMemoryWorker) {
		w.hook = h
	}
}
