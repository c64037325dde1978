package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMetricsUpdateInterval sets the interval for background entry-count metrics.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// PostgresOption applies a configuration option to the PostgresStore.
type PostgresOption func(*PostgresStore)

// WithMaxOpenConns caps the size of the connection pool.
func WithMaxOpenConns(n int) PostgresOption {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithQueryDebug logs every SQL statement at debug level.
func WithQueryDebug(enabled bool) PostgresOption {
	return func(s *PostgresStore) {
		s.debug = enabled
	}
}
