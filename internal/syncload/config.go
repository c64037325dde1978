// Package syncload drives a running stakerank instance with generated stake
// data and verifies the leaderboard it serves afterwards.
package syncload

import (
	"errors"
	"time"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL   string        // Base URL of the service
	Secret    string        // Bearer credential for sync
	Squads    int           // Number of squads to generate
	Members   int           // Number of members to generate
	BatchSize int           // Records per sync request
	Workers   int           // Concurrent sync requests
	Rounds    int           // Times every record is re-synced with new stakes
	Seed      int64         // Generator seed; 0 picks one from the clock
	Timeout   time.Duration // HTTP request timeout
	Verbose   bool          // Log every batch
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid load config")

// Validate checks c for obviously unusable values.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case c.Secret == "":
		return errors.Join(ErrInvalidConfig, errors.New("secret is required"))
	case c.Squads < 0 || c.Members < 0 || c.Squads+c.Members == 0:
		return errors.Join(ErrInvalidConfig, errors.New("at least one squad or member is required"))
	case c.BatchSize < 1 || c.Workers < 1 || c.Rounds < 1:
		return errors.Join(ErrInvalidConfig, errors.New("batch size, workers and rounds must be >= 1"))
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	RecordsGenerated int
	BatchesSent      int
	BatchesFailed    int
	RecomputeFailed  int
	EntriesVerified  int
	Duration         time.Duration
}
