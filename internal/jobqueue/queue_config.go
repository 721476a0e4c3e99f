// Queue tuning for the license notice jobs. Email delivery is not latency
// sensitive, so worker counts and retry ceilings stay modest; SMTP outages
// are ridden out by River's exponential backoff.
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds the tunable parameters for the job queue.
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers per queue.
	MaxWorkers int

	// MaxRetries is the maximum retry attempts per job before it is
	// discarded.
	MaxRetries int

	// JobTimeout is the maximum time a single delivery can run.
	JobTimeout time.Duration

	// ExpiryScanInterval is how often the expiring-license scan runs.
	ExpiryScanInterval time.Duration
}

// GetQueueConfig returns the queue configuration.
func GetQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:         4,
		MaxRetries:         10,
		JobTimeout:         time.Minute,
		ExpiryScanInterval: 24 * time.Hour,
	}
}

// RiverQueueConfig builds the River queue map.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: c.MaxWorkers},
	}
}
