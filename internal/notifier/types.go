package notifier

import (
	"errors"
	"fmt"
	"time"

	"gamefeeds/internal/bot"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// PartialError reports a broadcast that reached only some channels because
// it needed more slots than the whole queue holds. It matches ErrQueueFull.
type PartialError struct {
	Queued  int
	Dropped int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("notifier queue full: %d queued, %d dropped", e.Queued, e.Dropped)
}

func (e *PartialError) Unwrap() error { return ErrQueueFull }

// Config controls the worker pool.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Targets lists the clients a notification is fanned out to.
type Targets interface {
	Running() []bot.Client
}

// Stats are cumulative delivery counters.
type Stats struct {
	Queued  uint64
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

type job struct {
	id      string
	batch   string
	client  bot.Client
	channel bot.Channel
	content bot.Content
}
