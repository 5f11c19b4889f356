package notifier

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gamefeeds/internal/bot"
	"gamefeeds/internal/notification"
	rtsup "gamefeeds/internal/runtime/supervisor"
	logx "gamefeeds/pkg/logx"
)

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	targets Targets
	log     logx.Logger

	accepting bool
	enqueueWG sync.WaitGroup
	enqueueMu sync.Mutex // one broadcast reserves queue slots at a time
	queue     chan job
	sup       *rtsup.Supervisor

	queued, sent, dropped, failed atomic.Uint64
}

func New(cfg Config, targets Targets, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		targets: targets,
		log:     log.With(logx.String("comp", "notifier")),
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps retry and rate settings. Workers and QueueSize take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	// Burst equals the per-second rate so a single notification reaching a
	// handful of channels goes out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is a no-op while already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		// A worker returns cleanly once the queue is closed; a panicking
		// send restarts it.
		s.sup.GoRestart0(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) {
			s.workerLoop(c, q)
		}, rtsup.WithStopOnCleanExit(true))
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("queue_size", s.cfg.QueueSize))
}

// Stop refuses new work and drains the queue until ctx is done, at which
// point pending deliveries are abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.enqueueWG.Wait()
	close(q)
	if sup.Wait(ctx) != nil && ctx.Err() != nil {
		s.log.Warn("notifier stopped before the queue drained",
			logx.Int("pending", len(q)), logx.Err(ctx.Err()))
	}
	sup.Cancel()
	_ = sup.Wait(context.Background())

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	s.log.Info("notifier stopped")
}

// Publish queues n for every channel of every running client.
//
// A batch is queued all or nothing: when the free slots cannot hold it,
// nothing is queued and ErrQueueFull is returned, so the caller may retry
// the whole notification. A batch larger than the queue itself is queued
// as far as it fits and reported as a *PartialError.
func (s *Service) Publish(ctx context.Context, n notification.Notification) error {
	return s.Broadcast(ctx, bot.Notify(n))
}

// Broadcast is Publish for arbitrary content.
func (s *Service) Broadcast(ctx context.Context, content bot.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	batch := uuid.NewString()
	var jobs []job
	for _, c := range s.targets.Running() {
		for _, ch := range c.Channels(ctx) {
			jobs = append(jobs, job{id: uuid.NewString(), batch: batch, client: c, channel: ch, content: content})
		}
	}

	// Workers only drain q, so free slots can only grow while enqueueMu is held.
	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	free := cap(q) - len(q)
	if len(jobs) > free && len(jobs) <= cap(q) {
		s.dropped.Add(uint64(len(jobs)))
		s.log.Warn("notifier queue full; broadcast not queued",
			logx.String("batch", batch),
			logx.Int("channels", len(jobs)),
			logx.Int("free", free))
		return ErrQueueFull
	}

	queued := 0
	for _, j := range jobs {
		select {
		case q <- j:
			queued++
			s.queued.Add(1)
		default:
		}
	}
	dropped := len(jobs) - queued
	s.log.Debug("broadcast queued",
		logx.String("batch", batch),
		logx.Int("channels", len(jobs)),
		logx.Int("dropped", dropped))
	if dropped > 0 {
		s.dropped.Add(uint64(dropped))
		s.log.Warn("broadcast larger than the notifier queue; deliveries dropped",
			logx.String("batch", batch),
			logx.Int("queued", queued),
			logx.Int("dropped", dropped))
		return &PartialError{Queued: queued, Dropped: dropped}
	}
	return nil
}

func (s *Service) Stats() Stats {
	return Stats{
		Queued:  s.queued.Load(),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	log := s.log.With(
		logx.String("job", j.id),
		logx.String("batch", j.batch),
		logx.String("channel", j.channel.Label()))

	attempts := 1 + cfg.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		if j.client.SendMessage(ctx, j.channel, j.content) {
			s.sent.Add(1)
			return
		}
		log.Debug("send not attempted", logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.failed.Add(1)
	log.Warn("delivery abandoned", logx.Int("attempts", attempts))
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
