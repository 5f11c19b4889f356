// Package feed polls game news feeds and publishes new items as
// notifications.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/robfig/cron/v3"

	"gamefeeds/internal/notification"
	"gamefeeds/internal/notifier"
	logx "gamefeeds/pkg/logx"
)

// maxItemsPerFeed caps how many new items one feed may publish per round.
const maxItemsPerFeed = 5

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five or six field cron specs and descriptors such
// as "@every 10m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

type Config struct {
	Schedule    string
	Timeout     time.Duration
	DedupWindow time.Duration
	UserAgent   string
}

// Source is one game and the feeds announcing its updates.
type Source struct {
	Game notification.Game
	URLs []string
}

// Dedup remembers which notifications were already published.
type Dedup interface {
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
}

// Publisher receives new notifications.
type Publisher interface {
	Publish(ctx context.Context, n notification.Notification) error
}

type Poller struct {
	mu      sync.Mutex
	cfg     Config
	sources []Source
	cron    *cron.Cron
	entry   cron.EntryID
	runCtx  context.Context

	client *http.Client
	parser *gofeed.Parser
	dedup  Dedup
	pub    Publisher
	log    logx.Logger
	now    func() time.Time

	busy atomic.Bool
}

func New(cfg Config, dedup Dedup, pub Publisher, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		client: &http.Client{},
		parser: gofeed.NewParser(),
		dedup:  dedup,
		pub:    pub,
		log:    log.With(logx.String("comp", "feed")),
		now:    time.Now,
	}
	p.cfg = withDefaults(cfg)
	return p
}

func withDefaults(cfg Config) Config {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 30 * 24 * time.Hour
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gamefeeds/1.0 (+feed poller)"
	}
	return cfg
}

// SetSources replaces the polled games. It takes effect on the next round.
func (p *Poller) SetSources(src []Source) {
	cp := append([]Source(nil), src...)
	p.mu.Lock()
	p.sources = cp
	p.mu.Unlock()
}

// Apply swaps the config and reschedules a running poller when the
// schedule changed.
func (p *Poller) Apply(cfg Config) error {
	cfg = withDefaults(cfg)
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.cfg
	p.cfg = cfg
	if p.cron == nil || old.Schedule == cfg.Schedule {
		return nil
	}
	if err := p.scheduleLocked(); err != nil {
		p.cfg = old
		return err
	}
	p.log.Info("feed schedule changed", logx.String("schedule", cfg.Schedule))
	return nil
}

// Start schedules polling and runs a first round immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cron != nil {
		p.mu.Unlock()
		return nil
	}
	p.runCtx = ctx
	p.cron = cron.New(cron.WithParser(scheduleParser))
	if err := p.scheduleLocked(); err != nil {
		p.cron = nil
		p.mu.Unlock()
		return err
	}
	c := p.cron
	schedule := p.cfg.Schedule
	p.mu.Unlock()

	c.Start()
	p.log.Info("feed poller started", logx.String("schedule", schedule))
	go p.Poll(ctx)
	return nil
}

func (p *Poller) scheduleLocked() error {
	sched, err := ParseSchedule(p.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("feed schedule %q: %w", p.cfg.Schedule, err)
	}
	if p.entry != 0 {
		p.cron.Remove(p.entry)
	}
	ctx := p.runCtx
	p.entry = p.cron.Schedule(sched, cron.FuncJob(func() { p.Poll(ctx) }))
	return nil
}

// Stop unschedules polling and waits for a running round until ctx is done.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.entry = 0
	p.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	p.log.Info("feed poller stopped")
}

// Poll runs one round over every source and returns how many
// notifications were published. Overlapping rounds are skipped.
func (p *Poller) Poll(ctx context.Context) int {
	if !p.busy.CompareAndSwap(false, true) {
		p.log.Debug("poll skipped; previous round still running")
		return 0
	}
	defer p.busy.Store(false)

	p.mu.Lock()
	cfg := p.cfg
	sources := p.sources
	p.mu.Unlock()

	start := p.now()
	total := 0
	for _, src := range sources {
		for _, u := range src.URLs {
			if ctx.Err() != nil {
				return total
			}
			n, err := p.pollFeed(ctx, cfg, src.Game, u)
			if err != nil {
				p.log.Warn("feed poll failed",
					logx.String("game", src.Game.Name),
					logx.String("url", u),
					logx.Err(err))
			}
			total += n
		}
	}
	p.log.Debug("feed round done", logx.Int("published", total), logx.Duration("took", p.now().Sub(start)))
	return total
}

func (p *Poller) pollFeed(ctx context.Context, cfg Config, game notification.Game, url string) (int, error) {
	f, err := p.fetch(ctx, cfg, url)
	if err != nil {
		return 0, err
	}

	now := p.now()
	oldest := now.Add(-cfg.DedupWindow)
	var fresh []notification.Notification
	for _, item := range f.Items {
		n := Convert(game, f, item, now)
		// Items older than the window may already have been forgotten.
		if n.Published.Before(oldest) {
			continue
		}
		seen, err := p.seen(ctx, n.Key(), now)
		if err != nil {
			return 0, err
		}
		if !seen {
			fresh = append(fresh, n)
		}
	}
	// Oldest first, so channels read updates in order.
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Published.Before(fresh[j].Published) })
	if len(fresh) > maxItemsPerFeed {
		p.log.Info("feed backlog truncated",
			logx.String("game", game.Name),
			logx.Int("new", len(fresh)),
			logx.Int("kept", maxItemsPerFeed))
		for _, n := range fresh[:len(fresh)-maxItemsPerFeed] {
			_ = p.mark(ctx, n.Key(), now, cfg)
		}
		fresh = fresh[len(fresh)-maxItemsPerFeed:]
	}

	published := 0
	var errs []error
	for _, n := range fresh {
		if err := p.pub.Publish(ctx, n); err != nil {
			var partial *notifier.PartialError
			if !errors.As(err, &partial) || partial.Queued == 0 {
				errs = append(errs, fmt.Errorf("publish %q: %w", n.Title.Text, err))
				continue
			}
			// Some channels already have it; publishing again would repeat it there.
			p.log.Warn("notification reached only some channels",
				logx.String("game", game.Name),
				logx.String("title", n.Title.Text),
				logx.Int("dropped", partial.Dropped))
		}
		if err := p.mark(ctx, n.Key(), now, cfg); err != nil {
			errs = append(errs, err)
		}
		published++
	}
	return published, errors.Join(errs...)
}

func (p *Poller) fetch(ctx context.Context, cfg Config, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return p.parser.Parse(resp.Body)
}

func (p *Poller) seen(ctx context.Context, key string, now time.Time) (bool, error) {
	if p.dedup == nil {
		return false, nil
	}
	until, ok, err := p.dedup.GetDedup(ctx, key)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return ok && now.Before(until), nil
}

func (p *Poller) mark(ctx context.Context, key string, now time.Time, cfg Config) error {
	if p.dedup == nil {
		return nil
	}
	if err := p.dedup.PutDedup(ctx, key, now.Add(cfg.DedupWindow)); err != nil {
		return fmt.Errorf("dedup write: %w", err)
	}
	return nil
}
