package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gamefeeds/internal/bot"
	"gamefeeds/internal/commands"
	"gamefeeds/internal/config"
	"gamefeeds/internal/feed"
	"gamefeeds/internal/notifier"
	rtsup "gamefeeds/internal/runtime/supervisor"
	"gamefeeds/internal/storage"
	logx "gamefeeds/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	sink  *chatSink
	store storage.Store

	bots  *bot.Registry
	notif *notifier.Service
	feeds *feed.Poller

	mu          sync.RWMutex
	games       []string
	feedsActive bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)

	store, err := storage.Open(mapStorageConfig(cfg), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bots, err := newRegistry(cfg, store, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sources, err := mapSources(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	notif := notifier.New(mapNotifierConfig(cfg), bots, log)
	feeds := feed.New(mapFeedConfig(cfg), store, notif, log)
	feeds.SetSources(sources)

	a := &App{
		cfgm:  cfgm,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		store: store,
		bots:  bots,
		notif: notif,
		feeds: feeds,
		games: gameLabels(cfg),
	}
	a.sink = newChatSink(bots, cfg)
	logSvc.SetSender(a.sink)

	bots.RegisterCommand(commands.Builtin(commands.Deps{
		Store: store,
		Games: a.gameNames,
		Log:   log,
	})...)
	return a, nil
}

func (a *App) Bots() *bot.Registry { return a.bots }

func (a *App) gameNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.games...)
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.notif.Start(runCtx)

	started := a.bots.StartAll(runCtx)
	clients := a.bots.Clients()
	a.log.Info("bots started", logx.Int("started", started), logx.Int("configured", len(clients)))
	if started == 0 && len(clients) > 0 {
		a.log.Warn("no bot could be started; notifications will not be delivered")
	}

	if cfg.Feeds.Enabled {
		if err := a.feeds.Start(runCtx); err != nil {
			return err
		}
		a.setFeedsActive(true)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int("games", len(cfg.Games)), logx.Bool("feeds", cfg.Feeds.Enabled))
	return nil
}

func (a *App) setFeedsActive(v bool) {
	a.mu.Lock()
	a.feedsActive = v
	a.mu.Unlock()
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the newest of a burst.
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					next = newer
				default:
					break drain
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

// apply brings the running components in line with next. Sections that
// cannot change live are reported and left alone.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	changed, fields := config.Summarize(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields = append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, fields...)

	feeds := false
	for _, s := range changed {
		switch s {
		case "logging":
			a.sink.apply(next)
			a.logs.Apply(mapLogConfig(next))
		case "notifier":
			a.notif.Apply(mapNotifierConfig(next))
		case "feeds", "games":
			feeds = true
		}
	}
	if feeds {
		a.applyFeeds(ctx, next)
	}
	if config.RestartRequired(changed) {
		a.log.Warn("some config changes need a restart to take effect", fields...)
		return
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyFeeds(ctx context.Context, cfg *config.Config) {
	sources, err := mapSources(cfg)
	if err != nil {
		a.log.Warn("invalid games config; keeping previous", logx.Err(err))
		return
	}
	a.feeds.SetSources(sources)
	a.mu.Lock()
	a.games = gameLabels(cfg)
	active := a.feedsActive
	a.mu.Unlock()

	if err := a.feeds.Apply(mapFeedConfig(cfg)); err != nil {
		a.log.Warn("invalid feed schedule; keeping previous", logx.Err(err))
	}
	switch {
	case active && !cfg.Feeds.Enabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.feeds.Stop(stopCtx)
		cancel()
		a.setFeedsActive(false)
		a.log.Info("feed poller disabled via config")
	case !active && cfg.Feeds.Enabled:
		if err := a.feeds.Start(ctx); err != nil {
			a.log.Warn("feed poller failed to start", logx.Err(err))
			return
		}
		a.setFeedsActive(true)
		a.log.Info("feed poller enabled via config")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop feeding new work first; the notifier gets to drain while the
	// bots are still connected.
	a.step(ctx, "feeds", 2*time.Second, func(c context.Context) error { a.feeds.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.sup.Cancel()
	a.step(ctx, "bots", 3*time.Second, func(context.Context) error { a.bots.StopAll(); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.SetSender(nil)
	return a.logs.Close()
}

// step runs fn bounded by max and the caller's deadline. A step that
// overruns is logged and left running.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
			logx.Err(stepCtx.Err()))
	}
}
