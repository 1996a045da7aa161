// Package app wires storage, ingestion, notification channels and the HTTP
// ingress into one process and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"flowwatch/internal/channel/discord"
	tgchan "flowwatch/internal/channel/telegram"
	"flowwatch/internal/channel/telegram/redispause"
	"flowwatch/internal/config"
	"flowwatch/internal/eventbus"
	"flowwatch/internal/httpapi"
	"flowwatch/internal/idgen"
	"flowwatch/internal/ingest"
	"flowwatch/internal/notify"
	"flowwatch/internal/queue"
	"flowwatch/internal/runtime/supervisor"
	"flowwatch/internal/storage"
	tgtransport "flowwatch/internal/transport/telegram"
	logx "flowwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rdb   *redis.Client

	queue    *queue.Queue
	registry *notify.Registry
	ingest   *ingest.Service

	tgTransport *tgtransport.Adapter
	telegram    *tgchan.Adapter
	discord     *discord.Adapter

	http *httpapi.Server
	ln   net.Listener
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logSvc, log := logx.New(cfg.Logging.Logx())
	a := &App{cfgm: cfgm, logs: logSvc, log: log.Named("app"), bus: eventbus.New()}
	if err := a.build(ctx, cfg, log); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, log.Named("storage"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	ids, err := idgen.New(cfg.Ingest.NodeID)
	if err != nil {
		return err
	}

	a.registry = notify.NewRegistry()
	if cfg.Telegram.Enabled() {
		if err := a.buildTelegram(ctx, cfg, log); err != nil {
			return err
		}
	}
	if cfg.Discord.Enabled() {
		dc, err := mapDiscordConfig(cfg)
		if err != nil {
			return err
		}
		a.discord, err = discord.New(dc, log)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		a.registry.Register(string(notify.KindDiscord), a.discord)
	}
	if len(a.registry.Names()) == 0 {
		a.log.Warn("no notification channels configured; events are recorded only")
	}

	a.queue = queue.New(log.Named("queue"))
	a.ingest, err = ingest.New(ingest.Options{
		Store:           a.store,
		Queue:           a.queue,
		Notifier:        notify.NewDispatcher(a.registry, log, a.bus),
		IDs:             ids,
		Log:             log,
		Bus:             a.bus,
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes,
		DefaultServices: cfg.Ingest.DefaultServices,
	})
	if err != nil {
		return err
	}

	if gin.Mode() == gin.DebugMode && !strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	a.http = httpapi.NewServer(httpapi.ServerConfig{
		Addr:            cfg.HTTP.ListenAddr(),
		ShutdownTimeout: mapHTTPShutdown(cfg),
	}, httpapi.NewRouter(a.ingest, log.Named("http")), log)
	return nil
}

func (a *App) buildTelegram(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	tc, err := mapTelegramTransport(cfg)
	if err != nil {
		return err
	}
	a.tgTransport, err = tgtransport.New(tc, log.Named("telegram.transport"))
	if err != nil {
		return fmt.Errorf("telegram transport: %w", err)
	}
	cc, err := mapTelegramChannel(cfg)
	if err != nil {
		return err
	}
	if cc.BotUsername == "" {
		cc.BotUsername = a.tgTransport.Username()
	}

	var pauses tgchan.PauseStore
	if cfg.Redis.Enabled() {
		a.rdb, err = redispause.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		pauses = redispause.New(a.rdb, cfg.Redis.Prefix)
		a.log.Info("pause windows stored in redis")
	}

	a.telegram, err = tgchan.New(tgchan.Options{
		Config:    cc,
		Transport: a.tgTransport,
		Store:     a.store,
		Pauses:    pauses,
		Log:       log,
		Bus:       a.bus,
	})
	if err != nil {
		return err
	}
	a.registry.Register(string(notify.KindTelegram), a.telegram)
	return nil
}

// Ingest exposes the ingestion service for in-process callers.
func (a *App) Ingest() *ingest.Service { return a.ingest }

// Addr is the bound HTTP address once started.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Named("config"))

	if a.telegram != nil {
		if err := a.telegram.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("start telegram: %w", err)
		}
	}

	ln, err := a.http.Listen()
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	a.ln = ln
	a.sup.Go("http", func(context.Context) error { return a.http.Serve(ln) })

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		defer func() {
			if n := a.bus.Dropped(); n > 0 {
				a.log.Debug("eventbus dropped events", logx.Uint64("dropped", n))
			}
		}()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	a.log.Info("app started", logx.String("http", a.Addr()), logx.Strings("channels", a.registry.Names()))
	return nil
}

// applyConfig applies the live-reloadable parts of newCfg.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.logs.Apply(newCfg.Logging.Logx())
	if a.tgTransport != nil {
		a.tgTransport.SetRate(newCfg.Telegram.RatePerSec, newCfg.Telegram.Burst)
	}
	if a.discord != nil {
		a.discord.SetRate(newCfg.Discord.RatePerSec, newCfg.Discord.Burst)
	}
	if pending := config.RestartRequired(oldCfg, newCfg); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", pending))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Ingress first so no new work arrives, then drain ingestion, then channels.
	a.step(ctx, "http", 3*time.Second, func(c context.Context) error { return a.http.Shutdown(c) })
	a.step(ctx, "ingest.queue", 3*time.Second, func(c context.Context) error { return a.queue.Close(c) })
	a.step(ctx, "telegram", 3*time.Second, func(c context.Context) error {
		if a.telegram != nil {
			return a.telegram.Stop(c)
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	a.step(ctx, "resources", 1*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
		a.rdb = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
