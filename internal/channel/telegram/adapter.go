// Package telegram is the Telegram notification channel: per-project chat
// mappings created with /connect, pause windows, and edit-in-place
// messages for recurring events.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"flowwatch/internal/eventbus"
	"flowwatch/internal/notify"
	"flowwatch/internal/queue"
	rtsup "flowwatch/internal/runtime/supervisor"
	"flowwatch/internal/storage"
	kit "flowwatch/internal/transport"
	logx "flowwatch/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("telegram adapter already running")
	ErrStopped        = errors.New("telegram adapter stopped")
)

const (
	DefaultEphemeralTTL = 10 * time.Second
	DefaultHealthCheck  = "@every 15m"
	DefaultPrivacyURL   = "https://flowwatch.dev/privacy"
)

type Config struct {
	// EphemeralTTL is how long error replies stay in the chat.
	EphemeralTTL time.Duration
	// HealthCheck is a cron spec for the reachability sweep; "off" disables it.
	HealthCheck string
	PrivacyURL  string
	// BotUsername filters "/cmd@other_bot" in groups. Empty accepts any suffix.
	BotUsername string
}

// Store is the persistence the adapter needs.
type Store interface {
	storage.MappingStore
	storage.SessionStore
}

type Options struct {
	Config    Config
	Transport kit.Adapter
	Store     Store
	// Pauses defaults to an in-memory registry.
	Pauses PauseStore
	Log    logx.Logger
	Bus    eventbus.Bus
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	default:
		return "stopped"
	}
}

type Adapter struct {
	cfg    Config
	tr     kit.Adapter
	store  Store
	pauses PauseStore
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	maps     *mappings
	tracker  *tracker
	trackQ   *queue.Queue
	sessions *sessions

	mu    sync.Mutex
	state state
	sup   *rtsup.Supervisor
	cron  *cron.Cron
}

var (
	_ notify.Channel = (*Adapter)(nil)
	_ notify.Pauser  = (*Adapter)(nil)
)

func New(opts Options) (*Adapter, error) {
	if opts.Transport == nil {
		return nil, errors.New("telegram: transport is required")
	}
	if opts.Store == nil {
		return nil, errors.New("telegram: store is required")
	}
	if opts.Pauses == nil {
		opts.Pauses = NewMemoryPauses()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	cfg := opts.Config
	if cfg.EphemeralTTL <= 0 {
		cfg.EphemeralTTL = DefaultEphemeralTTL
	}
	if cfg.HealthCheck == "" {
		cfg.HealthCheck = DefaultHealthCheck
	}
	if cfg.PrivacyURL == "" {
		cfg.PrivacyURL = DefaultPrivacyURL
	}
	log := opts.Log.Named("telegram")
	return &Adapter{
		cfg:      cfg,
		tr:       opts.Transport,
		store:    opts.Store,
		pauses:   opts.Pauses,
		log:      log,
		bus:      opts.Bus,
		now:      time.Now,
		maps:     newMappings(),
		tracker:  newTracker(),
		trackQ:   queue.New(log),
		sessions: newSessions(opts.Store),
	}, nil
}

func (a *Adapter) Kind() notify.Kind { return notify.KindTelegram }

// State reports the lifecycle state: idle, running or stopped.
func (a *Adapter) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.String()
}

// Start loads mappings, starts the transport and the command loop. A failed
// start leaves the adapter stopped.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case stateRunning:
		a.mu.Unlock()
		return ErrAlreadyRunning
	case stateStopped:
		a.mu.Unlock()
		return ErrStopped
	}
	a.state = stateRunning
	a.mu.Unlock()

	if err := a.setup(ctx); err != nil {
		a.teardown(context.Background())
		a.mu.Lock()
		a.state = stateStopped
		a.mu.Unlock()
		return err
	}
	a.log.Info("telegram adapter started", logx.Int("mappings", a.maps.len()))
	return nil
}

func (a *Adapter) setup(ctx context.Context) error {
	if err := a.reloadMappings(ctx); err != nil {
		return fmt.Errorf("load mappings: %w", err)
	}

	sup := rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	updates := make(chan kit.Update, 64)
	if err := a.tr.Start(sup.Context(), updates); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	sup.Go0("commands", func(c context.Context) { a.commandLoop(c, updates) })

	if mu, ok := a.tr.(kit.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(ctx, menuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	}

	a.cleanupEphemeral(ctx)

	if a.cfg.HealthCheck != "off" {
		c := cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))
		if _, err := c.AddFunc(a.cfg.HealthCheck, func() { a.HealthSweep(sup.Context()) }); err != nil {
			return fmt.Errorf("health check schedule %q: %w", a.cfg.HealthCheck, err)
		}
		c.Start()
		a.mu.Lock()
		a.cron = c
		a.mu.Unlock()
	}
	return nil
}

func (a *Adapter) commandLoop(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-updates:
			if up.Message == nil {
				continue
			}
			a.handleMessage(ctx, up.Message)
		}
	}
}

// Stop stops the command loop, the health sweep and the transport. It is
// safe to call more than once.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state == stateStopped {
		a.mu.Unlock()
		return nil
	}
	a.state = stateStopped
	a.mu.Unlock()

	err := a.teardown(ctx)
	a.log.Info("telegram adapter stopped")
	return err
}

func (a *Adapter) teardown(ctx context.Context) error {
	a.mu.Lock()
	sup, c := a.sup, a.cron
	a.sup, a.cron = nil, nil
	a.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	var errs []error
	if sup != nil {
		sup.Cancel()
	}
	if err := a.tr.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop transport: %w", err))
	}
	if sup != nil {
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.trackQ.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain tracker: %w", err))
	}
	return errors.Join(errs...)
}

func (a *Adapter) running() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateStopped {
		return ErrStopped
	}
	return nil
}

func (a *Adapter) reloadMappings(ctx context.Context) error {
	all, err := a.store.ListMappings(ctx)
	if err != nil {
		return err
	}
	a.maps.replace(all)
	return nil
}

// dropMapping forgets projectID in memory and in the store.
func (a *Adapter) dropMapping(ctx context.Context, projectID string, cause error) {
	m, _ := a.maps.get(projectID)
	a.maps.remove(projectID)
	a.tracker.clearProject(projectID)
	if err := a.store.DeleteMapping(context.WithoutCancel(ctx), projectID); err != nil {
		a.log.Warn("mapping delete failed", logx.String("project_id", projectID), logx.Err(err))
	}
	a.log.Warn("destination unreachable; mapping dropped",
		logx.String("project_id", projectID), logx.Int64("chat_id", m.ChatID), logx.Err(cause))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeMappingDropped, Data: m})
}

// HealthSweep pings every known chat and drops mappings of unreachable ones.
func (a *Adapter) HealthSweep(ctx context.Context) {
	chats := a.maps.chats()
	dropped := 0
	for _, chatID := range chats {
		if ctx.Err() != nil {
			return
		}
		err := a.tr.Ping(ctx, chatID)
		if err == nil {
			continue
		}
		if !errors.Is(err, kit.ErrUnreachable) {
			a.log.Debug("health ping failed", logx.Int64("chat_id", chatID), logx.Err(err))
			continue
		}
		for _, p := range a.maps.projectsFor(chatID) {
			a.dropMapping(ctx, p, err)
			dropped++
		}
	}
	a.log.Debug("health sweep done", logx.Int("chats", len(chats)), logx.Int("dropped", dropped))
}
