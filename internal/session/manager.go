package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/internal/listview"
	"github.com/pitabwire/vendordesk/internal/observability"
	"github.com/pitabwire/vendordesk/internal/source"
	"github.com/pitabwire/vendordesk/model"
)

// Repositories resolves the repository backing a list.
type Repositories interface {
	Repository(ctx context.Context, def *model.ListDefinition) (source.Repository, error)
}

// Recorder receives session measurements. It also records the pipeline
// measurements of the controllers the manager builds.
type Recorder interface {
	listview.Recorder
	RecordViewStateLoad(driver, result string)
	SetActiveViews(n int)
}

type view struct {
	ctrl     *listview.Controller
	def      *model.ListDefinition
	lastUsed time.Time
}

// Manager hands out one live controller per (tenant, subject, list),
// restoring its state from the store the first time it is needed.
type Manager struct {
	store    StateStore
	driver   string
	ttl      time.Duration
	maxViews int
	bulk     int
	repos    Repositories
	rec      Recorder
	logger   *zap.Logger

	build singleflight.Group

	mu    sync.Mutex
	views map[string]*view
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.rec = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithBulkConcurrency bounds concurrent source calls of a bulk update.
func WithBulkConcurrency(n int) ManagerOption {
	return func(m *Manager) { m.bulk = n }
}

// NewManager creates a manager persisting through store.
func NewManager(store StateStore, driver string, cfg config.SessionsConfig, repos Repositories, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		driver:   driver,
		ttl:      cfg.TTL,
		maxViews: cfg.MaxViews,
		repos:    repos,
		logger:   zap.NewNop(),
		views:    make(map[string]*view),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenStore builds the state store selected by cfg.Driver. The returned
// closer releases its resources.
func OpenStore(cfg config.SessionsConfig, getenv func(string) string) (StateStore, func() error, error) {
	switch cfg.Driver {
	case config.SessionDriverMemory, "":
		return NewMemoryStore(cfg.MaxViews), func() error { return nil }, nil
	case config.SessionDriverRedis:
		addr := getenv(cfg.Redis.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session: %s is not set", cfg.Redis.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Redis.DB})
		return NewRedisStore(client, cfg.Redis.Prefix), client.Close, nil
	case config.SessionDriverBolt:
		s, err := OpenBoltStore(cfg.Bolt.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("session: unknown driver %q", cfg.Driver)
}

// Controller returns the caller's controller for def. A controller built
// from an older definition is rebuilt, carrying its state over.
func (m *Manager) Controller(ctx context.Context, rctx *model.RequestContext, def *model.ListDefinition) (*listview.Controller, error) {
	key := rctx.ViewKey(def.ID)

	m.mu.Lock()
	if v, ok := m.views[key]; ok && v.def == def {
		v.lastUsed = time.Now()
		m.mu.Unlock()
		return v.ctrl, nil
	}
	m.mu.Unlock()

	ctrl, err, _ := m.build.Do(key, func() (any, error) {
		return m.open(ctx, key, def)
	})
	if err != nil {
		return nil, err
	}
	return ctrl.(*listview.Controller), nil
}

func (m *Manager) open(ctx context.Context, key string, def *model.ListDefinition) (ctrl *listview.Controller, err error) {
	ctx, span := observability.StartSpan(ctx, "view.open",
		observability.AttrListID.String(def.ID),
		observability.AttrDriver.String(m.driver),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	m.mu.Lock()
	prev, hadPrev := m.views[key]
	m.mu.Unlock()
	if hadPrev && prev.def == def {
		return prev.ctrl, nil
	}

	repo, err := m.repos.Repository(ctx, def)
	if err != nil {
		return nil, err
	}

	cfg := listview.ConfigFromDefinition(def)
	cfg.BulkConcurrency = m.bulk
	opts := []listview.Option{listview.WithLogger(m.logger)}
	if m.rec != nil {
		opts = append(opts, listview.WithRecorder(m.rec))
	}

	switch {
	case hadPrev:
		opts = append(opts, listview.WithState(prev.ctrl.State()))
	default:
		st, found, err := m.store.Load(ctx, key)
		switch {
		case err != nil:
			m.recordLoad("error")
			m.logger.Warn("view state load failed, starting fresh",
				zap.String("view_key", key),
				zap.Error(err),
			)
		case found:
			m.recordLoad("hit")
			span.SetAttributes(observability.AttrCacheHit.Bool(true))
			opts = append(opts, listview.WithState(st))
		default:
			m.recordLoad("miss")
		}
	}

	ctrl = listview.New(repo, cfg, opts...)

	m.mu.Lock()
	m.views[key] = &view{ctrl: ctrl, def: def, lastUsed: time.Now()}
	m.evictLocked()
	n := len(m.views)
	m.mu.Unlock()

	if m.rec != nil {
		m.rec.SetActiveViews(n)
	}
	return ctrl, nil
}

// Persist saves the controller's current state.
func (m *Manager) Persist(ctx context.Context, rctx *model.RequestContext, ctrl *listview.Controller) error {
	key := rctx.ViewKey(ctrl.ListID())
	if err := m.store.Save(ctx, key, ctrl.State(), m.ttl); err != nil {
		m.logger.Error("view state save failed",
			zap.String("view_key", key),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Forget drops the caller's controller and stored state for a list.
func (m *Manager) Forget(ctx context.Context, rctx *model.RequestContext, listID string) error {
	key := rctx.ViewKey(listID)
	m.mu.Lock()
	delete(m.views, key)
	n := len(m.views)
	m.mu.Unlock()
	if m.rec != nil {
		m.rec.SetActiveViews(n)
	}
	return m.store.Delete(ctx, key)
}

// Len returns the number of live controllers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// HealthCheck checks the state store.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.store.HealthCheck(ctx)
}

// evictLocked drops least recently used controllers beyond maxViews. Their
// state was persisted after their last change.
func (m *Manager) evictLocked() {
	for m.maxViews > 0 && len(m.views) > m.maxViews {
		var oldest string
		var at time.Time
		for k, v := range m.views {
			if oldest == "" || v.lastUsed.Before(at) {
				oldest, at = k, v.lastUsed
			}
		}
		delete(m.views, oldest)
	}
}

func (m *Manager) recordLoad(result string) {
	if m.rec != nil {
		m.rec.RecordViewStateLoad(m.driver, result)
	}
}
