package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexanderramin/programs/internal/config"
	"github.com/alexanderramin/programs/internal/coursereset"
	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/flags"
	"github.com/alexanderramin/programs/internal/lock"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/reconcile"
	"github.com/alexanderramin/programs/internal/repository"
	"github.com/alexanderramin/programs/internal/service"
	"github.com/alexanderramin/programs/internal/source"
)

// Engine holds the wired services of one programs database.
type Engine struct {
	Config     config.Config
	DB         *sql.DB
	Logger     *slog.Logger
	Bus        *events.Bus
	Providers  platform.Providers
	Sources    *source.Registry
	Reconciler *reconcile.Reconciler
	Active     *flags.ActivePrograms

	Programs      service.ProgramService
	Content       service.ContentService
	Allocations   service.AllocationService
	Completions   service.CompletionService
	Calendar      service.CalendarService
	Notifications service.NotificationService
	Certificates  service.CertificateService

	Import ImportUseCase
	Status StatusUseCase

	redis     *redis.Client
	ownsRedis bool
	ownsDB    bool
}

type options struct {
	logOutput io.Writer
	notifier  platform.Notifier
	redis     *redis.Client
	now       func() time.Time
}

type Option func(*options)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option { return func(o *options) { o.logOutput = w } }

// WithNotifier replaces the log notifier.
func WithNotifier(n platform.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithRedis uses client for flags and locks regardless of redis.addr.
func WithRedis(client *redis.Client) Option { return func(o *options) { o.redis = client } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Open opens the database at cfg.DB.Path and wires an Engine on it.
func Open(cfg config.Config, opts ...Option) (*Engine, error) {
	database, err := db.OpenDB(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	e, err := New(database, cfg, opts...)
	if err != nil {
		database.Close()
		return nil, err
	}
	e.ownsDB = true
	return e, nil
}

// New wires an Engine on an open, migrated database.
func New(database *sql.DB, cfg config.Config, opts ...Option) (*Engine, error) {
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(o.logOutput, &slog.HandlerOptions{Level: level}))

	e := &Engine{Config: cfg, DB: database, Logger: logger, redis: o.redis}
	if e.redis == nil && cfg.Redis.Addr != "" {
		e.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		e.ownsRedis = true
	}

	var (
		store  flags.Store = flags.NewMemoryStore()
		locker lock.Locker = lock.NewLocalLocker()
	)
	if e.redis != nil {
		store = flags.NewRedisStore(e.redis, cfg.Redis.Prefix+"flags:")
		locker = lock.NewRedisLocker(e.redis, cfg.Redis.Prefix+"lock:")
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = &platform.LogNotifier{Logger: logger}
	}

	var (
		useCaseObservers []service.UseCaseObserver
		passObserver     reconcile.PassObserver
	)
	if cfg.Log.Calls {
		useCaseObservers = append(useCaseObservers, service.NewLogUseCaseObserver(o.logOutput))
		passObserver = reconcile.NewLogPassObserver(o.logOutput, level)
	}

	uow := db.NewSQLiteUnitOfWork(database)
	e.Bus = events.NewBus(logger)
	e.Providers = platform.NewSQLite(database, notifier)
	alloc := source.NewAllocator(database, uow, e.Bus, logger)
	if o.now != nil {
		alloc.Now = o.now
	}
	e.Sources = source.NewRegistry(database, alloc, e.Providers.Certifications, e.Bus, cfg.EnabledSources(), logger)
	e.Active = flags.NewActivePrograms(store, repository.NewSQLiteProgramRepo(database).HasActive, logger)
	e.Reconciler = reconcile.New(database, uow, e.Providers, e.Sources, e.Bus, reconcile.Config{
		RoleID:   cfg.Enrol.RoleID,
		Active:   e.Active,
		Observer: passObserver,
		Logger:   logger,
		Now:      o.now,
	})

	deps := service.Deps{
		DB:       database,
		UoW:      uow,
		Sources:  e.Sources,
		Sync:     e.Reconciler,
		Active:   e.Active,
		Bus:      e.Bus,
		Platform: e.Providers,
		Reset:    coursereset.New(e.Providers.Enrolments, e.Providers.Modules, logger),
		Locker:   locker,
		LockWait: cfg.Certificate.LockWait,
		LockTTL:  cfg.Certificate.LockTTL,
		Logger:   logger,
		Now:      o.now,
	}
	e.Programs = service.NewProgramService(deps, useCaseObservers...)
	e.Content = service.NewContentService(deps, useCaseObservers...)
	e.Allocations = service.NewAllocationService(deps, useCaseObservers...)
	e.Completions = service.NewCompletionService(deps, useCaseObservers...)
	e.Calendar = service.NewCalendarService(deps, useCaseObservers...)
	e.Notifications = service.NewNotificationService(deps, useCaseObservers...)
	e.Certificates = service.NewCertificateService(deps, useCaseObservers...)
	e.Reconciler.SetCalendar(e.Calendar)

	e.Import = &importUseCase{engine: e}
	e.Status = &statusUseCase{engine: e, now: deps.Now}
	return e, nil
}

// Ping checks the database and, when configured, redis.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("pinging redis: %w", err)
		}
	}
	return nil
}

// Close releases the connections the Engine opened itself.
func (e *Engine) Close() error {
	var errs []error
	if e.ownsRedis && e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.ownsDB {
		errs = append(errs, e.DB.Close())
	}
	return errors.Join(errs...)
}
