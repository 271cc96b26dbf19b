package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/grcflow/action"
	"github.com/mohitkumar/grcflow/analytics"
	"github.com/mohitkumar/grcflow/approval"
	"github.com/mohitkumar/grcflow/cache"
	"github.com/mohitkumar/grcflow/config"
	"github.com/mohitkumar/grcflow/delegation"
	"github.com/mohitkumar/grcflow/engine"
	"github.com/mohitkumar/grcflow/escalation"
	"github.com/mohitkumar/grcflow/executor"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/metadata"
	"github.com/mohitkumar/grcflow/metrics"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/persistence/memory"
	"github.com/mohitkumar/grcflow/persistence/redis"
	"github.com/mohitkumar/grcflow/persistence/sqlite"
	"github.com/mohitkumar/grcflow/rest"
	"github.com/mohitkumar/grcflow/sla"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Agent struct {
	Config       config.Config
	clock        util.Clock
	locks        *util.KeyedMutex
	repository   *persistence.Repository
	auditLog     *sqlite.EscalationStore
	dispatcher   *action.Dispatcher
	templates    *metadata.Registry
	watcher      *metadata.Watcher
	delegations  *delegation.Registry
	coordinator  *approval.Coordinator
	collector    analytics.WorkflowDataCollector
	metrics      *metrics.Metrics
	tracker      *sla.Tracker
	escalations  *escalation.Manager
	engine       *engine.Engine
	executors    []executor.Executor
	httpServer   *rest.Server
	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		Config: config,
		clock:  util.NewSystemClock(),
		locks:  util.NewKeyedMutex(config.LockStripes),
	}
	setup := []func() error{
		a.setupStorage,
		a.setupActions,
		a.setupTemplates,
		a.setupObservers,
		a.setupApprovals,
		a.setupSLA,
		a.setupEngine,
		a.setupExecutors,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		client := redis.NewClient(redis.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
			PoolSize:  a.Config.RedisConfig.PoolSize,
			Password:  a.Config.RedisConfig.Password,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.repository = client.Repository()
	default:
		a.repository = memory.NewRepository()
	}
	if len(a.Config.SQLiteConfig.Path) > 0 {
		auditLog, err := sqlite.NewEscalationStore(sqlite.Config{Path: a.Config.SQLiteConfig.Path})
		if err != nil {
			return err
		}
		a.auditLog = auditLog
		a.repository.Escalations = auditLog
	}
	logger.Info("storage ready", zap.String("type", string(a.Config.StorageType)), zap.Bool("sqliteAudit", a.auditLog != nil))
	return nil
}

func (a *Agent) setupActions() error {
	a.dispatcher = action.NewDispatcher(action.Options{
		Webhook: action.WebhookConfig{
			Timeout:    a.Config.Actions.WebhookTimeout,
			MaxRetries: a.Config.Actions.WebhookMaxRetries,
		},
		Script: action.ScriptConfig{Timeout: a.Config.Actions.ScriptTimeout},
		Clock:  a.clock,
	})
	return nil
}

func (a *Agent) setupTemplates() error {
	templateCache := cache.NewTemplateCache(a.Config.Templates.CacheTTL)
	a.templates = metadata.NewRegistry(a.repository.Templates, templateCache, a.dispatcher, a.clock)
	dir := a.Config.Templates.Dir
	if len(dir) == 0 {
		return nil
	}
	n, err := a.templates.LoadDir(context.Background(), dir)
	if err != nil {
		return err
	}
	logger.Info("templates loaded", zap.String("dir", dir), zap.Int("count", n))
	if a.Config.Templates.Watch {
		a.watcher, err = metadata.NewWatcher(a.templates, dir, 0, &a.wg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) setupObservers() error {
	var err error
	a.collector, err = analytics.NewDataCollector(a.Config.AnalyticsConfig)
	if err != nil {
		return err
	}
	a.metrics = metrics.NewMetrics()
	return nil
}

func (a *Agent) setupApprovals() error {
	roles := approval.StaticRoleResolver{}
	for role, users := range a.Config.Roles {
		roles[role] = users
	}
	if len(a.Config.ReferenceFile) > 0 {
		ref, err := config.LoadReferenceData(a.Config.ReferenceFile)
		if err != nil {
			return err
		}
		for role, users := range ref.Roles {
			roles[role] = users
		}
		a.Config.SLAConfigs = append(a.Config.SLAConfigs, ref.SLAConfigs...)
	}
	a.delegations = delegation.NewRegistry(a.repository.Delegations, a.clock)
	a.coordinator = approval.NewCoordinator(a.repository.Approvals, a.repository.Steps, a.delegations, roles,
		a.dispatcher, a.clock, a.locks, approval.Config{MaxReminders: a.Config.Sweeps.MaxReminders, BatchSize: a.Config.BatchSize})
	return nil
}

func (a *Agent) setupSLA() error {
	listeners := sla.Listeners{executor.NewSLANotifier(a.repository.Instances, a.dispatcher), a.metrics}
	a.tracker = sla.NewTracker(a.repository.SLA, a.clock, a.locks, listeners, a.Config.BatchSize)
	ctx := context.Background()
	for i := range a.Config.SLAConfigs {
		if err := a.tracker.SaveConfig(ctx, &a.Config.SLAConfigs[i]); err != nil {
			return err
		}
	}
	a.escalations = escalation.NewManager(a.repository, a.templates, a.dispatcher, a.clock, a.locks, a.Config.BatchSize, a.collector, a.metrics)
	return nil
}

func (a *Agent) setupEngine() error {
	a.engine = engine.NewEngine(engine.Options{
		Repository:  a.repository,
		Templates:   a.templates,
		Approvals:   a.coordinator,
		Escalations: a.escalations,
		SLA:         a.tracker,
		Executor:    a.dispatcher,
		Clock:       a.clock,
		Locks:       a.locks,
		Observers:   []engine.Observer{a.collector, a.metrics},
		QueueSize:   a.Config.PostActionQueue,
	})
	return nil
}

func (a *Agent) setupExecutors() error {
	sweeps := a.Config.Sweeps
	a.executors = append(a.executors, executor.NewEscalationExecutor(a.escalations, sweeps.EscalationInterval, a.metrics, &a.wg))
	if len(sweeps.SLASchedule) > 0 {
		ex, err := executor.NewSLAExecutor(a.tracker, sweeps.SLASchedule, a.metrics)
		if err != nil {
			return err
		}
		a.executors = append(a.executors, ex)
	}
	if len(sweeps.ReminderSchedule) > 0 {
		ex, err := executor.NewReminderExecutor(a.coordinator, sweeps.ReminderSchedule, sweeps.ReminderWindow, sweeps.ReminderInterval, a.metrics)
		if err != nil {
			return err
		}
		a.executors = append(a.executors, ex)
	}
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.engine, a.templates, a.delegations, a.metrics.Handler())
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	a.engine.StartWorkers()
	if a.watcher != nil {
		a.watcher.Start()
	}
	for _, ex := range a.executors {
		if err := ex.Start(); err != nil {
			return fmt.Errorf("starting %s: %w", ex.Name(), err)
		}
		logger.Info("executor started", zap.String("name", ex.Name()))
	}
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
	}
	for _, ex := range a.executors {
		shutdown = append(shutdown, ex.Stop)
	}
	if a.watcher != nil {
		shutdown = append(shutdown, a.watcher.Stop)
	}
	shutdown = append(shutdown, func() error {
		a.engine.Stop()
		return nil
	}, a.collector.Close)
	if a.auditLog != nil {
		shutdown = append(shutdown, a.auditLog.Close)
	}
	var errs error
	for _, fn := range shutdown {
		errs = multierr.Append(errs, fn())
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return errs
}
