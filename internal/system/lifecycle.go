package system

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/api/rest"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/api/websocket"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/interfaces"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/modbus"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/multiplexer"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/poller"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/registers"
	"github.com/KevinKickass/OpenHeatTelemetry/internal/storage"
	"go.uber.org/zap"
)

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

type LifecycleManager struct {
	config  *config.Config
	catalog *registers.Catalog
	store   storage.Store
	poller  *poller.Poller
	logger  *zap.Logger

	restServer *rest.Server
	wsHub      *websocket.Hub

	stateMu      sync.RWMutex
	currentState SystemState

	cyclesTotal  atomic.Int64
	cyclesFailed atomic.Int64

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires catalog, store and poller from cfg. The store
// is only opened when persistence is enabled.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	lm.catalog = catalog

	var resolver *multiplexer.Resolver
	if m := catalog.Multiplexer(); m != nil {
		resolver, err = multiplexer.NewResolver(m, cfg.Multiplexer.SensorRegisters)
		if err != nil {
			return nil, fmt.Errorf("failed to build phase resolver: %w", err)
		}
	} else if len(cfg.Multiplexer.SensorRegisters) > 0 {
		return nil, fmt.Errorf("sensor_registers configured but profile %s has no multiplexer", catalog.Profile().ID)
	}

	dial, err := modbus.NewDialer(cfg.Transport)
	if err != nil {
		return nil, err
	}

	var writer poller.Writer
	if cfg.Persistence.Enabled {
		store, err := storage.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		lm.store = store

		var aux *storage.Auxiliary
		if a := cfg.Auxiliary; a.Enabled {
			aux = &storage.Auxiliary{Table: a.Table, Column: a.Column, Key: a.Key, Target: a.TargetColumn}
		}

		pw, err := storage.NewPivotWriter(store, cfg.Persistence.Table, aux, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		writer = pw

		logger.Info("Database connected successfully",
			zap.String("driver", cfg.Database.Driver),
			zap.String("table", cfg.Persistence.Table))
	}

	retry := modbus.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
		Multiplier:  cfg.Retry.Multiplier,
	}

	lm.poller = poller.New(catalog, resolver, dial, retry, writer, poller.OptionsFromConfig(cfg), logger)
	lm.poller.Subscribe(lm.onCycle)

	lm.wsHub = websocket.NewHub(logger)
	lm.wsHub.SetSnapshotProvider(lm)

	return lm, nil
}

func loadCatalog(cfg config.CatalogConfig) (*registers.Catalog, error) {
	loader, err := registers.NewProfileLoader(cfg.SearchPaths)
	if err != nil {
		return nil, err
	}

	if cfg.Path != "" {
		return loader.LoadFile(cfg.Path)
	}
	return loader.Load(cfg.Profile)
}

// Start starts polling and the operator API.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenHeatTelemetry",
		zap.String("profile", lm.catalog.Profile().ID),
		zap.String("transport", lm.config.Transport.Kind))

	if lm.config.Server.Enabled {
		go lm.wsHub.Run()

		lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub)
		if err := lm.restServer.Start(); err != nil {
			lm.setError(fmt.Errorf("failed to start REST API: %w", err))
			return err
		}
	}

	if err := lm.poller.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start poller: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Bool("api_enabled", lm.config.Server.Enabled),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("persistence_enabled", lm.config.Persistence.Enabled))

	return nil
}

// RunOnce polls a single cycle, for scheduled batch invocation.
func (lm *LifecycleManager) RunOnce(ctx context.Context) (poller.CycleResult, error) {
	lm.setState(StateRunning)
	res := lm.poller.RunCycle(ctx)
	return res, res.Err
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// Polling zuerst stoppen, der laufende Zyklus wird noch beendet
	done := make(chan struct{})
	go func() {
		lm.poller.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}

	var firstErr error
	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}
	lm.wsHub.Stop()

	if lm.store != nil {
		if err := lm.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("database close failed: %w", err)
		}
	}

	if firstErr == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return firstErr
}

func (lm *LifecycleManager) onCycle(res poller.CycleResult) {
	lm.cyclesTotal.Add(1)
	if res.Err != nil {
		lm.cyclesFailed.Add(1)
	}
	lm.wsHub.Broadcast(websocket.NewCycleMessage(res))
}

// Snapshot gives new websocket clients the latest cycle.
func (lm *LifecycleManager) Snapshot() (websocket.Message, bool) {
	res, ok := lm.poller.Last()
	if !ok {
		return websocket.Message{}, false
	}
	return websocket.NewCycleMessage(res), true
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	previous := lm.currentState
	if previous == state {
		lm.stateMu.Unlock()
		return
	}
	if err := ValidateTransition(previous, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.wsHub.Broadcast(websocket.NewSystemStateMessage(state.String(), previous.String()))
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := interfaces.SystemStatus{
		State:              lm.State().String(),
		Profile:            lm.catalog.Profile().ID,
		Transport:          lm.config.Transport.Kind,
		PersistenceEnabled: lm.config.Persistence.Enabled,
		CyclesTotal:        lm.cyclesTotal.Load(),
		CyclesFailed:       lm.cyclesFailed.Load(),
	}
	if res, ok := lm.poller.Last(); ok {
		at := res.StartedAt.Add(res.Duration).Truncate(time.Millisecond)
		status.LastCycleAt = &at
	}
	return status
}

func (lm *LifecycleManager) LatestCycle() (poller.CycleResult, bool) {
	return lm.poller.Last()
}

func (lm *LifecycleManager) Catalog() *registers.Catalog {
	return lm.catalog
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
