package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/efeuentertainment/vigiclient/internal/api/rest"
	"github.com/efeuentertainment/vigiclient/internal/api/websocket"
	"github.com/efeuentertainment/vigiclient/internal/config"
	"github.com/efeuentertainment/vigiclient/internal/engine"
	"github.com/efeuentertainment/vigiclient/internal/interfaces"
	"github.com/efeuentertainment/vigiclient/internal/profile"
	"github.com/efeuentertainment/vigiclient/internal/sensors"
	"github.com/efeuentertainment/vigiclient/internal/session"
	"github.com/efeuentertainment/vigiclient/internal/storage"
	"github.com/efeuentertainment/vigiclient/internal/transport"
	"github.com/efeuentertainment/vigiclient/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// EngineService is the gRPC health service name mirroring the engine.
const EngineService = "vigiclient.Engine"

const (
	reconfigureTimeout = 5 * time.Second
	liveSnapshotPeriod = time.Second
)

type LifecycleManager struct {
	loader   *config.Loader
	profiles *profile.Loader
	logger   *zap.Logger

	engine    *engine.Engine
	transport *transport.Manager
	poller    *sensors.Poller
	hub       *websocket.Hub
	storage   *storage.PostgresClient
	journal   *storage.Journal

	closeHardware func() error
	initial       *types.Profile

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateMu      sync.RWMutex
	config       *config.Config
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager loads the hardware profile, opens the backends and
// builds every component. loader may be nil, which disables hot reload.
func NewLifecycleManager(cfg *config.Config, loader *config.Loader, version string, logger *zap.Logger) (*LifecycleManager, error) {
	profiles, err := profile.NewLoader()
	if err != nil {
		return nil, err
	}

	p, err := profiles.Load(cfg.Robot.ProfilePath)
	if err != nil {
		return nil, err
	}

	backends, closeHardware, err := openHardware(p, cfg.Hardware.I2CBus, cfg.Robot.DryRun, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open hardware: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm := &LifecycleManager{
		loader:        loader,
		profiles:      profiles,
		logger:        logger,
		closeHardware: closeHardware,
		initial:       p,
		ctx:           ctx,
		cancel:        cancel,
		config:        cfg,
		currentState:  StateInitializing,
		shutdownChan:  make(chan struct{}),
	}

	lm.transport = transport.NewManager(cfg.Servers, version, lm, logger)
	lm.transport.SetProfileHandler(lm.applyRemoteProfile)

	lm.engine, err = engine.New(engine.Config{
		TickRate:          cfg.Robot.TickRate,
		TxRate:            cfg.Robot.TxRate,
		InactivityTimeout: cfg.Robot.InactivityTimeout,
		LatencyAlarmBegin: cfg.Robot.LatencyAlarmBegin,
		LatencyAlarmEnd:   cfg.Robot.LatencyAlarmEnd,
		BeaconRate:        cfg.Robot.BeaconRate,
		RemoteDebug:       cfg.Trace.RemoteDebug,
	}, backends, lm.transport, logger)
	if err != nil {
		cancel()
		closeHardware()
		return nil, err
	}

	store := sensors.NewStore()
	lm.poller = sensors.NewPoller(sensors.Config(cfg.Sensors), store, logger)
	lm.engine.SetSensors(store)

	lm.hub = websocket.NewHub(logger, liveSnapshotPeriod)
	lm.hub.SetSnapshotProvider(lm)
	handlers := fanout{lm.hub}

	if cfg.Database.Enabled {
		db, err := storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			cancel()
			closeHardware()
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			cancel()
			closeHardware()
			return nil, err
		}
		lm.storage = db
		lm.journal = storage.NewJournal(db, logger)
		handlers = append(handlers, lm.journal)
		logger.Info("Session journal enabled",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
	}
	lm.engine.SetEventHandler(handlers)

	lm.health = health.NewServer()
	lm.health.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)

	return lm, nil
}

// Start runs the engine, applies the initial profile and starts the
// servers. A profile the backends reject is returned as an error.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting robot client",
		zap.Strings("servers", lm.transport.Servers()),
		zap.Bool("dry_run", lm.Config().Robot.DryRun))

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		if err := lm.engine.Run(lm.ctx); err != nil {
			lm.logger.Error("Engine stopped", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(lm.ctx, reconfigureTimeout)
	err := lm.engine.Reconfigure(ctx, lm.initial)
	cancel()
	if err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to apply profile: %w", err)
	}
	lm.health.SetServingStatus(EngineService, healthpb.HealthCheckResponse_SERVING)

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		lm.hub.Run(lm.ctx)
	}()

	if lm.journal != nil {
		lm.journal.Start()
	}
	lm.poller.Start()
	lm.transport.Start(lm.ctx)

	if err := lm.startGRPCServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	if lm.loader != nil {
		lm.loader.Watch(lm.onConfigChange)
	}

	lm.setState(StateRunning)

	cfg := lm.Config()
	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Int("http_port", cfg.Server.HTTPPort))

	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	port := lm.Config().Server.GRPCPort
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.Config(), lm, lm.logger, lm.hub)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) onConfigChange(cfg *config.Config, err error) {
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		lm.logger.Error("Ignoring invalid configuration change", zap.Error(err))
		return
	}

	// The backends were opened once, so the running hardware mode stays.
	lm.stateMu.Lock()
	cfg.Robot.DryRun = lm.config.Robot.DryRun
	lm.config = cfg
	lm.stateMu.Unlock()

	lm.logger.Info("Configuration changed, reloading profile",
		zap.String("profile", cfg.Robot.ProfilePath))

	if err := lm.ReloadProfile(lm.ctx); err != nil {
		lm.logger.Error("Profile reload failed, keeping previous profile",
			zap.Error(err))
	}
}

// ReloadProfile re-reads the configured profile file and applies it.
func (lm *LifecycleManager) ReloadProfile(ctx context.Context) error {
	lm.setState(StateReloading)
	defer lm.setState(StateRunning)

	lm.profiles.ClearCache()
	p, err := lm.profiles.Load(lm.Config().Robot.ProfilePath)
	if err != nil {
		return err
	}

	return lm.reconfigure(ctx, p)
}

func (lm *LifecycleManager) applyRemoteProfile(station string, doc []byte) {
	p, err := lm.profiles.Parse(doc, profile.FormatJSON)
	if err == nil {
		err = lm.reconfigure(lm.ctx, p)
	}
	if err != nil {
		lm.logger.Warn("Rejected remote profile",
			zap.String("station", station),
			zap.Error(err))
		lm.transport.SendTrace("Configuration rejected: "+err.Error(), true)
		return
	}

	lm.logger.Info("Remote profile applied",
		zap.String("station", station))
}

func (lm *LifecycleManager) reconfigure(ctx context.Context, p *types.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, reconfigureTimeout)
	defer cancel()
	return lm.engine.Reconfigure(ctx, p)
}

// OnFrame and OnDisconnect forward transport events to the engine.
func (lm *LifecycleManager) OnFrame(station string, data []byte, timestamp time.Time) {
	lm.engine.OnFrame(station, data, timestamp)
}

func (lm *LifecycleManager) OnDisconnect(station string) {
	lm.engine.OnDisconnect(station)
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.health.Shutdown()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	// No more frames once the stations are gone, then the engine releases
	// every output before the hardware is closed.
	lm.transport.Stop()
	lm.poller.Stop()
	lm.cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		lm.wg.Wait()
		close(done)
	}()

	var errs error
	stopped := true
	select {
	case <-done:
	case <-ctx.Done():
		stopped = false
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = multierr.Append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	if lm.journal != nil {
		lm.journal.Stop()
	}
	if lm.storage != nil {
		lm.storage.Close()
	}

	// The engine may still drive the pins after a timeout.
	if stopped {
		close(errChan)
		for err := range errChan {
			errs = multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, lm.closeHardware())
	} else {
		lm.logger.Warn("Engine still running, hardware left open")
	}

	if errs == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errs
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Debug("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:       lm.State().String(),
		Initialized: lm.engine.Initialized(),
		Servers:     lm.transport.Servers(),
		LiveClients: lm.hub.GetClientCount(),
		Journal:     lm.storage != nil,
	}
}

func (lm *LifecycleManager) RecentEvents(ctx context.Context, limit int) ([]session.Event, error) {
	if lm.storage == nil {
		return nil, interfaces.ErrJournalDisabled
	}
	return lm.storage.RecentEvents(ctx, limit)
}

func (lm *LifecycleManager) Snapshot() *engine.Snapshot {
	return lm.engine.Snapshot()
}

// LiveSnapshot feeds the live WebSocket hub.
func (lm *LifecycleManager) LiveSnapshot() any {
	return lm.engine.Snapshot()
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.config
}

// Health exposes the gRPC health server.
func (lm *LifecycleManager) Health() *health.Server {
	return lm.health
}
