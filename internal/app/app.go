// Package app wires the appliance together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/actuation"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/connectivity"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/gate"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/notify"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/serial"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/sink"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/telemetry"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/web"
)

const queueDepthInterval = 30 * time.Second

// Options overrides components that are normally built from configuration
type Options struct {
	Version  string
	Detector pipeline.Detector  // defaults to JSON lines on stdin
	Actuator actuation.Actuator // defaults to the dry-run actuator
	Opener   serial.Opener      // defaults to real serial devices
	Sink     sink.Sink          // defaults to the configured backend
	Reporter *telemetry.Reporter
	Registry *prometheus.Registry
}

// App is the assembled appliance
type App struct {
	cfg     *config.Config
	logger  *logger.Logger
	version string

	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	reporter    *telemetry.Reporter
	ledger      *state.Manager
	queue       *events.Queue
	sink        sink.Sink
	probe       *connectivity.Probe
	monitor     *connectivity.Monitor
	arbiter     *serial.Arbiter
	gate        *gate.Gate
	coordinator *actuation.Coordinator
	recorder    *events.Recorder
	notifier    pipeline.Notifier
	loop        *pipeline.Loop
	services    *service.Manager
	health      *health.Manager
	web         *web.Server
}

// New builds every component. Nothing is started and nothing needs the
// network, so it succeeds while offline.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	s := cfg.Sentinel
	a := &App{cfg: cfg, logger: log, version: opts.Version, reporter: opts.Reporter}

	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a.registry = opts.Registry
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, err
	}
	a.metrics = m

	// The ledger is an index; detections are safe in the queue without it
	if err := os.MkdirAll(filepath.Dir(s.Queue.LedgerPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	ledger, err := state.NewManager(s.Queue.LedgerPath, log)
	if err != nil {
		log.Warn("Detection ledger unavailable, continuing without it", "path", s.Queue.LedgerPath, "error", err)
	} else {
		a.ledger = ledger
	}

	a.queue = events.NewQueue(events.QueueConfig{
		Path:    s.Queue.Path,
		Ledger:  a.eventLedger(),
		Metrics: m,
	}, log)

	a.sink = opts.Sink
	if a.sink == nil {
		a.sink, err = sink.New(ctx, s.Remote, log)
		if err != nil {
			a.closeLedger()
			return nil, fmt.Errorf("failed to create remote sink: %w", err)
		}
	}

	a.probe = connectivity.NewProbe(s.Connectivity.Target, s.Connectivity.Timeout)

	opener := opts.Opener
	if opener == nil {
		opener = &serial.DeviceOpener{
			BaudRate:    s.Serial.BaudRate,
			OpenTimeout: s.Serial.OpenTimeout,
			ReadTimeout: s.Serial.RetryDelay,
		}
	}
	a.arbiter = serial.NewArbiter(serial.ArbiterConfig{
		Opener:     opener,
		Ports:      s.Serial.Ports,
		Retries:    s.Serial.Retries,
		RetryDelay: s.Serial.RetryDelay,
		Metrics:    m,
	}, log)

	a.gate = gate.New(gate.Config{
		MinConfidence: s.MinConfidence,
		Suppressed:    s.SuppressedSpecies,
		Catalog:       gate.NewCatalog(s.Species, s.RiskLevels),
		Metrics:       m,
	}, log)

	actuator := opts.Actuator
	if actuator == nil {
		actuator = actuation.NewLogActuator(log)
	}
	a.coordinator = actuation.NewCoordinator(actuation.CoordinatorConfig{
		Actuator: actuator,
		Runner: actuation.NewSequence(actuation.SequenceConfig{
			Actuator:   actuator,
			Steps:      s.Actuation.Steps,
			DriveSpeed: s.Actuation.DriveSpeed,
			MaxDrive:   s.Actuation.MaxDriveTime,
		}, log),
		RecoverTimeout: s.Actuation.RecoverTimeout,
		Reporter:       a.reporter,
		Metrics:        m,
	}, log)

	a.recorder = events.NewRecorder(events.RecorderConfig{
		Queue:        a.queue,
		Sink:         a.sink,
		Probe:        a.probe,
		ProbeTimeout: s.Connectivity.Timeout,
		Ledger:       a.eventLedger(),
		Metrics:      m,
	}, log)

	a.services = service.NewManager(log)
	a.services.Register(a.coordinator)

	var mqttNotifier *notify.MQTTNotifier
	a.notifier = notify.Nop{}
	if s.Notify.MQTT.Enabled {
		mqttNotifier = notify.NewMQTTNotifier(s.Notify.MQTT, m, log)
		a.notifier = mqttNotifier
	}

	a.monitor = connectivity.NewMonitor(connectivity.MonitorConfig{
		Probe:    a.probe,
		Interval: s.Connectivity.Interval,
		Timeout:  s.Connectivity.Timeout,
		OnOnline: a.drainOnReconnect,
		Metrics:  m,
	}, log)

	a.health = health.NewManager(log, a.services)
	a.health.RegisterChecker(health.NewDiskChecker(s.DataDir))
	a.health.RegisterChecker(health.NewDatabaseChecker(a.healthLedger()))
	a.health.RegisterChecker(health.NewQueueChecker(a.queue, 1000))
	a.health.RegisterChecker(health.NewConnectivityChecker(a.monitor, s.Connectivity.Target))
	a.health.RegisterChecker(health.NewActuationChecker(a.coordinator))

	a.web = web.NewServer(&s.Web, log)
	if opts.Version != "" {
		a.web.SetVersion(opts.Version)
	}
	a.web.SetDependencies(web.Dependencies{
		Health:       a.health,
		Coordinator:  a.coordinator,
		Queue:        a.queue,
		Ledger:       a.webLedger(),
		Sensor:       a.arbiter,
		Connectivity: a.monitor,
		Drainer:      web.DrainerFunc(a.DrainOnce),
		Gatherer:     a.registry,
	})
	a.services.Register(a.web)
	if mqttNotifier != nil {
		a.services.Register(mqttNotifier)
	}
	// Last, so the startup drain runs once everything else is up
	a.services.Register(a.monitor)

	detector := opts.Detector
	if detector == nil {
		detector = pipeline.NewJSONLinesDetector("-", log)
	}
	a.loop = pipeline.NewLoop(pipeline.LoopConfig{
		Detector:        detector,
		Gate:            a.gate,
		Responder:       a.coordinator,
		Sensor:          a.arbiter,
		Recorder:        a.recorder,
		Notifier:        a.notifier,
		WarmupFrames:    s.WarmupFrames,
		PerMinute:       s.DetectionsPerMinute,
		ShutdownTimeout: s.Actuation.ShutdownTimeout,
		EventBus:        a.services.GetEventBus(),
	}, log)

	return a, nil
}

// Run starts the services and processes detections until ctx is done or
// the detector is exhausted, then shuts down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.saveState(runCtx, state.KeyLastStartedAt, time.Now().Format(time.RFC3339))
	a.saveState(runCtx, state.KeyVersion, a.version)

	if err := a.services.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return a.loop.Run(gctx)
	})
	g.Go(func() error {
		a.watchQueueDepth(gctx)
		return nil
	})
	runErr := g.Wait()

	a.logger.Info("Shutting down", "timeout", a.cfg.Sentinel.Actuation.ShutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Sentinel.Actuation.ShutdownTimeout)
	defer shutdownCancel()

	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown waits for an in-flight response sequence, stops every service and
// releases the remote sink and the ledger
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.coordinator.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.services.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(append(errs, a.Close(ctx))...)
}

// Close releases the remote sink and the ledger without touching services
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.sink.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	if err := a.closeLedger(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}
	a.reporter.Flush(2 * time.Second)
	return errors.Join(errs...)
}

// DrainOnce uploads the queue if the remote store is reachable
func (a *App) DrainOnce(ctx context.Context) (events.DrainResult, error) {
	if err := a.probe.Check(ctx); err != nil {
		return events.DrainResult{}, err
	}
	return a.drain(ctx)
}

// ReadSensor takes one sensor snapshot
func (a *App) ReadSensor(ctx context.Context) (serial.Snapshot, error) {
	return a.arbiter.ReadSnapshot(ctx)
}

// Probe checks reachability of the connectivity target
func (a *App) Probe(ctx context.Context) error {
	return a.probe.Check(ctx)
}

// Queue returns the offline queue
func (a *App) Queue() *events.Queue {
	return a.queue
}

func (a *App) drainOnReconnect(ctx context.Context) {
	a.saveState(ctx, state.KeyLastOnlineAt, time.Now().Format(time.RFC3339))
	if _, err := a.drain(ctx); err != nil {
		a.logger.Warn("Drain after reconnect failed", "error", err)
	}
}

func (a *App) drain(ctx context.Context) (events.DrainResult, error) {
	result, err := a.queue.Drain(ctx, a.sink)
	data := map[string]interface{}{
		"uploaded":  result.Uploaded,
		"skipped":   result.Skipped,
		"remaining": result.Remaining,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	a.services.GetEventBus().Publish(service.Event{
		Type:   service.EventTypeQueueDrained,
		Source: "queue",
		Data:   data,
	})
	return result, err
}

// watchQueueDepth keeps the queue depth gauge current between writes
func (a *App) watchQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		if n, err := a.queue.Len(ctx); err == nil {
			a.metrics.SetQueueDepth(n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) saveState(ctx context.Context, key, value string) {
	if a.ledger == nil || value == "" {
		return
	}
	if err := a.ledger.SaveSystemState(ctx, key, value); err != nil {
		a.logger.Warn("Failed to save system state", "key", key, "error", err)
	}
}

func (a *App) closeLedger() error {
	if a.ledger == nil {
		return nil
	}
	err := a.ledger.Close()
	a.ledger = nil
	return err
}

// The ledger is optional; a nil *state.Manager must reach consumers as a nil
// interface
func (a *App) eventLedger() events.Ledger {
	if a.ledger == nil {
		return nil
	}
	return a.ledger
}

func (a *App) healthLedger() health.Pinger {
	if a.ledger == nil {
		return nil
	}
	return a.ledger
}

func (a *App) webLedger() web.Ledger {
	if a.ledger == nil {
		return nil
	}
	return a.ledger
}
