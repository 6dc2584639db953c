package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// DiskChecker checks free space on the data volume
type DiskChecker struct {
	path      string
	degraded  float64 // used percent
	unhealthy float64
	usage     func(path string) (*disk.UsageStat, error)
}

// NewDiskChecker creates a disk checker for the volume holding path
func NewDiskChecker(path string) *DiskChecker {
	return &DiskChecker{
		path:      path,
		degraded:  90,
		unhealthy: 98,
		usage:     disk.Usage,
	}
}

func (c *DiskChecker) Name() string {
	return "disk"
}

func (c *DiskChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.path

	usage, err := c.usage(c.path)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}

	check.Details["used_percent"] = usage.UsedPercent
	check.Details["free_bytes"] = usage.Free

	switch {
	case usage.UsedPercent >= c.unhealthy:
		check.Status = StatusUnhealthy
		check.Message = "Data volume almost full, detections cannot be queued"
	case usage.UsedPercent >= c.degraded:
		check.Status = StatusDegraded
		check.Message = "Data volume running low"
	default:
		check.Status = StatusHealthy
		check.Message = "Disk space OK"
	}
	return check
}

// Pinger is anything with a liveness ping, such as the ledger database
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks the detection ledger
type DatabaseChecker struct {
	db Pinger
}

// NewDatabaseChecker creates a ledger checker. A nil db reports degraded.
func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "Ledger not available"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.db.Ping(ctx); err != nil {
		// Detections are still stored through the queue file
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Ledger ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Ledger OK"
	return check
}

// QueueInspector exposes the offline queue
type QueueInspector interface {
	Len(ctx context.Context) (int, error)
	Path() string
}

// QueueChecker reports the offline queue depth
type QueueChecker struct {
	queue    QueueInspector
	maxDepth int
}

// NewQueueChecker creates a queue checker. A backlog above maxDepth is
// reported as degraded; zero disables the limit.
func NewQueueChecker(queue QueueInspector, maxDepth int) *QueueChecker {
	return &QueueChecker{queue: queue, maxDepth: maxDepth}
}

func (c *QueueChecker) Name() string {
	return "queue"
}

func (c *QueueChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.queue.Path()

	depth, err := c.queue.Len(ctx)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Queue file unreadable: %v", err)
		return check
	}
	check.Details["depth"] = depth

	if c.maxDepth > 0 && depth > c.maxDepth {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d detections waiting for upload", depth)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Queue OK"
	return check
}

// OnlineReporter reports the last known connectivity state
type OnlineReporter interface {
	Online() bool
}

// ConnectivityChecker reports whether the remote store is reachable.
// Offline operation is expected, so it is never worse than degraded.
type ConnectivityChecker struct {
	monitor OnlineReporter
	target  string
}

// NewConnectivityChecker creates a connectivity checker
func NewConnectivityChecker(monitor OnlineReporter, target string) *ConnectivityChecker {
	return &ConnectivityChecker{monitor: monitor, target: target}
}

func (c *ConnectivityChecker) Name() string {
	return "connectivity"
}

func (c *ConnectivityChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["target"] = c.target

	online := c.monitor.Online()
	check.Details["online"] = online
	if !online {
		check.Status = StatusDegraded
		check.Message = "Offline, detections are queued locally"
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Online"
	return check
}

// ActuationReporter exposes the response sequence state
type ActuationReporter interface {
	Paused() bool
	LastError() error
}

// ActuationChecker reports the outcome of the last response sequence
type ActuationChecker struct {
	coordinator ActuationReporter
}

// NewActuationChecker creates an actuation checker
func NewActuationChecker(coordinator ActuationReporter) *ActuationChecker {
	return &ActuationChecker{coordinator: coordinator}
}

func (c *ActuationChecker) Name() string {
	return "actuation"
}

func (c *ActuationChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["busy"] = c.coordinator.Paused()

	if err := c.coordinator.LastError(); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Last response sequence failed: %v", err)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Actuation OK"
	return check
}
