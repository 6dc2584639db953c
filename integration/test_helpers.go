package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir     string
	Config      *config.Config
	Ledger      *state.Manager
	Queue       *events.Queue
	Logger      *logger.Logger
	CleanupFunc func()
}

// SetupTestEnvironment writes a configuration file into a temp directory,
// loads it and opens the ledger and queue it names
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")
	_ = os.MkdirAll(dataDir, 0755)

	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := fmt.Sprintf(`
sentinel:
  data_dir: %q
  connectivity:
    target: "127.0.0.1:9"
    timeout: 200ms
  remote:
    backend: nats
log:
  level: debug
  format: text
`, dataDir)
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Config is invalid: %v", err)
	}

	log := logger.NewNopLogger()

	ledger, err := state.NewManager(cfg.Sentinel.Queue.LedgerPath, log)
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}

	queue := events.NewQueue(events.QueueConfig{
		Path:   cfg.Sentinel.Queue.Path,
		Ledger: ledger,
	}, log)

	env := &TestEnvironment{
		TempDir: tmpDir,
		Config:  cfg,
		Ledger:  ledger,
		Queue:   queue,
		Logger:  log,
	}
	env.CleanupFunc = func() {
		env.Ledger.Close()
	}
	return env
}

// Cleanup cleans up the test environment
func (e *TestEnvironment) Cleanup() {
	if e.CleanupFunc != nil {
		e.CleanupFunc()
	}
}

// Restart closes the ledger and reopens ledger and queue from the same
// paths, as a reboot would
func (e *TestEnvironment) Restart(t *testing.T) {
	e.Ledger.Close()

	ledger, err := state.NewManager(e.Config.Sentinel.Queue.LedgerPath, e.Logger)
	if err != nil {
		t.Fatalf("Failed to reopen ledger: %v", err)
	}
	e.Ledger = ledger
	e.Queue = events.NewQueue(events.QueueConfig{
		Path:   e.Config.Sentinel.Queue.Path,
		Ledger: ledger,
	}, e.Logger)
}

// WriteImage creates an image file under the environment's temp directory
func (e *TestEnvironment) WriteImage(t *testing.T, name string) string {
	path := filepath.Join(e.TempDir, name)
	if err := os.WriteFile(path, []byte("jpeg:"+name), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path
}

// ListenLocal accepts and immediately closes connections until the test ends
func ListenLocal(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	return l.Addr().String()
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}
	return condition()
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
