package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Sentinel SentinelConfig `yaml:"sentinel"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// SentinelConfig contains the detection appliance configuration
type SentinelConfig struct {
	DataDir             string            `yaml:"data_dir"`
	MinConfidence       int               `yaml:"min_confidence"`
	SuppressedSpecies   []string          `yaml:"suppressed_species"`
	Species             map[string]string `yaml:"species"`     // label -> scientific name overrides
	RiskLevels          map[string]int    `yaml:"risk_levels"` // label -> risk level overrides
	WarmupFrames        int               `yaml:"warmup_frames"`
	DetectionsPerMinute int               `yaml:"detections_per_minute"`

	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Serial       SerialConfig       `yaml:"serial"`
	Actuation    ActuationConfig    `yaml:"actuation"`
	Remote       RemoteConfig       `yaml:"remote"`
	Notify       NotifyConfig       `yaml:"notify"`
	Web          WebConfig          `yaml:"web"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// QueueConfig contains the offline queue configuration
type QueueConfig struct {
	Path       string `yaml:"path"`
	LedgerPath string `yaml:"ledger_path"`
}

// ConnectivityConfig contains the reachability probe configuration
type ConnectivityConfig struct {
	Target   string        `yaml:"target"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// SerialConfig contains the sensor serial line configuration
type SerialConfig struct {
	Ports       []string      `yaml:"ports"`
	BaudRate    int           `yaml:"baud_rate"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// ActuationConfig contains the response sequence configuration
type ActuationConfig struct {
	Steps           map[string]time.Duration `yaml:"steps"`
	DriveSpeed      float64                  `yaml:"drive_speed"`
	MaxDriveTime    time.Duration            `yaml:"max_drive_time"`
	RecoverTimeout  time.Duration            `yaml:"recover_timeout"`
	ShutdownTimeout time.Duration            `yaml:"shutdown_timeout"`
}

// RemoteConfig contains the remote store configuration
type RemoteConfig struct {
	Backend    string        `yaml:"backend"` // mongo | nats
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	NATSURL    string        `yaml:"nats_url"`
	Subject    string        `yaml:"subject"`
	Timeout    time.Duration `yaml:"timeout"`
}

// NotifyConfig contains detection announcement configuration
type NotifyConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // never logged
}

// WebConfig contains status server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// TelemetryConfig contains error reporting configuration
type TelemetryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the configuration file. A .env file next to the
// configuration is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data, applies environment overrides and
// defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/sentinel/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// applyEnv overrides secrets from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("SENTINEL_REMOTE_URI"); v != "" {
		c.Sentinel.Remote.URI = v
	} else if v := os.Getenv("MONGO_URI"); v != "" && c.Sentinel.Remote.URI == "" {
		c.Sentinel.Remote.URI = v
	}
	if v := os.Getenv("SENTINEL_SENTRY_DSN"); v != "" {
		c.Sentinel.Telemetry.SentryDSN = v
	}
	if v := os.Getenv("SENTINEL_MQTT_PASSWORD"); v != "" {
		c.Sentinel.Notify.MQTT.Password = v
	}
	c.Sentinel.Remote.URI = os.ExpandEnv(c.Sentinel.Remote.URI)
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	s := &c.Sentinel
	if s.DataDir == "" {
		s.DataDir = "./data"
	}
	if s.MinConfidence == 0 {
		s.MinConfidence = 70
	}
	if s.SuppressedSpecies == nil {
		s.SuppressedSpecies = []string{"spotted lanternfly"}
	}
	if s.WarmupFrames == 0 {
		s.WarmupFrames = 50
	}
	if s.DetectionsPerMinute == 0 {
		s.DetectionsPerMinute = 6
	}

	if s.Queue.Path == "" {
		s.Queue.Path = filepath.Join(s.DataDir, "holding_species.json")
	}
	if s.Queue.LedgerPath == "" {
		s.Queue.LedgerPath = filepath.Join(s.DataDir, "db", "ledger.db")
	}

	if s.Connectivity.Target == "" {
		s.Connectivity.Target = "8.8.8.8:53"
	}
	if s.Connectivity.Timeout == 0 {
		s.Connectivity.Timeout = 3 * time.Second
	}
	if s.Connectivity.Interval == 0 {
		s.Connectivity.Interval = 50 * time.Second
	}

	if len(s.Serial.Ports) == 0 {
		s.Serial.Ports = []string{"/dev/ttyUSB2", "/dev/ttyUSB1", "/dev/ttyUSB0", "/dev/ttyACM0"}
	}
	if s.Serial.BaudRate == 0 {
		s.Serial.BaudRate = 9600
	}
	if s.Serial.OpenTimeout == 0 {
		s.Serial.OpenTimeout = time.Second
	}
	if s.Serial.Retries == 0 {
		s.Serial.Retries = 5
	}
	if s.Serial.RetryDelay == 0 {
		s.Serial.RetryDelay = time.Second
	}

	if s.Actuation.Steps == nil {
		s.Actuation.Steps = make(map[string]time.Duration)
	}
	for step, d := range map[string]time.Duration{
		"indicate": time.Second,
		"approach": 2 * time.Second,
		"point":    5 * time.Second,
		"retreat":  2 * time.Second,
		"reset":    10 * time.Second,
	} {
		if _, ok := s.Actuation.Steps[step]; !ok {
			s.Actuation.Steps[step] = d
		}
	}
	if s.Actuation.DriveSpeed == 0 {
		s.Actuation.DriveSpeed = 0.2
	}
	if s.Actuation.MaxDriveTime == 0 {
		s.Actuation.MaxDriveTime = 10 * time.Second
	}
	if s.Actuation.RecoverTimeout == 0 {
		s.Actuation.RecoverTimeout = 10 * time.Second
	}
	if s.Actuation.ShutdownTimeout == 0 {
		s.Actuation.ShutdownTimeout = 30 * time.Second
	}

	if s.Remote.Backend == "" {
		s.Remote.Backend = "mongo"
	}
	s.Remote.Backend = strings.ToLower(s.Remote.Backend)
	if s.Remote.Database == "" {
		s.Remote.Database = "insect_identification"
	}
	if s.Remote.Collection == "" {
		s.Remote.Collection = "species"
	}
	if s.Remote.NATSURL == "" {
		s.Remote.NATSURL = "nats://localhost:4222"
	}
	if s.Remote.Subject == "" {
		s.Remote.Subject = "sentinel.detections"
	}
	if s.Remote.Timeout == 0 {
		s.Remote.Timeout = 10 * time.Second
	}

	if s.Notify.MQTT.Broker == "" {
		s.Notify.MQTT.Broker = "tcp://localhost:1883"
	}
	if s.Notify.MQTT.Topic == "" {
		s.Notify.MQTT.Topic = "sentinel/detections"
	}
	if s.Notify.MQTT.ClientID == "" {
		s.Notify.MQTT.ClientID = "sentinel"
	}

	if s.Web.Host == "" {
		s.Web.Host = "0.0.0.0"
	}
	if s.Web.Port == 0 {
		s.Web.Port = 8080
	}

	if s.Telemetry.Environment == "" {
		s.Telemetry.Environment = "field"
	}
}
