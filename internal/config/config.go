package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration, loaded once at startup from a
// YAML file with env overrides. Pipeline tunables live in Tuning and may be
// hot-reloaded by the watcher; everything else is fixed for the process
// lifetime.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Detector DetectorConfig `yaml:"detector"`
	Tuning   TuningConfig   `yaml:"tuning"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"` // base subject, suffixed per event stage
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	FramesPath string `yaml:"frames_path"`
	ModelsPath string `yaml:"models_path"`
}

type DetectorConfig struct {
	ONNXLibraryPath string `yaml:"onnx_library_path"`
	OpenVocabURL    string `yaml:"open_vocab_url"`
}

// TuningConfig holds the hot-reloadable pipeline tunables.
type TuningConfig struct {
	StreamBufferSize     int           `yaml:"stream_buffer_size"`
	StreamReconnectDelay time.Duration `yaml:"stream_reconnect_delay"`
	InferenceEveryNth    int           `yaml:"inference_every_nth_frame"`
	EventCooldown        time.Duration `yaml:"event_cooldown"`
	OrchestratorPoll     time.Duration `yaml:"orchestrator_poll_interval"`
	SettingsRefresh      time.Duration `yaml:"settings_refresh_interval"`

	SafetyScan SafetyScanConfig `yaml:"safety_scan"`
}

// SafetyScanConfig carries the anti-hallucination thresholds. The critical
// bypass value is configuration rather than a constant so it can be retuned
// without a release.
type SafetyScanConfig struct {
	ConfidenceFloor    int           `yaml:"confidence_floor"`     // percent, verdicts below are discarded
	CriticalBypass     int           `yaml:"critical_bypass"`      // percent, critical at/above fires on first sight
	ConfirmationNeeded int           `yaml:"confirmation_needed"`  // scans required below critical
	PendingExpiry      time.Duration `yaml:"pending_expiry"`       // unconfirmed threats older than this are noise
	AlertCooldown      time.Duration `yaml:"alert_cooldown"`       // per (camera, threat type)
}

func Default() Config {
	return Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "nvr", Name: "nvr", SSLMode: "disable"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		NATS:     NATSConfig{URL: "nats://localhost:4222", Subject: "events"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Storage:  StorageConfig{FramesPath: "/data/frames", ModelsPath: "/data/models"},
		Tuning: TuningConfig{
			StreamBufferSize:     10,
			StreamReconnectDelay: 5 * time.Second,
			InferenceEveryNth:    30,
			EventCooldown:        10 * time.Second,
			OrchestratorPoll:     5 * time.Second,
			SettingsRefresh:      60 * time.Second,
			SafetyScan: SafetyScanConfig{
				ConfidenceFloor:    70,
				CriticalBypass:     85,
				ConfirmationNeeded: 2,
				PendingExpiry:      2 * time.Minute,
				AlertCooldown:      3 * time.Minute,
			},
		},
	}
}

// Load reads the YAML file at path (missing file is fine; defaults apply)
// and then applies env overrides for deployment-sensitive values.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.Database.Host = envStr("DB_HOST", cfg.Database.Host)
	cfg.Database.User = envStr("DB_USER", cfg.Database.User)
	cfg.Database.Password = envStr("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = envStr("DB_NAME", cfg.Database.Name)
	cfg.Database.Port = envInt("DB_PORT", cfg.Database.Port)
	cfg.Redis.Addr = envStr("REDIS_ADDR", cfg.Redis.Addr)
	cfg.NATS.URL = envStr("NATS_URL", cfg.NATS.URL)
	cfg.HTTP.Addr = envStr("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Storage.FramesPath = envStr("FRAMES_PATH", cfg.Storage.FramesPath)
	cfg.Storage.ModelsPath = envStr("MODELS_PATH", cfg.Storage.ModelsPath)

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// Tunables provides goroutine-safe access to the hot-reloadable tuning
// section. The watcher swaps the value; loops read a snapshot per iteration.
type Tunables struct {
	mu  sync.RWMutex
	cur TuningConfig
}

func NewTunables(t TuningConfig) *Tunables {
	return &Tunables{cur: t}
}

func (t *Tunables) Get() TuningConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur
}

func (t *Tunables) Set(next TuningConfig) {
	t.mu.Lock()
	t.cur = next
	t.mu.Unlock()
}
