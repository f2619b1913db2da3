// Package config loads the play server's configuration from a YAML file,
// overridden by environment variables, using a layered defaults-then-file-
// then-env approach with a reflection-driven env/default tag scheme.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Play     PlayConfig     `yaml:"play" json:"play"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Security SecurityConfig `yaml:"security" json:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"PLAY_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"PLAY_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"PLAY_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"PLAY_WRITE_TIMEOUT" default:"0s"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"PLAY_MAX_HEADER_BYTES" default:"1048576"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"PLAY_ENABLE_CORS" default:"true"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"PLAY_TRUSTED_PROXIES"`
}

// DatabaseConfig holds the history store's database configuration.
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"play"`
	Password        string        `yaml:"password" json:"password" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"play"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"PLAY_DATA_DIR" default:"/app/play-data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"PLAY_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" default:"30m"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// PlayConfig holds everything specific to transcoding, segmentation and
// session lifetime — this server's actual domain.
type PlayConfig struct {
	FFmpegPath      string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"PLAY_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath     string        `yaml:"ffprobe_path" json:"ffprobe_path" env:"PLAY_FFPROBE_PATH" default:"ffprobe"`
	ScratchRoot     string        `yaml:"scratch_root" json:"scratch_root" env:"PLAY_SCRATCH_ROOT" default:"/app/play-data/transcodes"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" json:"session_idle_timeout" env:"PLAY_SESSION_IDLE_TIMEOUT" default:"30s"`
	TranscodeSegmentSeconds float64  `yaml:"transcode_segment_seconds" json:"transcode_segment_seconds" env:"PLAY_TRANSCODE_SEGMENT_SECONDS" default:"3"`
	CopySegmentSeconds      float64  `yaml:"copy_segment_seconds" json:"copy_segment_seconds" env:"PLAY_COPY_SEGMENT_SECONDS" default:"6"`
	SegmentWaitTimeout      time.Duration `yaml:"segment_wait_timeout" json:"segment_wait_timeout" env:"PLAY_SEGMENT_WAIT_TIMEOUT" default:"10s"`
	HardwareAccelEnabled    bool    `yaml:"hardware_accel_enabled" json:"hardware_accel_enabled" env:"PLAY_HWACCEL_ENABLED" default:"true"`
	HardwareAccelCacheTTL   time.Duration `yaml:"hardware_accel_cache_ttl" json:"hardware_accel_cache_ttl" env:"PLAY_HWACCEL_CACHE_TTL" default:"5m"`
	TonemapEnabled          bool    `yaml:"tonemap_enabled" json:"tonemap_enabled" env:"PLAY_TONEMAP_ENABLED" default:"true"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"PLAY_CLEANUP_INTERVAL" default:"5m"`
	OrphanScratchAge        time.Duration `yaml:"orphan_scratch_age" json:"orphan_scratch_age" env:"PLAY_ORPHAN_SCRATCH_AGE" default:"1h"`
	MaxScratchSizeBytes     int64   `yaml:"max_scratch_size_bytes" json:"max_scratch_size_bytes" env:"PLAY_MAX_SCRATCH_SIZE_BYTES" default:"0"`
	PluginDir               string  `yaml:"plugin_dir" json:"plugin_dir" env:"PLAY_PLUGIN_DIR" default:"./data/plugins"`
	ExternalTranscoderPlugin string `yaml:"external_transcoder_plugin" json:"external_transcoder_plugin" env:"PLAY_EXTERNAL_TRANSCODER_PLUGIN"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"PLAY_LOG_LEVEL" default:"info"`
	Format       string `yaml:"format" json:"format" env:"PLAY_LOG_FORMAT" default:"json"`
	Output       string `yaml:"output" json:"output" env:"PLAY_LOG_OUTPUT" default:"stdout"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"PLAY_LOG_COLORS" default:"true"`
}

// SecurityConfig holds the server-facing security knobs. It deliberately has
// no JWT signing secret — signature verification belongs to the excluded
// auth-token-decoder collaborator (see internal/play/catalog.DecodeInsecure),
// not to this server.
type SecurityConfig struct {
	RateLimitEnabled bool     `yaml:"rate_limit_enabled" json:"rate_limit_enabled" env:"PLAY_RATE_LIMIT" default:"true"`
	RateLimitRPM     int      `yaml:"rate_limit_rpm" json:"rate_limit_rpm" env:"PLAY_RATE_LIMIT_RPM" default:"600"`
	AllowedOrigins   []string `yaml:"allowed_origins" json:"allowed_origins" env:"PLAY_ALLOWED_ORIGINS"`
	SecureHeaders    bool     `yaml:"secure_headers" json:"secure_headers" env:"PLAY_SECURE_HEADERS" default:"true"`
}

// ConfigManager manages application configuration with hot-reload support.
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes.
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance.
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			MaxHeaderBytes: 1 << 20,
			EnableCORS:     true,
			TrustedProxies: []string{},
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			DataDir:         "/app/play-data",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 2 * time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
			LogQueries:      false,
		},
		Play: PlayConfig{
			FFmpegPath:              "ffmpeg",
			FFprobePath:             "ffprobe",
			ScratchRoot:             "/app/play-data/transcodes",
			SessionIdleTimeout:      30 * time.Second,
			TranscodeSegmentSeconds: 3,
			CopySegmentSeconds:      6,
			SegmentWaitTimeout:      10 * time.Second,
			HardwareAccelEnabled:    true,
			HardwareAccelCacheTTL:   5 * time.Minute,
			TonemapEnabled:          true,
			CleanupInterval:         5 * time.Minute,
			OrphanScratchAge:        time.Hour,
			PluginDir:               "./data/plugins",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			Output:       "stdout",
			EnableColors: true,
		},
		Security: SecurityConfig{
			RateLimitEnabled: true,
			RateLimitRPM:     600,
			AllowedOrigins:   []string{"*"},
			SecureHeaders:    true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		log.Printf("configuration loaded from file: %s", configPath)
	}

	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig

	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns the current configuration (thread-safe).
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// AddWatcher adds a configuration change watcher.
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file.
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return cm.saveToFile(cm.configPath, cm.config)
}

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func (cm *ConfigManager) saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			// No environment override: only fall back to the struct tag's
			// default when nothing set the field already (neither the
			// DefaultConfig() literal nor a loaded YAML file), so a YAML
			// value is never silently clobbered back to the tag default.
			defaultTag := fieldType.Tag.Get("default")
			if defaultTag == "" || !field.IsZero() {
				continue
			}
			envValue = defaultTag
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float64, reflect.Float32:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Play.TranscodeSegmentSeconds <= 0 {
		return fmt.Errorf("invalid transcode segment seconds: %f", config.Play.TranscodeSegmentSeconds)
	}

	if config.Play.CopySegmentSeconds <= 0 {
		return fmt.Errorf("invalid copy segment seconds: %f", config.Play.CopySegmentSeconds)
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "play.db")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration.
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path.
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher.
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration.
func Save() error {
	return GetConfigManager().SaveConfig()
}
