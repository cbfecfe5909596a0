// Package config loads the static configuration of the appliance.
//
// Values are resolved in order: built-in defaults, a .env file, an
// optional YAML file, then environment variables. Later sources win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pirwatch/internal/pipeline"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Sensor types.
const (
	SensorGPIO   = "gpio"
	SensorSerial = "serial"
	SensorMock   = "mock"
)

// Classifier types.
const (
	ClassifierHTTP = "http"
	ClassifierGRPC = "grpc"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Detection  DetectionConfig  `yaml:"detection"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Camera     CameraConfig     `yaml:"camera"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Auth       AuthConfig       `yaml:"auth"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Profiling  ProfilingConfig  `yaml:"profiling"`
}

type ServerConfig struct {
	Host  string `yaml:"host" env:"HTTP_HOST"`
	Port  int    `yaml:"port" env:"HTTP_PORT"`
	Debug bool   `yaml:"debug" env:"HTTP_DEBUG"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend" env:"STORAGE_BACKEND"`
	DataDir    string `yaml:"data_dir" env:"DATA_DIR"`
	MediaDir   string `yaml:"media_dir" env:"MEDIA_DIR"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

type DetectionConfig struct {
	ActiveDuration       time.Duration `yaml:"active_duration" env:"ACTIVE_DURATION"`
	NotificationCooldown time.Duration `yaml:"notification_cooldown" env:"NOTIFICATION_COOLDOWN"`
	EventFrames          int           `yaml:"event_frames" env:"EVENT_FRAMES"`
	StillFrames          int           `yaml:"still_frames" env:"STILL_FRAMES"`
	MaxHistory           int           `yaml:"max_history" env:"MAX_HISTORY"`
	ConfidenceThreshold  float64       `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	LoopInterval         time.Duration `yaml:"loop_interval" env:"LOOP_INTERVAL"`
	NotifyTimeout        time.Duration `yaml:"notify_timeout" env:"NOTIFY_TIMEOUT"`
	GIFFrameDelay        time.Duration `yaml:"gif_frame_delay" env:"GIF_FRAME_DELAY"`
	AutoStart            bool          `yaml:"auto_start" env:"DETECTION_AUTOSTART"`
}

type SensorConfig struct {
	Type         string        `yaml:"type" env:"SENSOR_TYPE"`
	GPIOPin      int           `yaml:"gpio_pin" env:"PIR_GPIO_PIN"`
	GPIOBase     string        `yaml:"gpio_base" env:"GPIO_SYSFS_BASE"`
	SerialPort   string        `yaml:"serial_port" env:"PIR_SERIAL_PORT"`
	BaudRate     int           `yaml:"baud_rate" env:"PIR_SERIAL_BAUD"`
	MockInterval time.Duration `yaml:"mock_interval" env:"PIR_MOCK_INTERVAL"`
}

type CameraConfig struct {
	Sources        []string      `yaml:"sources" env:"CAMERA_SOURCES" envSeparator:","`
	Width          int           `yaml:"width" env:"CAMERA_WIDTH"`
	Height         int           `yaml:"height" env:"CAMERA_HEIGHT"`
	FFmpegPath     string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	RpicamPath     string        `yaml:"rpicam_path" env:"RPICAM_PATH"`
	CaptureTimeout time.Duration `yaml:"capture_timeout" env:"CAMERA_CAPTURE_TIMEOUT"`
}

type ClassifierConfig struct {
	Type     string        `yaml:"type" env:"CLASSIFIER_TYPE"`
	Endpoint string        `yaml:"endpoint" env:"YOLO_ENDPOINT"`
	GRPCAddr string        `yaml:"grpc_addr" env:"CLASSIFIER_GRPC_ADDR"`
	Timeout  time.Duration `yaml:"timeout" env:"CLASSIFIER_TIMEOUT"`
}

type TelegramConfig struct {
	BotToken        string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID          string        `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
	Enabled         bool          `yaml:"enabled" env:"TELEGRAM_ENABLED"`
	APIBase         string        `yaml:"api_base" env:"TELEGRAM_API_BASE"`
	CommandsEnabled bool          `yaml:"commands_enabled" env:"TELEGRAM_COMMANDS_ENABLED"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"TELEGRAM_POLL_INTERVAL"`
}

type AuthConfig struct {
	Enabled   bool          `yaml:"enabled" env:"AUTH_ENABLED"`
	Username  string        `yaml:"username" env:"AUTH_USERNAME"`
	Password  string        `yaml:"password" env:"AUTH_PASSWORD"`
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTExpiry time.Duration `yaml:"jwt_expiry" env:"JWT_EXPIRY"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ARCHIVE_ENABLED"`
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers  []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic    string   `yaml:"topic" env:"KAFKA_TOPIC"`
	ClientID string   `yaml:"client_id" env:"KAFKA_CLIENT_ID"`
}

type ProfilingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"PROFILING_ENABLED"`
	Path        string `yaml:"path" env:"PROFILING_CSV"`
	ThermalPath string `yaml:"thermal_path" env:"THERMAL_ZONE_PATH"`
	ProcRoot    string `yaml:"proc_root" env:"PROC_ROOT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := pipeline.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:  StorageFile,
			DataDir:  "data",
			MediaDir: "media",
		},
		Detection: DetectionConfig{
			ActiveDuration:       opts.ActiveDuration,
			NotificationCooldown: opts.NotificationCooldown,
			EventFrames:          opts.EventFrames,
			StillFrames:          opts.StillFrames,
			MaxHistory:           opts.MaxHistory,
			ConfidenceThreshold:  opts.ConfidenceThreshold,
			LoopInterval:         opts.LoopInterval,
			NotifyTimeout:        opts.NotifyTimeout,
			GIFFrameDelay:        150 * time.Millisecond,
			AutoStart:            true,
		},
		Sensor: SensorConfig{
			Type:         SensorGPIO,
			GPIOPin:      21,
			GPIOBase:     "/sys/class/gpio",
			BaudRate:     115200,
			MockInterval: 30 * time.Second,
		},
		Camera: CameraConfig{
			Sources:        []string{"picamera", "/dev/video0"},
			Width:          640,
			Height:         480,
			FFmpegPath:     "ffmpeg",
			RpicamPath:     "rpicam-still",
			CaptureTimeout: 5 * time.Second,
		},
		Classifier: ClassifierConfig{
			Type:     ClassifierHTTP,
			Endpoint: "http://localhost:8081",
			Timeout:  10 * time.Second,
		},
		Telegram: TelegramConfig{
			APIBase:         "https://api.telegram.org",
			CommandsEnabled: true,
			PollInterval:    2 * time.Second,
		},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
		Archive: ArchiveConfig{
			Bucket: "pirwatch-events",
		},
		Kafka: KafkaConfig{
			Topic:    "pirwatch.events",
			ClientID: "pirwatch",
		},
		Profiling: ProfilingConfig{
			Path:        filepath.Join("data", "inference_profile.csv"),
			ThermalPath: "/sys/class/thermal/thermal_zone0/temp",
			ProcRoot:    "/proc",
		},
	}
}

// Load builds the configuration from defaults, the env files (".env" when
// none are given), the optional YAML file at path and the environment.
// Missing env files are ignored; a missing YAML file is an error.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "pirwatch.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Sensor.Type {
	case SensorGPIO, SensorMock:
	case SensorSerial:
		if c.Sensor.SerialPort == "" {
			return errors.New("serial sensor requires a serial port")
		}
	default:
		return fmt.Errorf("unknown sensor type %q", c.Sensor.Type)
	}
	switch c.Classifier.Type {
	case ClassifierHTTP:
		if c.Classifier.Endpoint == "" {
			return errors.New("http classifier requires an endpoint")
		}
	case ClassifierGRPC:
		if c.Classifier.GRPCAddr == "" {
			return errors.New("grpc classifier requires an address")
		}
	default:
		return fmt.Errorf("unknown classifier type %q", c.Classifier.Type)
	}
	if len(c.Camera.Sources) == 0 {
		return errors.New("at least one camera source is required")
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		return errors.New("auth is enabled but no password is set")
	}
	if c.Archive.Enabled && c.Archive.Endpoint == "" {
		return errors.New("archive is enabled but no endpoint is set")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka is enabled but no brokers are set")
	}
	if c.Detection.GIFFrameDelay <= 0 {
		return errors.New("gif frame delay must be positive")
	}
	if err := c.Options().Validate(); err != nil {
		return fmt.Errorf("invalid detection config: %w", err)
	}
	return nil
}

// Options returns the detection loop tuning.
func (c *Config) Options() pipeline.Options {
	return pipeline.Options{
		ActiveDuration:       c.Detection.ActiveDuration,
		NotificationCooldown: c.Detection.NotificationCooldown,
		EventFrames:          c.Detection.EventFrames,
		StillFrames:          c.Detection.StillFrames,
		MaxHistory:           c.Detection.MaxHistory,
		ConfidenceThreshold:  c.Detection.ConfidenceThreshold,
		LoopInterval:         c.Detection.LoopInterval,
		NotifyTimeout:        c.Detection.NotifyTimeout,
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
