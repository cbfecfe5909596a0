package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the duration of the test, restoring them after.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "HTTP_PORT", "SENSOR_TYPE", "ACTIVE_DURATION", "STORAGE_BACKEND", "DATA_DIR", "SQLITE_PATH", "CAMERA_SOURCES")
	dir := t.TempDir()

	cfg, err := Load("", filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, SensorGPIO, cfg.Sensor.Type)
	assert.Equal(t, 21, cfg.Sensor.GPIOPin)
	assert.Equal(t, []string{"picamera", "/dev/video0"}, cfg.Camera.Sources)
	assert.Equal(t, filepath.Join("data", "pirwatch.db"), cfg.Storage.SQLitePath)

	opts := cfg.Options()
	assert.Equal(t, 10*time.Second, opts.ActiveDuration)
	assert.Equal(t, 60*time.Second, opts.NotificationCooldown)
	assert.Equal(t, 10, opts.EventFrames)
	assert.Equal(t, 4, opts.StillFrames)
	assert.Equal(t, 5, opts.MaxHistory)
	assert.InDelta(t, 0.5, opts.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 150*time.Millisecond, cfg.Detection.GIFFrameDelay)
}

func TestLoadPrecedence(t *testing.T) {
	unsetEnv(t, "HTTP_PORT", "SENSOR_TYPE", "PIR_SERIAL_PORT", "ACTIVE_DURATION", "CAMERA_SOURCES", "KAFKA_BROKERS", "MAX_HISTORY")
	dir := t.TempDir()

	yamlPath := writeFile(t, dir, "pirwatch.yaml", `
server:
  port: 9090
detection:
  active_duration: 15s
  max_history: 8
sensor:
  type: serial
  serial_port: /dev/ttyUSB0
camera:
  sources: ["/dev/video2"]
`)
	envPath := writeFile(t, dir, "test.env", "MAX_HISTORY=9\nKAFKA_BROKERS=k1:9092,k2:9092\n")

	t.Setenv("HTTP_PORT", "9191")

	cfg, err := Load(yamlPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port, "environment wins over yaml")
	assert.Equal(t, 15*time.Second, cfg.Detection.ActiveDuration, "yaml wins over defaults")
	assert.Equal(t, 9, cfg.Detection.MaxHistory, ".env values are environment values")
	assert.Equal(t, SensorSerial, cfg.Sensor.Type)
	assert.Equal(t, []string{"/dev/video2"}, cfg.Camera.Sources)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadMissingYAML(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, `unknown storage backend "redis"`},
		{"bad sensor", func(c *Config) { c.Sensor.Type = "radar" }, `unknown sensor type "radar"`},
		{"serial without port", func(c *Config) { c.Sensor.Type = SensorSerial }, "serial sensor requires a serial port"},
		{"grpc without addr", func(c *Config) { c.Classifier.Type = ClassifierGRPC }, "grpc classifier requires an address"},
		{"no camera", func(c *Config) { c.Camera.Sources = nil }, "at least one camera source is required"},
		{"auth without password", func(c *Config) { c.Auth.Enabled = true }, "auth is enabled but no password is set"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka is enabled but no brokers are set"},
		{"stills exceed frames", func(c *Config) { c.Detection.StillFrames = 11 }, "invalid detection config"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid HTTP port 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}

type blobStore struct {
	data    []byte
	loadErr error
}

func (b *blobStore) LoadConfig(ctx context.Context) ([]byte, error) { return b.data, b.loadErr }

func (b *blobStore) SaveConfig(ctx context.Context, data []byte) error {
	b.data = data
	return nil
}

func TestTelegramSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &blobStore{}
	fallback := TelegramSettings{BotToken: "env-token", ChatID: "1"}

	got, err := LoadTelegramSettings(ctx, store, fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	want := TelegramSettings{BotToken: "123:abc", ChatID: "42", NotificationsEnabled: true}
	require.NoError(t, SaveTelegramSettings(ctx, store, want))
	assert.Contains(t, string(store.data), `"telegram_notifications_enabled": true`)

	got, err = LoadTelegramSettings(ctx, store, fallback)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTelegramSettingsPartialBlob(t *testing.T) {
	store := &blobStore{data: []byte(`{"telegram_chat_id":"99"}`)}
	got, err := LoadTelegramSettings(context.Background(), store, TelegramSettings{BotToken: "tok", NotificationsEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, TelegramSettings{BotToken: "tok", ChatID: "99", NotificationsEnabled: true}, got)
}

func TestTelegramSettingsLoadError(t *testing.T) {
	fallback := TelegramSettings{ChatID: "1"}
	got, err := LoadTelegramSettings(context.Background(), &blobStore{loadErr: errors.New("boom")}, fallback)
	assert.Error(t, err)
	assert.Equal(t, fallback, got)
}
