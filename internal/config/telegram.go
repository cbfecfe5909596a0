package config

import (
	"context"
	"encoding/json"
	"fmt"
)

// TelegramSettings is the runtime-editable notification configuration.
// It is stored as an opaque JSON blob next to the event history.
type TelegramSettings struct {
	BotToken             string `json:"telegram_bot_token"`
	ChatID               string `json:"telegram_chat_id"`
	NotificationsEnabled bool   `json:"telegram_notifications_enabled"`
}

// BlobStore persists the runtime configuration blob.
type BlobStore interface {
	LoadConfig(ctx context.Context) ([]byte, error)
	SaveConfig(ctx context.Context, data []byte) error
}

// TelegramDefaults returns the settings seeded from the static config.
func (c *Config) TelegramDefaults() TelegramSettings {
	return TelegramSettings{
		BotToken:             c.Telegram.BotToken,
		ChatID:               c.Telegram.ChatID,
		NotificationsEnabled: c.Telegram.Enabled,
	}
}

// LoadTelegramSettings reads the stored settings. Keys missing from the
// stored blob keep their value from fallback; an empty store returns
// fallback unchanged.
func LoadTelegramSettings(ctx context.Context, store BlobStore, fallback TelegramSettings) (TelegramSettings, error) {
	data, err := store.LoadConfig(ctx)
	if err != nil {
		return fallback, fmt.Errorf("failed to load telegram settings: %w", err)
	}
	if len(data) == 0 {
		return fallback, nil
	}
	settings := fallback
	if err := json.Unmarshal(data, &settings); err != nil {
		return fallback, fmt.Errorf("failed to decode telegram settings: %w", err)
	}
	return settings, nil
}

// SaveTelegramSettings writes settings to the store.
func SaveTelegramSettings(ctx context.Context, store BlobStore, settings TelegramSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode telegram settings: %w", err)
	}
	if err := store.SaveConfig(ctx, data); err != nil {
		return fmt.Errorf("failed to save telegram settings: %w", err)
	}
	return nil
}
