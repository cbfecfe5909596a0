package services

import (
	"context"
	"log"
	"sync"

	"pirwatch/internal/config"
	"pirwatch/internal/telegram"
)

// TelegramConfig is the notification configuration as served over HTTP.
// The bot token is masked on the way out.
type TelegramConfig struct {
	BotToken             *string `json:"telegram_bot_token,omitempty"`
	ChatID               *string `json:"telegram_chat_id,omitempty"`
	NotificationsEnabled bool    `json:"telegram_notifications_enabled"`
}

// UpdateTelegramPayload changes the notification configuration. Nil
// fields keep their current value; a masked token is ignored.
type UpdateTelegramPayload struct {
	BotToken             *string `json:"telegram_bot_token,omitempty"`
	ChatID               *string `json:"telegram_chat_id,omitempty"`
	NotificationsEnabled *bool   `json:"telegram_notifications_enabled,omitempty"`
}

// TestNotificationResult is the outcome of a test message.
type TestNotificationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ConfigImplementation owns the runtime-editable notification settings.
// Every change is applied to the bot and persisted.
type ConfigImplementation struct {
	mu       sync.RWMutex
	bot      *telegram.TelegramBot
	store    config.BlobStore
	settings config.TelegramSettings
}

// NewConfigService loads stored settings over defaults and applies them to
// the bot. A load failure is logged and the defaults are used.
func NewConfigService(ctx context.Context, bot *telegram.TelegramBot, store config.BlobStore, defaults config.TelegramSettings) *ConfigImplementation {
	settings, err := config.LoadTelegramSettings(ctx, store, defaults)
	if err != nil {
		log.Printf("[ConfigService] %v, using defaults", err)
	}

	c := &ConfigImplementation{
		bot:      bot,
		store:    store,
		settings: settings,
	}
	c.applyLocked()
	return c
}

// Get returns the notification configuration with the token masked.
func (c *ConfigImplementation) Get(ctx context.Context) (*TelegramConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked(), nil
}

// Update validates and applies a configuration change, then persists it.
// A failed write is logged and does not undo the change.
func (c *ConfigImplementation) Update(ctx context.Context, p *UpdateTelegramPayload) (*TelegramConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.settings
	if p.BotToken != nil && !isMaskedToken(*p.BotToken) {
		next.BotToken = *p.BotToken
	}
	if p.ChatID != nil {
		next.ChatID = *p.ChatID
	}
	if p.NotificationsEnabled != nil {
		next.NotificationsEnabled = *p.NotificationsEnabled
	}

	if next.NotificationsEnabled {
		if next.BotToken == "" {
			return nil, &BadRequestError{Message: "Telegram bot token is required when notifications are enabled"}
		}
		if next.ChatID == "" {
			return nil, &BadRequestError{Message: "Telegram chat ID is required when notifications are enabled"}
		}
	}

	c.settings = next
	c.applyLocked()

	// The in-memory settings stay authoritative when the write fails.
	if err := config.SaveTelegramSettings(ctx, c.store, next); err != nil {
		log.Printf("[ConfigService] %v", err)
	}

	return c.viewLocked(), nil
}

// SetNotificationsEnabled toggles the alert flag and persists it.
func (c *ConfigImplementation) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	_, err := c.Update(ctx, &UpdateTelegramPayload{NotificationsEnabled: &enabled})
	return err
}

// IsEnabled reports the alert flag.
func (c *ConfigImplementation) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.NotificationsEnabled
}

// TestNotification sends a test message. It works while alerts are
// disabled so credentials can be checked before enabling them.
func (c *ConfigImplementation) TestNotification(ctx context.Context) (*TestNotificationResult, error) {
	if c.bot == nil {
		return &TestNotificationResult{
			Success: false,
			Message: "Telegram bot is not configured",
		}, nil
	}

	if err := c.bot.SendTestMessage(ctx); err != nil {
		return &TestNotificationResult{
			Success: false,
			Message: "Failed to send test notification: " + err.Error(),
		}, nil
	}

	return &TestNotificationResult{
		Success: true,
		Message: "Test notification sent successfully",
	}, nil
}

func (c *ConfigImplementation) applyLocked() {
	if c.bot == nil {
		return
	}
	cfg := c.bot.Config()
	cfg.BotToken = c.settings.BotToken
	cfg.ChatID = c.settings.ChatID
	cfg.Enabled = c.settings.NotificationsEnabled
	c.bot.UpdateConfig(cfg)
}

func (c *ConfigImplementation) viewLocked() *TelegramConfig {
	return &TelegramConfig{
		BotToken:             maskToken(c.settings.BotToken),
		ChatID:               ptrString(c.settings.ChatID),
		NotificationsEnabled: c.settings.NotificationsEnabled,
	}
}

func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func maskToken(t string) *string {
	if t == "" {
		return nil
	}

	if len(t) <= 8 {
		masked := "****"
		return &masked
	}

	masked := t[:4] + "..." + t[len(t)-4:]
	return &masked
}

func isMaskedToken(token string) bool {
	return len(token) > 0 && (token == "****" || (len(token) >= 11 && token[4:7] == "..."))
}
