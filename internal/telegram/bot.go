package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

var (
	ErrDisabled      = errors.New("telegram bot is disabled")
	ErrNotConfigured = errors.New("telegram bot token or chat ID not configured")
)

// TelegramBot handles Telegram bot operations
type TelegramBot struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
	mu         sync.RWMutex
	enabled    bool
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	Enabled  bool
	APIBase  string        // defaults to DefaultAPIBase
	Timeout  time.Duration // per request, defaults to 20s
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// BotInfo is the result of getMe
type BotInfo struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config Config) *TelegramBot {
	apiBase := strings.TrimRight(config.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &TelegramBot{
		botToken:   config.BotToken,
		chatID:     config.ChatID,
		enabled:    config.Enabled,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IsEnabled returns whether alert notifications are enabled
func (tb *TelegramBot) IsEnabled() bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.enabled
}

// SetEnabled enables or disables alert notifications
func (tb *TelegramBot) SetEnabled(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

// UpdateConfig replaces token, chat and enabled flag
func (tb *TelegramBot) UpdateConfig(config Config) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.botToken = config.BotToken
	tb.chatID = config.ChatID
	tb.enabled = config.Enabled
}

// Config returns the current token, chat and enabled flag
func (tb *TelegramBot) Config() Config {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return Config{
		BotToken: tb.botToken,
		ChatID:   tb.chatID,
		Enabled:  tb.enabled,
		APIBase:  tb.apiBase,
		Timeout:  tb.httpClient.Timeout,
	}
}

// SendAnimation uploads an animated GIF with a caption to the configured chat
func (tb *TelegramBot) SendAnimation(ctx context.Context, caption, animationPath string) error {
	token, chatID, err := tb.credentials(true)
	if err != nil {
		return err
	}

	file, err := os.Open(animationPath)
	if err != nil {
		return fmt.Errorf("failed to open animation: %w", err)
	}
	defer file.Close()

	fields := map[string]string{"chat_id": chatID}
	if caption != "" {
		fields["caption"] = caption
	}
	return tb.sendMultipart(ctx, token, "sendAnimation", fields, "animation", filepath.Base(animationPath), file)
}

// SendPhoto sends a JPEG with an optional HTML caption. It answers a chat
// command, so it is allowed while alerts are disabled.
func (tb *TelegramBot) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	token, chatID, err := tb.credentials(false)
	if err != nil {
		return err
	}

	fields := map[string]string{"chat_id": chatID}
	if caption != "" {
		fields["caption"] = caption
		fields["parse_mode"] = "HTML"
	}
	return tb.sendMultipart(ctx, token, "sendPhoto", fields, "photo", "snapshot.jpg", bytes.NewReader(photoData))
}

// SendMessage sends a text message
func (tb *TelegramBot) SendMessage(ctx context.Context, message string) error {
	token, chatID, err := tb.credentials(true)
	if err != nil {
		return err
	}
	return tb.sendText(ctx, token, chatID, message)
}

// SendTestMessage sends a test message to verify the bot configuration.
// It is allowed while alerts are disabled.
func (tb *TelegramBot) SendTestMessage(ctx context.Context) error {
	token, chatID, err := tb.credentials(false)
	if err != nil {
		return err
	}

	now := time.Now()
	zoneName, _ := now.Zone()
	timestamp := fmt.Sprintf("%s %s", now.Format("2 Jan 2006, 15:04:05"), zoneName)

	message := fmt.Sprintf(
		"🤖 <b>PIR Watch Test Message</b>\n\n"+
			"✅ Telegram bot is working correctly!\n"+
			"🕐 Test sent at: %s",
		timestamp,
	)
	return tb.sendText(ctx, token, chatID, message)
}

// reply sends a command response regardless of the alert flag
func (tb *TelegramBot) reply(ctx context.Context, message string) error {
	token, chatID, err := tb.credentials(false)
	if err != nil {
		return err
	}
	return tb.sendText(ctx, token, chatID, message)
}

func (tb *TelegramBot) credentials(requireEnabled bool) (string, string, error) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if requireEnabled && !tb.enabled {
		return "", "", ErrDisabled
	}
	if tb.botToken == "" || tb.chatID == "" {
		return "", "", ErrNotConfigured
	}
	return tb.botToken, tb.chatID, nil
}

func (tb *TelegramBot) methodURL(token, method string) string {
	return fmt.Sprintf("%s/bot%s/%s", tb.apiBase, token, method)
}

func (tb *TelegramBot) sendText(ctx context.Context, token, chatID, message string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	_, err := tb.sendTelegramRequest(ctx, token, "sendMessage", payload)
	return err
}

// sendMultipart uploads one file part plus form fields
func (tb *TelegramBot) sendMultipart(ctx context.Context, token, method string, fields map[string]string, fileField, fileName string, content io.Reader) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to write %s field: %w", name, err)
		}
	}

	part, err := writer.CreateFormFile(fileField, fileName)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to write %s data: %w", fileField, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL(token, method), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", fileField, err)
	}
	defer resp.Body.Close()

	_, err = handleResponse(resp)
	return err
}

// sendTelegramRequest sends a JSON request to the Telegram API
func (tb *TelegramBot) sendTelegramRequest(ctx context.Context, token, method string, payload map[string]interface{}) (json.RawMessage, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL(token, method), bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("telegram API returned HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	return telegramResp.Result, nil
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}

		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}
	return nil
}

// GetBotInfo retrieves information about the bot
func (tb *TelegramBot) GetBotInfo(ctx context.Context) (*BotInfo, error) {
	tb.mu.RLock()
	token := tb.botToken
	tb.mu.RUnlock()

	if token == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tb.methodURL(token, "getMe"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	defer resp.Body.Close()

	result, err := handleResponse(resp)
	if err != nil {
		return nil, err
	}

	var info BotInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return &info, nil
}
