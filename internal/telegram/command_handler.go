package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pirwatch/internal/history"
	"pirwatch/internal/pipeline"
)

// DetectionController starts and stops the detection loop
type DetectionController interface {
	StartDetection(ctx context.Context) error
	StopDetection(ctx context.Context) error
	IsDetectionRunning() bool
	Status() pipeline.Status
}

// EventSource lists recent events, newest first
type EventSource interface {
	Latest(n int) []history.Record
}

// AlertSwitch toggles and persists the notification flag
type AlertSwitch interface {
	SetNotificationsEnabled(ctx context.Context, enabled bool) error
}

// EnergyReporter renders the energy summary
type EnergyReporter interface {
	Summary() string
}

// SnapshotSource returns the latest rendered JPEG
type SnapshotSource interface {
	LatestFrame() ([]byte, bool)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage represents an incoming Telegram message
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *TelegramUser `json:"from,omitempty"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramUser represents a Telegram user
type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// GetUpdatesResponse represents the response from getUpdates
type GetUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []Update `json:"result,omitempty"`
	ErrorCode   int      `json:"error_code,omitempty"`
	Description string   `json:"description,omitempty"`
}

// CommandHandler answers bot commands from the authorised chat
type CommandHandler struct {
	bot          *TelegramBot
	detection    DetectionController
	events       EventSource
	alerts       AlertSwitch
	energy       EnergyReporter
	snapshots    SnapshotSource
	pollInterval time.Duration
	lastUpdateID int64
	startTime    time.Time
	mu           sync.Mutex
}

// NewCommandHandler creates a new command handler. energy may be nil.
func NewCommandHandler(
	bot *TelegramBot,
	detection DetectionController,
	events EventSource,
	alerts AlertSwitch,
	energy EnergyReporter,
	pollInterval time.Duration,
) *CommandHandler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &CommandHandler{
		bot:          bot,
		detection:    detection,
		events:       events,
		alerts:       alerts,
		energy:       energy,
		pollInterval: pollInterval,
		startTime:    time.Now(),
	}
}

// SetSnapshotSource enables the /snapshot command.
func (ch *CommandHandler) SetSnapshotSource(src SnapshotSource) {
	ch.mu.Lock()
	ch.snapshots = src
	ch.mu.Unlock()
}

// StartPolling polls for updates until ctx is done. Polling is skipped
// while no token is configured so settings can be added at runtime.
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	log.Printf("[Telegram] Command handler polling every %s", ch.pollInterval)

	ticker := time.NewTicker(ch.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command handler stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Telegram] Warning: failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes updates from Telegram
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	cfg := ch.bot.Config()
	if cfg.BotToken == "" {
		return nil
	}

	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	url := fmt.Sprintf("%s?offset=%d&timeout=1", ch.bot.methodURL(cfg.BotToken, "getUpdates"), offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ch.bot.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var updatesResp GetUpdatesResponse
	if err := json.Unmarshal(body, &updatesResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !updatesResp.OK {
		return fmt.Errorf("telegram API error %d: %s", updatesResp.ErrorCode, updatesResp.Description)
	}

	for _, update := range updatesResp.Result {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message, cfg.ChatID)
		}
	}

	return nil
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage, authorizedChatID string) {
	if msg.Chat == nil {
		return
	}

	// Only respond to the authorised chat
	chatIDStr := strconv.FormatInt(msg.Chat.ID, 10)
	if chatIDStr != authorizedChatID {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %s", chatIDStr)
		return
	}

	if msg.Text == "" || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	response := ch.execute(ctx, msg.Text)
	if response == "" {
		return
	}
	if err := ch.bot.reply(ctx, response); err != nil {
		log.Printf("[Telegram] Failed to send reply: %v", err)
	}
}

// execute runs one command line and returns the reply text
func (ch *CommandHandler) execute(ctx context.Context, text string) string {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return ""
	}
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Remove bot username suffix if present (e.g., /status@mybot)
	if atIndex := strings.Index(command, "@"); atIndex != -1 {
		command = command[:atIndex]
	}

	log.Printf("[Telegram] Processing command: %s", command)

	switch command {
	case "/start":
		return ch.handleStart()
	case "/help":
		return ch.handleHelp()
	case "/status":
		return ch.handleStatus()
	case "/events":
		return ch.handleEvents(args)
	case "/start_detection":
		return ch.handleStartDetection(ctx)
	case "/stop_detection":
		return ch.handleStopDetection(ctx)
	case "/alerts_on":
		return ch.handleAlerts(ctx, true)
	case "/alerts_off":
		return ch.handleAlerts(ctx, false)
	case "/energy":
		return ch.handleEnergy()
	case "/snapshot":
		return ch.handleSnapshot(ctx)
	default:
		return fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}
}

func (ch *CommandHandler) handleStart() string {
	return "🤖 <b>Welcome to PIR Watch!</b>\n\n" +
		"I'll send you an animation whenever a person is detected after the motion sensor triggers.\n\n" +
		"Use /help to see available commands."
}

func (ch *CommandHandler) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"<b>System</b>\n" +
		"/status - Detection status\n" +
		"/energy - Energy consumption estimate\n\n" +
		"<b>Detection</b>\n" +
		"/start_detection - Start the detection loop\n" +
		"/stop_detection - Stop the detection loop\n" +
		"/events [limit] - Show recent detection events\n" +
		"/snapshot - Send the latest camera frame\n\n" +
		"<b>Alerts</b>\n" +
		"/alerts_on - Enable alert notifications\n" +
		"/alerts_off - Disable alert notifications\n\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	st := ch.detection.Status()

	running := "Stopped"
	if ch.detection.IsDetectionRunning() {
		running = "Running"
	}
	alerts := "Enabled"
	if !ch.bot.IsEnabled() {
		alerts = "Disabled"
	}

	response := fmt.Sprintf(
		"📊 <b>System Status</b>\n\n"+
			"🔍 Detection: %s\n"+
			"📹 Camera: %s\n"+
			"🚶 Motion window: %s\n"+
			"📱 Alerts: %s\n"+
			"⏱️ Uptime: %s\n\n"+
			"%s",
		running,
		orDash(st.CameraType),
		windowState(st),
		alerts,
		formatDuration(time.Since(ch.startTime)),
		st.Message,
	)

	if st.NotificationCooldownRemaining > 0 {
		response += fmt.Sprintf("\n⏳ Alert cooldown: %.0fs", st.NotificationCooldownRemaining)
	}
	if st.LastError != "" {
		response += fmt.Sprintf("\n⚠️ Last error: %s", st.LastError)
	}
	return response
}

func (ch *CommandHandler) handleEvents(args []string) string {
	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	events := ch.events.Latest(limit)
	if len(events) == 0 {
		return "📋 <b>Recent Events</b>\n\nNo detection events recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>Recent Events</b> (last %d)\n\n", len(events)))

	for i, event := range events {
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", i+1,
			event.Timestamp.Format(history.TimestampLayout), event.Caption))
	}

	return sb.String()
}

func (ch *CommandHandler) handleStartDetection(ctx context.Context) string {
	if ch.detection.IsDetectionRunning() {
		return "ℹ️ Detection is already running."
	}
	if err := ch.detection.StartDetection(ctx); err != nil {
		return fmt.Sprintf("❌ Failed to start detection: %v", err)
	}
	return "🔍 <b>Detection Started</b>"
}

func (ch *CommandHandler) handleStopDetection(ctx context.Context) string {
	if !ch.detection.IsDetectionRunning() {
		return "ℹ️ No detection was running."
	}
	if err := ch.detection.StopDetection(ctx); err != nil {
		return fmt.Sprintf("❌ Failed to stop detection: %v", err)
	}
	return "🛑 <b>Detection Stopped</b>"
}

func (ch *CommandHandler) handleAlerts(ctx context.Context, enabled bool) string {
	if err := ch.alerts.SetNotificationsEnabled(ctx, enabled); err != nil {
		return fmt.Sprintf("❌ Failed to update alerts: %v", err)
	}
	if enabled {
		return "🔔 Alert notifications enabled."
	}
	return "🔕 Alert notifications disabled."
}

func (ch *CommandHandler) handleEnergy() string {
	if ch.energy == nil {
		return "ℹ️ Energy monitoring is not available."
	}
	return "⚡ <b>Energy</b>\n\n" + ch.energy.Summary()
}

// handleSnapshot sends the photo itself; the text reply is only used for
// failures.
func (ch *CommandHandler) handleSnapshot(ctx context.Context) string {
	ch.mu.Lock()
	src := ch.snapshots
	ch.mu.Unlock()

	if src == nil {
		return "ℹ️ Snapshots are not available."
	}
	frame, ok := src.LatestFrame()
	if !ok {
		return "ℹ️ No frame captured yet. Start detection first."
	}
	caption := fmt.Sprintf("📸 Snapshot at %s", time.Now().Format(history.TimestampLayout))
	if err := ch.bot.SendPhoto(ctx, frame, caption); err != nil {
		return fmt.Sprintf("❌ Failed to send snapshot: %v", err)
	}
	return ""
}

func windowState(st pipeline.Status) string {
	switch {
	case !st.DetectionActive:
		return "idle"
	case st.Collecting:
		return fmt.Sprintf("collecting %d/%d", st.FramesCollected, st.FramesRequired)
	case st.EventProcessed:
		return "event processed"
	default:
		return fmt.Sprintf("active (%.0fs left)", st.ActiveRemainingSeconds)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
