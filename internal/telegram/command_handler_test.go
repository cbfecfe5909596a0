package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pirwatch/internal/history"
	"pirwatch/internal/pipeline"
)

type fakeController struct {
	running  bool
	startErr error
	starts   int
	stops    int
	status   pipeline.Status
}

func (f *fakeController) StartDetection(ctx context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) StopDetection(ctx context.Context) error {
	f.stops++
	f.running = false
	return nil
}

func (f *fakeController) IsDetectionRunning() bool { return f.running }
func (f *fakeController) Status() pipeline.Status  { return f.status }

type fakeEvents []history.Record

func (f fakeEvents) Latest(n int) []history.Record {
	if n > len(f) {
		n = len(f)
	}
	return f[:n]
}

type fakeAlerts struct {
	bot   *TelegramBot
	calls []bool
}

func (f *fakeAlerts) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	f.calls = append(f.calls, enabled)
	f.bot.SetEnabled(enabled)
	return nil
}

type staticEnergy string

func (s staticEnergy) Summary() string { return string(s) }

func newTestHandler(t *testing.T) (*CommandHandler, *fakeController, *fakeAlerts) {
	t.Helper()
	bot := NewTelegramBot(Config{BotToken: "t", ChatID: "42", Enabled: true, APIBase: "http://unused.test"})
	ctrl := &fakeController{status: pipeline.Status{CameraType: "USB Camera", Message: pipeline.MessageMonitoring}}
	events := fakeEvents{
		{ID: "b", Timestamp: time.Date(2025, 6, 1, 12, 5, 0, 0, time.Local), Caption: "🚨 Intrusion Alert: Person Detected!"},
		{ID: "a", Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local), Caption: "Intrusion Alert: Person Detected (Cooldown)"},
	}
	alerts := &fakeAlerts{bot: bot}
	return NewCommandHandler(bot, ctrl, events, alerts, staticEnergy("Total: 12.0 J"), time.Second), ctrl, alerts
}

func TestExecuteCommands(t *testing.T) {
	ctx := context.Background()
	ch, ctrl, alerts := newTestHandler(t)

	assert.Contains(t, ch.execute(ctx, "/help"), "/start_detection")
	assert.Contains(t, ch.execute(ctx, "/status@pirwatch_bot"), "Detection: Stopped")
	assert.Contains(t, ch.execute(ctx, "/status"), "USB Camera")

	assert.Contains(t, ch.execute(ctx, "/start_detection"), "Detection Started")
	assert.Equal(t, 1, ctrl.starts)
	assert.Contains(t, ch.execute(ctx, "/start_detection"), "already running")
	assert.Equal(t, 1, ctrl.starts)

	assert.Contains(t, ch.execute(ctx, "/stop_detection"), "Detection Stopped")
	assert.Contains(t, ch.execute(ctx, "/stop_detection"), "No detection was running")

	assert.Contains(t, ch.execute(ctx, "/alerts_off"), "disabled")
	assert.False(t, ch.bot.IsEnabled())
	assert.Contains(t, ch.execute(ctx, "/alerts_on"), "enabled")
	assert.Equal(t, []bool{false, true}, alerts.calls)

	events := ch.execute(ctx, "/events 1")
	assert.Contains(t, events, "2025-06-01 12:05:00")
	assert.NotContains(t, events, "Cooldown")

	assert.Contains(t, ch.execute(ctx, "/energy"), "Total: 12.0 J")
	assert.Contains(t, ch.execute(ctx, "/reboot"), "Unknown command: /reboot")
}

func TestStartDetectionFailure(t *testing.T) {
	ch, ctrl, _ := newTestHandler(t)
	ctrl.startErr = errors.New("no camera found")
	assert.Contains(t, ch.execute(context.Background(), "/start_detection"), "no camera found")
}

func TestPollUpdatesAuthorisedChatOnly(t *testing.T) {
	var (
		mu      sync.Mutex
		replies []string
		offsets []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			offsets = append(offsets, r.URL.Query().Get("offset"))
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"chat":{"id":42,"type":"private"},"text":"/help"}},
				{"update_id":11,"message":{"message_id":2,"chat":{"id":7,"type":"private"},"text":"/stop_detection"}},
				{"update_id":12,"message":{"message_id":3,"chat":{"id":42,"type":"private"},"text":"hello"}}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			replies = append(replies, payload["text"].(string))
			w.Write([]byte(`{"ok":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bot := NewTelegramBot(Config{BotToken: "t", ChatID: "42", APIBase: srv.URL})
	ctrl := &fakeController{running: true}
	ch := NewCommandHandler(bot, ctrl, fakeEvents{}, &fakeAlerts{bot: bot}, nil, time.Second)

	require.NoError(t, ch.pollUpdates(context.Background()))
	require.NoError(t, ch.pollUpdates(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "13"}, offsets)
	require.Len(t, replies, 2, "replies only to the authorised chat's commands, on both polls")
	assert.Contains(t, replies[0], "Available Commands")
	assert.Zero(t, ctrl.stops)
}

func TestPollUpdatesWithoutToken(t *testing.T) {
	bot := NewTelegramBot(Config{APIBase: "http://unused.test"})
	ch := NewCommandHandler(bot, &fakeController{}, fakeEvents{}, &fakeAlerts{bot: bot}, nil, 0)
	assert.NoError(t, ch.pollUpdates(context.Background()))
	assert.Equal(t, 2*time.Second, ch.pollInterval)
}

type staticFrame []byte

func (f staticFrame) LatestFrame() ([]byte, bool) { return f, len(f) > 0 }

func TestSnapshotCommand(t *testing.T) {
	var (
		mu      sync.Mutex
		photo   []byte
		caption string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !strings.HasSuffix(r.URL.Path, "/sendPhoto") {
			http.NotFound(w, r)
			return
		}
		file, _, err := r.FormFile("photo")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		photo, _ = io.ReadAll(file)
		caption = r.FormValue("caption")
		assert.Equal(t, "42", r.FormValue("chat_id"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	// Alerts are off; a requested snapshot is still delivered.
	bot := NewTelegramBot(Config{BotToken: "t", ChatID: "42", APIBase: srv.URL})
	ch := NewCommandHandler(bot, &fakeController{}, fakeEvents{}, &fakeAlerts{bot: bot}, nil, time.Second)
	ctx := context.Background()

	assert.Contains(t, ch.execute(ctx, "/snapshot"), "not available")

	ch.SetSnapshotSource(staticFrame(nil))
	assert.Contains(t, ch.execute(ctx, "/snapshot"), "No frame captured yet")

	jpeg := []byte{0xff, 0xd8, 0xff, 0xd9}
	ch.SetSnapshotSource(staticFrame(jpeg))
	assert.Empty(t, ch.execute(ctx, "/snapshot"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, jpeg, photo)
	assert.Contains(t, caption, "Snapshot at")
}
