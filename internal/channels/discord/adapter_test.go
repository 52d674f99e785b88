package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/cmdrelay/internal/channels"
	"github.com/haasonsaas/cmdrelay/internal/observability"
	"github.com/haasonsaas/cmdrelay/pkg/models"
)

// mockDiscordSession is a mock implementation for testing
type mockDiscordSession struct {
	mu          sync.Mutex
	openCalls   int
	closeCalled bool
	openErr     error
	handlers    int
	sent        []string
	sendFn      func(channelID, content string) (*discordgo.Message, error)
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	return m.openErr
}

func (m *mockDiscordSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockDiscordSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.sendFn != nil {
		return m.sendFn(channelID, content)
	}
	m.mu.Lock()
	m.sent = append(m.sent, content)
	m.mu.Unlock()
	return &discordgo.Message{
		ID:        "sent-1",
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: "bot-1", Username: "cmdrelay", Bot: true},
	}, nil
}

func (m *mockDiscordSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers--
	}
}

func (m *mockDiscordSession) AddHandlerOnce(handler interface{}) func() {
	return m.AddHandler(handler)
}

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (m *mockDiscordSession) sentContents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func newTestAdapter(t *testing.T, cfg Config, session *mockDiscordSession) *Adapter {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.RateBurst = 1000
	}
	adapter, err := NewAdapter(cfg)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	adapter.session = session
	return adapter
}

func startTestAdapter(t *testing.T, cfg Config, session *mockDiscordSession) *Adapter {
	t.Helper()
	adapter := newTestAdapter(t, cfg, session)
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Stop(context.Background()) })
	return adapter
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid config", config: Config{Token: "test-token"}},
		{name: "missing token", config: Config{}, wantErr: true},
		{name: "unknown intent", config: Config{Token: "t", Intents: []string{"guilds", "telepathy"}}, wantErr: true},
		{name: "explicit intents", config: Config{Token: "t", Intents: []string{"GUILD_MESSAGES", "message_content"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewAdapter(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAdapter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if channels.GetErrorCode(err) != channels.ErrCodeConfig {
					t.Errorf("error code = %s, want %s", channels.GetErrorCode(err), channels.ErrCodeConfig)
				}
				return
			}
			if adapter.Type() != models.ChannelDiscord {
				t.Errorf("Type() = %s", adapter.Type())
			}
			if adapter.Status().Connected {
				t.Error("new adapter should not be connected")
			}
		})
	}
}

func TestConfig_ValidateDefaults(t *testing.T) {
	cfg := Config{Token: "t"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Intents) != len(DefaultIntents) {
		t.Errorf("Intents = %v", cfg.Intents)
	}
	if cfg.MaxReconnectAttempts != 5 || cfg.RateLimit != 5 || cfg.RateBurst != 10 || cfg.QueueSize != 100 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReconnectBackoff != 60*time.Second {
		t.Errorf("ReconnectBackoff = %v", cfg.ReconnectBackoff)
	}
}

func TestParseIntents(t *testing.T) {
	got, err := ParseIntents(DefaultIntents)
	if err != nil {
		t.Fatalf("ParseIntents: %v", err)
	}
	want := discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	if got != want {
		t.Errorf("ParseIntents = %d, want %d", got, want)
	}

	if _, err := ParseIntents([]string{"nope"}); err == nil {
		t.Error("expected error for unknown intent")
	}
}

func TestAdapter_StartStop(t *testing.T) {
	session := &mockDiscordSession{}
	adapter := newTestAdapter(t, Config{}, session)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.openCalls != 1 {
		t.Errorf("Open called %d times", session.openCalls)
	}
	if session.handlers != 4 {
		t.Errorf("handlers = %d, want 4", session.handlers)
	}
	if !adapter.Status().Connected {
		t.Error("adapter should be connected after Start")
	}
	if err := adapter.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	if err := adapter.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !session.closeCalled {
		t.Error("Close was not called")
	}
	if session.handlers != 0 {
		t.Errorf("handlers after Stop = %d", session.handlers)
	}
	if adapter.Status().Connected {
		t.Error("adapter should be disconnected after Stop")
	}
	if _, ok := <-adapter.Messages(); ok {
		t.Error("Messages channel should be closed")
	}
	if err := adapter.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestAdapter_StartAuthFailureIsNotRetried(t *testing.T) {
	session := &mockDiscordSession{openErr: errors.New("websocket: close 4004: Authentication failed.")}
	adapter := newTestAdapter(t, Config{MaxReconnectAttempts: 3}, session)

	err := adapter.Start(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if channels.GetErrorCode(err) != channels.ErrCodeAuthentication {
		t.Errorf("error code = %s, want %s", channels.GetErrorCode(err), channels.ErrCodeAuthentication)
	}
	if session.openCalls != 1 {
		t.Errorf("Open called %d times, want 1", session.openCalls)
	}
	if session.handlers != 0 {
		t.Errorf("handlers left attached: %d", session.handlers)
	}
}

func TestAdapter_StartCancelled(t *testing.T) {
	session := &mockDiscordSession{openErr: errors.New("dial tcp: connection refused")}
	adapter := newTestAdapter(t, Config{MaxReconnectAttempts: 10}, session)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := adapter.Start(ctx)
	if channels.GetErrorCode(err) != channels.ErrCodeConnection {
		t.Errorf("error code = %s, want %s", channels.GetErrorCode(err), channels.ErrCodeConnection)
	}
}

func TestAdapter_QueueMessage(t *testing.T) {
	session := &mockDiscordSession{}

	notStarted := newTestAdapter(t, Config{}, session)
	if err := notStarted.QueueMessage(context.Background(), "c-1", "hi", nil); channels.GetErrorCode(err) != channels.ErrCodeUnavailable {
		t.Errorf("QueueMessage before Start = %v", err)
	}

	adapter := startTestAdapter(t, Config{}, session)

	done := make(chan *models.Message, 1)
	err := adapter.QueueMessage(context.Background(), "c-1", "hello", func(sent *models.Message, err error) {
		if err != nil {
			t.Errorf("delivery failed: %v", err)
		}
		done <- sent
	})
	if err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}

	select {
	case sent := <-done:
		if sent.Content != "hello" || sent.ChannelID != "c-1" {
			t.Errorf("sent = %+v", sent)
		}
		if sent.Direction != models.DirectionOutbound {
			t.Errorf("Direction = %s", sent.Direction)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	if err := adapter.QueueMessage(context.Background(), "c-1", "", nil); channels.GetErrorCode(err) != channels.ErrCodeInvalidInput {
		t.Errorf("empty content error = %v", err)
	}
}

func TestAdapter_StopDrainsQueue(t *testing.T) {
	session := &mockDiscordSession{}
	adapter := newTestAdapter(t, Config{}, session)
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, content := range []string{"a", "b", "c"} {
		if err := adapter.QueueMessage(context.Background(), "c-1", content, nil); err != nil {
			t.Fatalf("QueueMessage: %v", err)
		}
	}
	if err := adapter.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := session.sentContents(); strings.Join(got, ",") != "a,b,c" {
		t.Errorf("sent = %v", got)
	}
}

func TestAdapter_SendSplitsLongContent(t *testing.T) {
	session := &mockDiscordSession{}
	adapter := startTestAdapter(t, Config{}, session)

	content := strings.Repeat("x", MaxMessageLength) + "\n" + strings.Repeat("y", 10)
	sent, err := adapter.Send(context.Background(), "c-1", content)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	chunks := session.sentContents()
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if sent.Content != chunks[1] {
		t.Errorf("Send returned %q, want last chunk", sent.Content)
	}
	if snap := adapter.Metrics(); snap.MessagesSent != 1 {
		t.Errorf("MessagesSent = %d", snap.MessagesSent)
	}
}

func TestAdapter_SendErrors(t *testing.T) {
	restErr := func(code int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: code, Status: http.StatusText(code)}}
	}

	tests := []struct {
		name     string
		err      error
		wantCode channels.ErrorCode
	}{
		{"rate limited", restErr(http.StatusTooManyRequests), channels.ErrCodeRateLimit},
		{"unauthorized", restErr(http.StatusUnauthorized), channels.ErrCodeAuthentication},
		{"forbidden", restErr(http.StatusForbidden), channels.ErrCodeInvalidInput},
		{"unknown channel", restErr(http.StatusNotFound), channels.ErrCodeInvalidInput},
		{"server error", restErr(http.StatusBadGateway), channels.ErrCodeUnavailable},
		{"cancelled", context.Canceled, channels.ErrCodeTimeout},
		{"other", errors.New("boom"), channels.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			metrics := observability.NewMetrics(reg)
			session := &mockDiscordSession{
				sendFn: func(channelID, content string) (*discordgo.Message, error) { return nil, tt.err },
			}
			adapter := startTestAdapter(t, Config{Metrics: metrics}, session)

			_, err := adapter.Send(context.Background(), "c-1", "hello")
			if got := channels.GetErrorCode(err); got != tt.wantCode {
				t.Errorf("error code = %s, want %s", got, tt.wantCode)
			}
			if got := testutil.ToFloat64(metrics.SendCounter.WithLabelValues("discord", "error")); got != 1 {
				t.Errorf("send errors = %v, want 1", got)
			}
			if snap := adapter.Metrics(); snap.MessagesFailed != 1 {
				t.Errorf("MessagesFailed = %d", snap.MessagesFailed)
			}
		})
	}
}

func TestAdapter_SendNotConnected(t *testing.T) {
	adapter := newTestAdapter(t, Config{}, &mockDiscordSession{})
	_, err := adapter.Send(context.Background(), "c-1", "hello")
	if channels.GetErrorCode(err) != channels.ErrCodeUnavailable {
		t.Errorf("error = %v", err)
	}
}

func TestAdapter_HandleMessageCreate(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	adapter := startTestAdapter(t, Config{QueueSize: 1, Metrics: metrics}, &mockDiscordSession{})

	event := func(id string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        id,
			ChannelID: "c-1",
			Content:   "!ping",
			Author:    &discordgo.User{ID: "u-1", Username: "alice"},
		}}
	}

	adapter.handleMessageCreate(nil, event("m-1"))
	adapter.handleMessageCreate(nil, event("m-2"))
	adapter.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{ID: "no-author"}})

	select {
	case msg := <-adapter.Messages():
		if msg.ID != "m-1" || msg.Content != "!ping" || msg.AuthorID != "u-1" {
			t.Errorf("msg = %+v", msg)
		}
		if _, ok := msg.Raw.(*discordgo.MessageCreate); !ok {
			t.Errorf("Raw = %T", msg.Raw)
		}
	default:
		t.Fatal("expected a buffered message")
	}

	snap := adapter.Metrics()
	if snap.MessagesReceived != 2 || snap.MessagesDropped != 1 {
		t.Errorf("received=%d dropped=%d", snap.MessagesReceived, snap.MessagesDropped)
	}
	if got := testutil.ToFloat64(metrics.MessageCounter.WithLabelValues("discord", "inbound")); got != 2 {
		t.Errorf("inbound counter = %v", got)
	}

	if err := adapter.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Must not panic on the closed channel.
	adapter.handleMessageCreate(nil, event("m-3"))
}

func TestAdapter_DisconnectAndResume(t *testing.T) {
	adapter := startTestAdapter(t, Config{}, &mockDiscordSession{})

	adapter.handleDisconnect(nil, &discordgo.Disconnect{})
	if adapter.Status().Connected {
		t.Error("should be disconnected")
	}
	if health := adapter.HealthCheck(context.Background()); health.Healthy {
		t.Error("health should fail while disconnected")
	}

	adapter.handleResumed(nil, &discordgo.Resumed{})
	health := adapter.HealthCheck(context.Background())
	if !health.Healthy || health.Degraded {
		t.Errorf("health = %+v", health)
	}
	if health.Latency != 42*time.Millisecond {
		t.Errorf("Latency = %v", health.Latency)
	}
	if adapter.Metrics().ReconnectAttempts != 1 {
		t.Errorf("ReconnectAttempts = %d", adapter.Metrics().ReconnectAttempts)
	}
}

func TestAdapter_AddHandler(t *testing.T) {
	session := &mockDiscordSession{}
	adapter := newTestAdapter(t, Config{}, session)

	remove, err := adapter.AddHandler(func(*discordgo.Session, *discordgo.GuildCreate) {})
	if err != nil {
		t.Fatalf("AddHandler: %v", err)
	}
	if _, err := adapter.AddHandlerOnce(func(*discordgo.Session, *discordgo.Ready) {}); err != nil {
		t.Fatalf("AddHandlerOnce: %v", err)
	}
	if session.handlers != 2 {
		t.Errorf("handlers = %d", session.handlers)
	}
	remove()
	if session.handlers != 1 {
		t.Errorf("handlers after remove = %d", session.handlers)
	}
	if adapter.Session() != nil {
		t.Error("Session() should be nil for a test double")
	}
}

func TestConvertDiscordMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input *discordgo.Message
		check func(t *testing.T, msg *models.Message)
	}{
		{
			name:  "nil message",
			input: nil,
			check: func(t *testing.T, msg *models.Message) {
				if msg != nil {
					t.Errorf("expected nil, got %+v", msg)
				}
			},
		},
		{
			name: "guild message with member",
			input: &discordgo.Message{
				ID:        "m-1",
				ChannelID: "c-1",
				GuildID:   "g-1",
				Content:   "!echo hi",
				Timestamp: ts,
				Author:    &discordgo.User{ID: "u-1", Username: "alice"},
				Member:    &discordgo.Member{Nick: "Al", Roles: []string{"r-1"}},
				Mentions:  []*discordgo.User{{ID: "u-2"}},
			},
			check: func(t *testing.T, msg *models.Message) {
				if msg.ID != "m-1" || msg.ChannelID != "c-1" || msg.GuildID != "g-1" {
					t.Errorf("ids = %+v", msg)
				}
				if !msg.HasGuild() || msg.IsAutomated() {
					t.Errorf("HasGuild=%v IsAutomated=%v", msg.HasGuild(), msg.IsAutomated())
				}
				if msg.Member == nil || msg.Member.Nick != "Al" || msg.Member.UserID != "u-1" {
					t.Errorf("Member = %+v", msg.Member)
				}
				if !msg.CreatedAt.Equal(ts) {
					t.Errorf("CreatedAt = %v", msg.CreatedAt)
				}
				mentions, _ := msg.Metadata["discord_mentions"].([]string)
				if len(mentions) != 1 || mentions[0] != "u-2" {
					t.Errorf("mentions = %v", msg.Metadata)
				}
			},
		},
		{
			name: "bot author",
			input: &discordgo.Message{
				ID:     "m-2",
				Author: &discordgo.User{ID: "b-1", Bot: true},
			},
			check: func(t *testing.T, msg *models.Message) {
				if !msg.AuthorBot || !msg.IsAutomated() {
					t.Error("bot message should be automated")
				}
				if msg.HasGuild() {
					t.Error("DM should have no guild")
				}
			},
		},
		{
			name: "webhook",
			input: &discordgo.Message{
				ID:        "m-3",
				WebhookID: "w-1",
				Author:    &discordgo.User{ID: "w-1"},
			},
			check: func(t *testing.T, msg *models.Message) {
				if !msg.Webhook || !msg.IsAutomated() {
					t.Error("webhook message should be automated")
				}
			},
		},
		{
			name: "attachments",
			input: &discordgo.Message{
				ID:     "m-4",
				Author: &discordgo.User{ID: "u-1"},
				Attachments: []*discordgo.MessageAttachment{
					{ID: "a-1", URL: "https://cdn/x.png", Filename: "x.png", ContentType: "image/png", Size: 1024},
					nil,
				},
			},
			check: func(t *testing.T, msg *models.Message) {
				if len(msg.Attachments) != 1 {
					t.Fatalf("attachments = %d", len(msg.Attachments))
				}
				att := msg.Attachments[0]
				if att.Type != "image" || att.Size != 1024 || att.Filename != "x.png" {
					t.Errorf("attachment = %+v", att)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, convertDiscordMessage(tt.input))
		})
	}
}

func TestSplitContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		limit   int
		want    []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline boundary", "abc\ndefgh", 6, []string{"abc\n", "defgh"}},
		{"multibyte", "ééééé", 2, []string{"éé", "éé", "é"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitContent(tt.content, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("SplitContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectAttachmentType(t *testing.T) {
	tests := map[string]string{
		"image/png":       "image",
		"audio/mpeg":      "audio",
		"video/mp4":       "video",
		"application/pdf": "document",
		"":                "document",
	}
	for contentType, want := range tests {
		if got := detectAttachmentType(contentType); got != want {
			t.Errorf("detectAttachmentType(%q) = %q, want %q", contentType, got, want)
		}
	}
}
