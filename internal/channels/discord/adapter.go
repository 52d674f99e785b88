// Package discord implements the channels.Adapter contract on top of the
// discordgo gateway client.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/cmdrelay/internal/channels"
	"github.com/haasonsaas/cmdrelay/internal/observability"
	"github.com/haasonsaas/cmdrelay/internal/retry"
	"github.com/haasonsaas/cmdrelay/pkg/models"
)

// MaxMessageLength is the longest content Discord accepts in one message.
const MaxMessageLength = 2000

// discordSession interface allows for mocking the Discord session in tests.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
	AddHandlerOnce(handler interface{}) func()
	HeartbeatLatency() time.Duration
}

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token from Discord Developer Portal (required)
	Token string

	// Intents are gateway intent names, see ParseIntents. Defaults to
	// DefaultIntents.
	Intents []string

	// MaxReconnectAttempts bounds the initial connection attempts.
	MaxReconnectAttempts int

	// ReconnectBackoff is the maximum backoff between connection attempts.
	ReconnectBackoff time.Duration

	// RateLimit paces outbound sends (operations per second).
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting
	RateBurst int

	// QueueSize bounds both the inbound message buffer and the outbound
	// send queue.
	QueueSize int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
}

// DefaultIntents are requested when Config.Intents is empty. Message
// content is a privileged intent and must be enabled in the developer
// portal for prefix commands to see message text.
var DefaultIntents = []string{"guilds", "guild_messages", "direct_messages", "message_content"}

var intentsByName = map[string]discordgo.Intent{
	"guilds":                   discordgo.IntentsGuilds,
	"guild_members":            discordgo.IntentsGuildMembers,
	"guild_messages":           discordgo.IntentsGuildMessages,
	"guild_message_reactions":  discordgo.IntentsGuildMessageReactions,
	"direct_messages":          discordgo.IntentsDirectMessages,
	"direct_message_reactions": discordgo.IntentsDirectMessageReactions,
	"message_content":          discordgo.IntentsMessageContent,
	"guild_presences":          discordgo.IntentsGuildPresences,
}

// ParseIntents converts intent names to the gateway bitmask.
func ParseIntents(names []string) (discordgo.Intent, error) {
	var intents discordgo.Intent
	for _, name := range names {
		intent, ok := intentsByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, channels.ErrConfig(fmt.Sprintf("unknown intent %q", name), nil)
		}
		intents |= intent
	}
	return intents, nil
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if len(c.Intents) == 0 {
		c.Intents = slices.Clone(DefaultIntents)
	}
	if _, err := ParseIntents(c.Intents); err != nil {
		return err
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer("github.com/haasonsaas/cmdrelay/internal/channels/discord")
	}
	return nil
}

// Adapter connects the bot to the Discord gateway. Inbound messages are
// converted to models.Message; outbound text goes through a rate-limited
// queue.
type Adapter struct {
	config      Config
	session     discordSession
	status      channels.Status
	messages    chan *models.Message
	closed      bool
	started     bool
	mu          sync.RWMutex
	outbox      *channels.Outbox
	rateLimiter *channels.RateLimiter
	metrics     *channels.Metrics
	logger      *slog.Logger
	degraded    bool
	degradedMu  sync.RWMutex
	removers    []func()
}

// NewAdapter creates a new Discord adapter with the given configuration.
// No connection is made until Start.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Adapter{
		config:      config,
		status:      channels.Status{Connected: false},
		messages:    make(chan *models.Message, config.QueueSize),
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		metrics:     channels.NewMetrics(models.ChannelDiscord),
		logger:      config.Logger.With("component", "discord"),
	}, nil
}

// ensureSession lazily builds the discordgo session so handlers can be
// attached before Start. Callers must hold a.mu.
func (a *Adapter) ensureSession() error {
	if a.session != nil {
		return nil
	}
	dg, err := discordgo.New("Bot " + a.config.Token)
	if err != nil {
		a.metrics.RecordError(channels.ErrCodeAuthentication)
		return channels.ErrAuthentication("failed to create Discord session", err)
	}
	intents, err := ParseIntents(a.config.Intents)
	if err != nil {
		return err
	}
	dg.Identify.Intents = intents
	a.session = dg
	return nil
}

// Session returns the underlying discordgo session, creating it if needed.
// It returns nil when the adapter runs against a test double.
func (a *Adapter) Session() *discordgo.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureSession(); err != nil {
		a.logger.Error("failed to create session", "error", err)
		return nil
	}
	dg, _ := a.session.(*discordgo.Session)
	return dg
}

// AddHandler attaches a discordgo event handler, e.g.
// func(*discordgo.Session, *discordgo.GuildCreate). It returns a function
// that detaches it.
func (a *Adapter) AddHandler(handler any) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureSession(); err != nil {
		return nil, err
	}
	return a.session.AddHandler(handler), nil
}

// AddHandlerOnce attaches a handler that runs for the next matching event
// only.
func (a *Adapter) AddHandlerOnce(handler any) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureSession(); err != nil {
		return nil, err
	}
	return a.session.AddHandlerOnce(handler), nil
}

// Start opens the gateway connection and starts the outbound queue.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return channels.ErrInternal("adapter already started", nil)
	}
	if a.closed {
		return channels.ErrUnavailable("adapter stopped", nil)
	}

	a.logger.Info("starting discord adapter",
		"intents", a.config.Intents,
		"rate_limit", a.config.RateLimit,
		"queue_size", a.config.QueueSize)

	if err := a.ensureSession(); err != nil {
		return err
	}

	a.removers = append(a.removers,
		a.session.AddHandler(a.handleMessageCreate),
		a.session.AddHandler(a.handleReady),
		a.session.AddHandler(a.handleDisconnect),
		a.session.AddHandler(a.handleResumed),
	)

	reconnector := &channels.Reconnector{
		Config: channels.ReconnectConfig{
			MaxAttempts:  a.config.MaxReconnectAttempts,
			InitialDelay: time.Second,
			MaxDelay:     a.config.ReconnectBackoff,
			Factor:       2,
			Jitter:       true,
		},
		Logger:  a.logger,
		Metrics: a.metrics,
	}
	err := reconnector.Run(ctx, func(ctx context.Context) error {
		if err := a.session.Open(); err != nil {
			if isAuthError(err) {
				return retry.Permanent(channels.ErrAuthentication("discord rejected the bot token", err))
			}
			return err
		}
		return nil
	})
	if err != nil {
		a.detachHandlers()
		a.metrics.RecordError(channels.GetErrorCode(err))
		a.recordPromError(err)
		if channels.GetErrorCode(err) == channels.ErrCodeAuthentication {
			return err
		}
		return channels.ErrConnection("failed to connect to Discord", err)
	}

	a.outbox = channels.NewOutbox(a.sendNow, channels.OutboxConfig{
		Size:    a.config.QueueSize,
		Limiter: a.rateLimiter,
		Metrics: a.metrics,
		Logger:  a.logger,
		OnDepth: func(depth int) {
			if a.config.Metrics != nil {
				a.config.Metrics.SetQueueDepth("outbound", depth)
			}
		},
	})

	a.started = true
	a.status = channels.Status{Connected: true, LastPing: time.Now().Unix()}
	a.metrics.RecordConnectionOpened()
	if a.config.Metrics != nil {
		a.config.Metrics.SetConnected(string(models.ChannelDiscord), true)
	}

	a.logger.Info("discord adapter started successfully")
	return nil
}

// Stop drains the outbound queue, closes the gateway connection and the
// Messages channel. It is safe to call more than once.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.messages)
	outbox := a.outbox
	session := a.session
	started := a.started
	a.mu.Unlock()

	if !started {
		return nil
	}

	a.logger.Info("stopping discord adapter")

	if outbox != nil {
		if err := outbox.Close(ctx); err != nil {
			a.logger.Warn("stop timeout, pending replies dropped", "error", err)
		}
	}

	a.detachHandlers()
	err := session.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.Connected = false
	if a.config.Metrics != nil {
		a.config.Metrics.SetConnected(string(models.ChannelDiscord), false)
	}

	if err != nil {
		a.status.Error = err.Error()
		a.metrics.RecordError(channels.ErrCodeConnection)
		a.logger.Error("failed to close Discord session", "error", err)
		return channels.ErrConnection("failed to close Discord session", err)
	}

	a.metrics.RecordConnectionClosed()
	a.logger.Info("discord adapter stopped gracefully")
	return nil
}

func (a *Adapter) detachHandlers() {
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
}

// QueueMessage enqueues content for delivery to channelID. It returns once
// the message is queued; done, when non-nil, reports the delivery result.
func (a *Adapter) QueueMessage(ctx context.Context, channelID, content string, done channels.SendCallback) error {
	a.mu.RLock()
	outbox := a.outbox
	closed := a.closed
	a.mu.RUnlock()

	if outbox == nil || closed {
		return channels.ErrUnavailable("adapter not started", nil)
	}
	return outbox.Enqueue(ctx, channelID, content, done)
}

// Send delivers content immediately, bypassing the queue but not the rate
// limiter.
func (a *Adapter) Send(ctx context.Context, channelID, content string) (*models.Message, error) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.metrics.RecordError(channels.ErrCodeTimeout)
		return nil, channels.ErrTimeout("rate limit wait cancelled", err)
	}

	start := time.Now()
	sent, err := a.sendNow(ctx, channelID, content)
	if err != nil {
		a.metrics.RecordMessageFailed()
		a.metrics.RecordError(channels.GetErrorCode(err))
		return nil, err
	}
	a.metrics.RecordMessageSent(time.Since(start))
	return sent, nil
}

// sendNow performs the REST call. Content longer than MaxMessageLength is
// split and sent as consecutive messages; the last one is returned.
func (a *Adapter) sendNow(ctx context.Context, channelID, content string) (*models.Message, error) {
	ctx, span := a.config.Tracer.Start(ctx, "discord.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("discord.channel_id", channelID),
			attribute.Int("discord.content_length", len(content)),
		))
	defer span.End()

	a.mu.RLock()
	session := a.session
	connected := a.status.Connected
	a.mu.RUnlock()

	if session == nil || !connected {
		err := channels.ErrUnavailable("adapter not connected", nil)
		a.failSend(span, err)
		return nil, err
	}
	if channelID == "" {
		err := channels.ErrInvalidInput("channel id is required", nil)
		a.failSend(span, err)
		return nil, err
	}

	start := time.Now()
	var last *discordgo.Message
	for _, chunk := range SplitContent(content, MaxMessageLength) {
		sent, err := session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			classified := classifyError(err).WithContext("channel_id", channelID)
			a.failSend(span, classified)
			a.logger.Error("failed to send message", "error", err, "channel_id", channelID)
			return nil, classified
		}
		last = sent
	}

	if a.config.Metrics != nil {
		a.config.Metrics.MessageSent(string(models.ChannelDiscord), "success")
	}
	a.logger.Debug("message sent",
		"channel_id", channelID,
		"latency_ms", time.Since(start).Milliseconds())

	out := convertDiscordMessage(last)
	if out == nil {
		out = &models.Message{Channel: models.ChannelDiscord, ChannelID: channelID, Content: content}
	}
	out.Direction = models.DirectionOutbound
	return out, nil
}

func (a *Adapter) failSend(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if a.config.Metrics != nil {
		a.config.Metrics.MessageSent(string(models.ChannelDiscord), "error")
	}
	a.recordPromError(err)
}

func (a *Adapter) recordPromError(err error) {
	if a.config.Metrics != nil {
		a.config.Metrics.RecordError("discord", string(channels.GetErrorCode(err)))
	}
}

// Messages returns a channel of inbound messages.
func (a *Adapter) Messages() <-chan *models.Message {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelDiscord
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// HealthCheck reports the connection state and gateway heartbeat latency.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	health := channels.HealthStatus{LastCheck: time.Now()}

	a.mu.RLock()
	connected := a.status.Connected
	session := a.session
	a.mu.RUnlock()

	if !connected || session == nil {
		health.Message = "adapter not connected"
		return health
	}

	health.Healthy = true
	health.Latency = session.HeartbeatLatency()
	health.Degraded = a.isDegraded()
	if health.Degraded {
		health.Message = "operating in degraded mode"
	} else {
		health.Message = "healthy"
	}
	return health
}

// Metrics returns the current metrics snapshot.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.metrics.Snapshot()
}

// Event handlers

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil {
		return
	}
	msg := convertDiscordMessage(m.Message)
	if msg == nil {
		return
	}
	msg.Raw = m
	msg.Conn = s
	a.deliver(msg)
}

// deliver hands msg to the inbound buffer, dropping it when the buffer is
// full so the gateway goroutine never blocks.
func (a *Adapter) deliver(msg *models.Message) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	a.metrics.RecordMessageReceived()
	if a.config.Metrics != nil {
		a.config.Metrics.MessageReceived(string(models.ChannelDiscord))
	}

	select {
	case a.messages <- msg:
		if a.config.Metrics != nil {
			a.config.Metrics.SetQueueDepth("inbound", len(a.messages))
		}
	default:
		a.logger.Warn("messages channel full, dropping message",
			"channel_id", msg.ChannelID,
			"message_id", msg.ID)
		a.metrics.RecordMessageDropped()
		a.recordPromError(channels.ErrQueueFull("inbound buffer full", nil))
	}
}

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.setConnected(true, "")
	a.setDegraded(false)

	user := ""
	if r != nil && r.User != nil {
		user = r.User.Username
	}
	guilds := 0
	if r != nil {
		guilds = len(r.Guilds)
	}
	a.logger.Info("discord connection ready", "user", user, "guilds", guilds)
}

// discordgo reconnects on its own after a gateway drop; the adapter only
// tracks the state for health reporting.
func (a *Adapter) handleDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return
	}

	a.setConnected(false, "disconnected from Discord")
	a.setDegraded(true)
	a.metrics.RecordError(channels.ErrCodeConnection)
	a.logger.Warn("disconnected from discord, waiting for session to resume")
}

func (a *Adapter) handleResumed(s *discordgo.Session, r *discordgo.Resumed) {
	a.setConnected(true, "")
	a.setDegraded(false)
	a.metrics.RecordReconnectAttempt()
	a.logger.Info("discord session resumed")
}

func (a *Adapter) setConnected(connected bool, errMsg string) {
	a.mu.Lock()
	a.status.Connected = connected
	a.status.Error = errMsg
	a.status.LastPing = time.Now().Unix()
	a.mu.Unlock()

	if a.config.Metrics != nil {
		a.config.Metrics.SetConnected(string(models.ChannelDiscord), connected)
	}
}

func (a *Adapter) setDegraded(degraded bool) {
	a.degradedMu.Lock()
	defer a.degradedMu.Unlock()
	a.degraded = degraded
}

func (a *Adapter) isDegraded() bool {
	a.degradedMu.RLock()
	defer a.degradedMu.RUnlock()
	return a.degraded
}

// isAuthError reports gateway close 4004 or a REST 401.
func isAuthError(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusUnauthorized {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "4004") || strings.Contains(msg, "Authentication failed")
}

// classifyError maps discordgo errors to channel error codes.
func classifyError(err error) *channels.Error {
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return channels.ErrRateLimit("discord rate limit exceeded", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return channels.ErrTimeout("send cancelled", err)
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch code := restErr.Response.StatusCode; {
		case code == http.StatusTooManyRequests:
			return channels.ErrRateLimit("discord rate limit exceeded", err)
		case code == http.StatusUnauthorized:
			return channels.ErrAuthentication("discord rejected the bot token", err)
		case code == http.StatusForbidden, code == http.StatusNotFound, code == http.StatusBadRequest:
			return channels.ErrInvalidInput("discord refused the message", err)
		case code >= 500:
			return channels.ErrUnavailable("discord is unavailable", err)
		}
	}
	return channels.ErrInternal("failed to send message", err)
}

// Message conversion

func convertDiscordMessage(m *discordgo.Message) *models.Message {
	if m == nil || m.Author == nil {
		return nil
	}

	msg := &models.Message{
		ID:          m.ID,
		Channel:     models.ChannelDiscord,
		Direction:   models.DirectionInbound,
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		AuthorBot:   m.Author.Bot,
		Webhook:     m.WebhookID != "",
		Content:     m.Content,
		Attachments: make([]models.Attachment, 0, len(m.Attachments)),
		CreatedAt:   time.Now(),
	}

	if !m.Timestamp.IsZero() {
		msg.CreatedAt = m.Timestamp
	}

	if m.Member != nil {
		msg.Member = &models.Member{
			UserID: m.Author.ID,
			Nick:   m.Member.Nick,
			Roles:  slices.Clone(m.Member.Roles),
		}
	}

	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:       att.ID,
			Type:     detectAttachmentType(att.ContentType),
			URL:      att.URL,
			Filename: att.Filename,
			MimeType: att.ContentType,
			Size:     int64(att.Size),
		})
	}

	if len(m.Mentions) > 0 {
		mentions := make([]string, 0, len(m.Mentions))
		for _, user := range m.Mentions {
			if user != nil {
				mentions = append(mentions, user.ID)
			}
		}
		msg.Metadata = map[string]any{"discord_mentions": mentions}
	}

	return msg
}

func detectAttachmentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "document"
	}
}

// SplitContent breaks content into chunks of at most limit runes,
// preferring to cut after a newline.
func SplitContent(content string, limit int) []string {
	runes := []rune(content)
	if limit <= 0 || len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
