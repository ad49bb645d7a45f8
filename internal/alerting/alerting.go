// Package alerting implements the outbound alert sink: it renders a
// detected confluence into the wire text tracker channels expect and
// transmits it, always leading with the glyph+header the fan-in router uses
// to suppress its own echoes.
package alerting

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

// Sink is the alert-transmission seam the queue engine's AlertFunc closes
// over, breaking what would otherwise be a queue↔confluence↔alerting cyclic
// dependency.
type Sink interface {
	Send(alert models.OutboundAlert) error
}

// ChatResolver maps a tenant to the chat id its alerts should be delivered
// to.
type ChatResolver interface {
	ChatIDForTenant(tenant string) (int64, bool)
}

// StaticChatResolver resolves tenants against a fixed, config-loaded
// tenant→chat-id mapping (config.AlertingConfig.ChatMappings).
type StaticChatResolver struct {
	mappings map[string]int64
}

// NewStaticChatResolver creates a ChatResolver over a fixed mapping.
func NewStaticChatResolver(mappings map[string]int64) *StaticChatResolver {
	return &StaticChatResolver{mappings: mappings}
}

func (r *StaticChatResolver) ChatIDForTenant(tenant string) (int64, bool) {
	chatID, ok := r.mappings[tenant]
	return chatID, ok
}

// TelegramSink is the default Sink, rendering alerts as Telegram messages.
type TelegramSink struct {
	bot      *tgbotapi.BotAPI
	resolver ChatResolver
	logger   *logrus.Logger
}

// NewTelegramSink creates a TelegramSink from an already-authenticated bot
// client.
func NewTelegramSink(bot *tgbotapi.BotAPI, resolver ChatResolver, logger *logrus.Logger) *TelegramSink {
	return &TelegramSink{bot: bot, resolver: resolver, logger: logger}
}

// Send renders and transmits alert. It never returns an error for a missing
// chat mapping — that is a configuration gap logged and otherwise ignored,
// not a retryable failure (the queue engine would otherwise retry forever).
func (s *TelegramSink) Send(alert models.OutboundAlert) error {
	chatID, ok := s.resolver.ChatIDForTenant(alert.Tenant)
	if !ok {
		s.logger.WithField("tenant", alert.Tenant).Warn("no chat mapping for tenant, dropping alert")
		return nil
	}

	text := RenderText(alert)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send confluence alert: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant": alert.Tenant,
		"coin":   alert.Coin,
		"chat":   chatID,
	}).Info("confluence alert sent")

	return nil
}

// RenderText builds the wire text for an outbound alert. It always begins
// with models.ConfluenceEchoHeader so the fan-in router can recognize and
// suppress this exact message coming back in on any tracked channel.
func RenderText(alert models.OutboundAlert) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", models.ConfluenceEchoHeader)
	fmt.Fprintf(&b, "*%s*", alert.Coin)
	if alert.CoinAddress != "" {
		fmt.Fprintf(&b, " `%s`", alert.CoinAddress)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d wallets converged: %s\n", len(alert.Wallets), strings.Join(alert.Wallets, ", "))
	fmt.Fprintf(&b, "market cap at detection: %s\n", alert.MarketCap.StringFixed(0))
	fmt.Fprintf(&b, "detected at %s", alert.DetectionTimestamp.Format("2006-01-02 15:04:05 MST"))

	return b.String()
}

// memorySink is an in-process Sink used by tests and by deployments with no
// outbound transport configured — it records every alert rather than
// transmitting it.
type memorySink struct {
	sent []models.OutboundAlert
}

// NewMemorySink creates a Sink that only records alerts in-process.
func NewMemorySink() Sink {
	return &memorySink{}
}

func (s *memorySink) Send(alert models.OutboundAlert) error {
	s.sent = append(s.sent, alert)
	return nil
}

// Sent returns every alert recorded so far.
func (s *memorySink) Sent() []models.OutboundAlert {
	return s.sent
}

// NewAlertFunc adapts a Sink into the queue.AlertFunc-shaped closure the
// queue engine depends on, converting a models.Confluence into the
// OutboundAlert wire contract at the boundary.
func NewAlertFunc(sink Sink) func(tenant string, conf models.Confluence) error {
	return func(tenant string, conf models.Confluence) error {
		return sink.Send(models.AlertFromConfluence(conf))
	}
}
