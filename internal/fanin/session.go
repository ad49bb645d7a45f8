package fanin

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/internal/pipeline"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// Buffer is the durable pre-dispatch seam. *pipeline.InboundBuffer satisfies
// it; a nil Buffer on SessionManager means messages go straight to the
// router with no crash-recovery buffering.
type Buffer interface {
	Publish(sessionID string, msg models.InboundMessage) error
}

var _ Buffer = (*pipeline.InboundBuffer)(nil)

// probeInterval is the default upstream session probe timeout.
const probeInterval = 5 * time.Minute

// SessionConfig is one upstream session's connection credentials.
type SessionConfig struct {
	ID          string
	AppID       int
	AppHash     string
	Phone       string
	SessionFile string
}

// upstreamSession wraps one gotd/td client connection and its liveness.
type upstreamSession struct {
	cfg     SessionConfig
	client  *telegram.Client
	gaps    *updates.Manager
	healthy bool
	cancel  context.CancelFunc
}

// SessionManager runs one or more parallel upstream sessions, probing each
// periodically and re-establishing the whole pool if it empties out (spec
// §4.2 Health policy).
type SessionManager struct {
	router *Router
	buffer Buffer
	logger *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*upstreamSession
	configs  []SessionConfig

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSessionManager creates a SessionManager for the given configs. buffer
// may be nil, in which case received messages are dispatched to router
// directly with no durable pre-dispatch buffering.
func NewSessionManager(configs []SessionConfig, router *Router, buffer Buffer, logger *logrus.Logger) *SessionManager {
	return &SessionManager{
		router:   router,
		buffer:   buffer,
		logger:   logger,
		sessions: make(map[string]*upstreamSession),
		configs:  configs,
		stopCh:   make(chan struct{}),
	}
}

// Start establishes every configured session and launches the probe loop.
func (m *SessionManager) Start(ctx context.Context) error {
	for _, cfg := range m.configs {
		if err := m.establish(ctx, cfg); err != nil {
			m.logger.WithError(err).WithField("session", cfg.ID).Error("failed to establish upstream session")
		}
	}

	m.wg.Add(1)
	go m.probeLoop(ctx)

	return nil
}

// Stop tears down every session and the probe loop.
func (m *SessionManager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.cancel()
		delete(m.sessions, id)
	}
}

func (m *SessionManager) establish(ctx context.Context, cfg SessionConfig) error {
	dispatcher := tg.NewUpdateDispatcher()
	gaps := updates.New(updates.Config{
		Handler: dispatcher,
		Logger:  nil,
	})

	sess := &upstreamSession{cfg: cfg, gaps: gaps}

	client := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
		UpdateHandler:  gaps,
	})
	sess.client = client

	dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok {
			return nil
		}
		inbound := inboundFromUpdate(msg, entities)

		if m.buffer != nil {
			if err := m.buffer.Publish(cfg.ID, inbound); err != nil {
				m.logger.WithError(err).WithField("session", cfg.ID).Warn("failed to buffer inbound message, dispatching directly")
				m.router.ProcessMessage(cfg.ID, inbound)
			}
			return nil
		}

		m.router.ProcessMessage(cfg.ID, inbound)
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := client.Run(runCtx, func(ctx context.Context) error {
			self, err := client.Self(ctx)
			if err != nil {
				return fmt.Errorf("resolve self identity: %w", err)
			}
			return gaps.Run(ctx, client.API(), self.ID, updates.AuthOptions{
				IsBot: self.Bot,
			})
		})
		if err != nil && runCtx.Err() == nil {
			m.logger.WithError(err).WithField("session", cfg.ID).Error("upstream session terminated")
			m.markUnhealthy(cfg.ID)
		}
	}()

	m.mu.Lock()
	sess.healthy = true
	m.sessions[cfg.ID] = sess
	m.mu.Unlock()

	return nil
}

func (m *SessionManager) markUnhealthy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.healthy = false
	}
}

func (m *SessionManager) probeLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// probeAll pings every session; a session failing its probe is withdrawn
// from the pool. If the pool empties out entirely, every configured session
// is re-established.
func (m *SessionManager) probeAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		sess, ok := m.sessions[id]
		m.mu.Unlock()
		if !ok {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := sess.client.Self(probeCtx)
		cancel()

		if err != nil {
			m.logger.WithError(err).WithField("session", id).Warn("session failed health probe, withdrawing")
			sess.cancel()
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	empty := len(m.sessions) == 0
	m.mu.Unlock()

	if empty && len(m.configs) > 0 {
		m.logger.Warn("session pool empty, re-establishing all configured sessions")
		for _, cfg := range m.configs {
			if err := m.establish(ctx, cfg); err != nil {
				m.logger.WithError(err).WithField("session", cfg.ID).Error("failed to re-establish upstream session")
			}
		}
	}
}

// inboundFromUpdate converts a raw Telegram message update into the
// fan-in router's InboundMessage contract.
func inboundFromUpdate(msg *tg.Message, entities tg.Entities) models.InboundMessage {
	inbound := models.InboundMessage{
		Text:      msg.Message,
		Outbound:  msg.Out,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if peer, ok := msg.FromID.(*tg.PeerUser); ok {
		inbound.SenderID = peer.UserID
		if user, ok := entities.Users[peer.UserID]; ok {
			inbound.SenderHandle = user.Username
		}
	}

	for _, e := range msg.Entities {
		switch ent := e.(type) {
		case *tg.MessageEntityURL:
			inbound.Entities = append(inbound.Entities, models.Entity{
				Kind:   models.EntityURL,
				Offset: ent.Offset,
				Length: ent.Length,
				URL:    substrUTF16(msg.Message, ent.Offset, ent.Length),
			})
		case *tg.MessageEntityTextURL:
			inbound.Entities = append(inbound.Entities, models.Entity{
				Kind:   models.EntityTextURL,
				Offset: ent.Offset,
				Length: ent.Length,
				URL:    ent.URL,
			})
		case *tg.MessageEntityMention:
			inbound.Entities = append(inbound.Entities, models.Entity{
				Kind:   models.EntityMention,
				Offset: ent.Offset,
				Length: ent.Length,
			})
		}
	}

	return inbound
}

// substrUTF16 extracts the text entity's span. Telegram reports entity
// offsets/lengths in UTF-16 code units; ranges outside the message bounds
// are clamped rather than panicking on malformed updates.
func substrUTF16(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || offset >= len(units) {
		return ""
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[offset:end]))
}
