// Package fanin implements the upstream-session layer: a router that
// dispatches inbound tracker messages to the right parser/tenant queue, and
// a session manager that keeps one or more Telegram client connections alive
// against the tracker source.
package fanin

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/internal/parser"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// Directory is the subscriber-resolution seam. *tracker.Registry satisfies
// it; tests substitute a fake.
type Directory interface {
	ResolveSubscribers(senderID int64, senderHandle string) []models.Subscription
}

// Enqueuer is the per-tenant queue seam. *queue.Engine satisfies it.
type Enqueuer interface {
	Enqueue(tenant string, tx models.Transaction, meta models.JobMeta)
}

// Router is the fan-in dispatcher: strictly CPU/dispatch work, no blocking
// I/O.
type Router struct {
	directory Directory
	parsers   *parser.Registry
	queue     Enqueuer
	logger    *logrus.Logger
	selfID    int64
}

// NewRouter creates a Router. selfID is the bot's own platform id, used to
// filter self-sent messages.
func NewRouter(directory Directory, parsers *parser.Registry, queue Enqueuer, logger *logrus.Logger, selfID int64) *Router {
	return &Router{
		directory: directory,
		parsers:   parsers,
		queue:     queue,
		logger:    logger,
		selfID:    selfID,
	}
}

// ProcessMessage applies the pre-parse filters, resolves every tenant
// subscribed to the originating tracker, and enqueues one job per
// subscriber under that subscriber's recorded format — the same text may
// parse differently for different tenants.
func (r *Router) ProcessMessage(sessionID string, msg models.InboundMessage) {
	if msg.Outbound {
		return
	}
	if msg.SenderID == r.selfID {
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	if strings.HasPrefix(strings.TrimSpace(msg.Text), models.ConfluenceEchoHeader) {
		return
	}

	subscribers := r.directory.ResolveSubscribers(msg.SenderID, msg.SenderHandle)
	if len(subscribers) == 0 {
		return
	}

	for _, sub := range subscribers {
		tx, ok := r.parsers.Parse(msg, sub.TrackerType)
		if !ok {
			continue
		}

		r.logger.WithFields(logrus.Fields{
			"session":      sessionID,
			"tenant":       sub.Tenant,
			"tracker_type": sub.TrackerType,
			"token":        tx.TokenIdentity(),
		}).Debug("dispatching parsed transaction to tenant queue")

		r.queue.Enqueue(sub.Tenant, *tx, models.JobMeta{
			TrackerName:      sub.Tracker.Handle,
			TokenHint:        tx.TokenSymbol,
			TokenAddressHint: tx.TokenAddress,
			EnqueuedAt:       msg.Timestamp,
		})
	}
}
