// Package pipeline durably buffers raw inbound tracker messages in a Redis
// stream ahead of the fan-in router, so a crash between receipt and dispatch
// does not silently lose a message.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/internal/storage/cache"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

const (
	inboundStream = "inbound:raw"
	consumerGroup = "fanin-router"
	consumerName  = "router-1"
)

// Dispatcher processes one buffered inbound message. *fanin.Router satisfies
// it directly, since pipeline must not import fanin (fanin already depends on
// the router/session layer; this package sits below it).
type Dispatcher interface {
	ProcessMessage(sessionID string, msg models.InboundMessage)
}

// wireMessage is the on-stream envelope: the session id plus the inbound
// message contract, flattened into Redis stream fields.
type wireMessage struct {
	SessionID string                 `json:"session_id"`
	Message   models.InboundMessage `json:"message"`
}

// InboundBuffer is the durable buffer between upstream sessions and the
// fan-in router.
type InboundBuffer struct {
	redis   *cache.Redis
	logger  *logrus.Logger
	stopped bool
}

// NewInboundBuffer creates an InboundBuffer backed by redis.
func NewInboundBuffer(redis *cache.Redis, logger *logrus.Logger) *InboundBuffer {
	return &InboundBuffer{redis: redis, logger: logger, stopped: true}
}

// Publish appends an inbound message to the durable stream. Called by the
// session manager as soon as a message is received, before any parsing.
func (b *InboundBuffer) Publish(sessionID string, msg models.InboundMessage) error {
	wire := wireMessage{SessionID: sessionID, Message: msg}

	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to marshal inbound message: %w", err)
	}

	if err := b.redis.XAdd(inboundStream, map[string]interface{}{"payload": string(payload)}); err != nil {
		return fmt.Errorf("failed to buffer inbound message: %w", err)
	}

	return nil
}

// Start creates the consumer group (idempotently) and launches the drain
// loop that hands every buffered message to dispatcher.
func (b *InboundBuffer) Start(dispatcher Dispatcher) error {
	err := b.redis.XGroupCreate(inboundStream, consumerGroup)
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.stopped = false
	go b.drainLoop(dispatcher)

	return nil
}

// Stop signals the drain loop to exit.
func (b *InboundBuffer) Stop() {
	b.stopped = true
}

func (b *InboundBuffer) drainLoop(dispatcher Dispatcher) {
	for !b.stopped {
		messages, err := b.redis.XReadGroup(inboundStream, consumerGroup, consumerName, 10, time.Second)
		if err != nil {
			if err.Error() != "redis: nil" {
				b.logger.WithError(err).Warn("error reading inbound buffer stream")
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range messages {
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				b.logger.WithField("msg_id", msg.ID).Warn("inbound buffer entry missing payload field")
				continue
			}

			var wire wireMessage
			if err := json.Unmarshal([]byte(raw), &wire); err != nil {
				b.logger.WithError(err).WithField("msg_id", msg.ID).Warn("failed to decode buffered inbound message")
				continue
			}

			dispatcher.ProcessMessage(wire.SessionID, wire.Message)

			if err := b.redis.XAck(inboundStream, consumerGroup, msg.ID); err != nil {
				b.logger.WithError(err).WithField("msg_id", msg.ID).Warn("failed to acknowledge buffered inbound message")
			}
		}
	}
}
