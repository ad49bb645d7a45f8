// Package parser converts tracker-forwarded chat messages into normalized
// Transaction records. Extractors never error: a message that cannot be
// understood yields (nil, false), not a panic or an error value — upstream
// text is heterogeneous and unparseable messages are routine, not failures.
package parser

import (
	"github.com/sirupsen/logrus"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// Extractor is implemented by each tracker-format parser.
type Extractor interface {
	Extract(msg models.InboundMessage) (*models.Transaction, bool)
}

// Registry maps a TrackerType to its Extractor and applies the shared
// post-normalization stage.
type Registry struct {
	extractors map[models.TrackerType]Extractor
	logger     *logrus.Logger
}

// NewRegistry wires the three built-in format extractors.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		extractors: map[models.TrackerType]Extractor{
			models.TrackerTypeA: &typeAExtractor{},
			models.TrackerTypeB: &typeBExtractor{},
			models.TrackerTypeC: &typeCExtractor{},
		},
		logger: logger,
	}
}

// Parse extracts a Transaction from msg under the given tracker type. A nil
// result means "ignore this message", never an error.
func (r *Registry) Parse(msg models.InboundMessage, trackerType models.TrackerType) (*models.Transaction, bool) {
	extractor, ok := r.extractors[trackerType]
	if !ok {
		r.logger.WithField("tracker_type", trackerType).Warn("no extractor registered for tracker type")
		return nil, false
	}

	tx, ok := extractor.Extract(msg)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"tracker_type": trackerType,
		}).Debug("message did not match extractor, dropping")
		return nil, false
	}

	if !tx.Normalize() {
		r.logger.WithFields(logrus.Fields{
			"tracker_type": trackerType,
		}).Warn("extracted transaction failed post-normalization, dropping")
		return nil, false
	}

	return tx, true
}
