// Package trust maintains a lightweight per-wallet trust score: a count of
// confluence participations, decayed over time. It never gates detection —
// detection stays purely count-based — and the recap scorecard does not read
// it.
package trust

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// decayHalfLife is how long it takes a wallet's score to halve absent new
// participations.
const decayHalfLife = 30 * 24 * time.Hour

// WalletNode is one wallet's decaying trust score.
type WalletNode struct {
	Address     string
	Score       float64
	LastUpdated time.Time
}

// Store is the durable-persistence seam the ledger flushes decayed scores
// through. *db.Connection satisfies it.
type Store interface {
	SaveWalletTrustScores(scores map[string]float64) error
	GetWalletTrustScore(walletAddress string) (float64, error)
}

// Ledger is an in-memory, DB-backed wallet trust score table.
type Ledger struct {
	store  Store
	logger *logrus.Logger

	mu      sync.RWMutex
	wallets map[string]*WalletNode

	maintenanceInterval time.Duration
	stopCh              chan struct{}
	wg                  sync.WaitGroup
}

// NewLedger creates a Ledger backed by store. store may be nil, in which
// case the ledger runs purely in-memory (useful for tests and for
// deployments that haven't wired persistence).
func NewLedger(store Store, logger *logrus.Logger) *Ledger {
	return &Ledger{
		store:               store,
		logger:              logger,
		wallets:             make(map[string]*WalletNode),
		maintenanceInterval: 6 * time.Hour,
		stopCh:              make(chan struct{}),
	}
}

// Start launches the periodic decay sweep.
func (l *Ledger) Start(ctx context.Context) error {
	l.wg.Add(1)
	go l.maintenanceLoop(ctx)
	return nil
}

// Stop signals the decay sweep to exit and waits for it.
func (l *Ledger) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Ledger) maintenanceLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.decayAll()
		}
	}
}

func (l *Ledger) decayAll() {
	l.mu.Lock()
	now := time.Now()
	scores := make(map[string]float64, len(l.wallets))
	for _, w := range l.wallets {
		w.Score = decay(w.Score, now.Sub(w.LastUpdated))
		w.LastUpdated = now
		scores[w.Address] = w.Score
	}
	l.mu.Unlock()

	if l.store == nil || len(scores) == 0 {
		return
	}
	if err := l.store.SaveWalletTrustScores(scores); err != nil {
		l.logger.WithError(err).Warn("failed to flush wallet trust scores")
	}
}

// decay applies exponential half-life decay to score over elapsed.
func decay(score float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || score == 0 {
		return score
	}
	halvings := float64(elapsed) / float64(decayHalfLife)
	return score * math.Pow(2, -halvings)
}

// RecordParticipation bumps walletAddress's score after it participates in a
// detected confluence.
func (l *Ledger) RecordParticipation(walletAddress string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.wallets[walletAddress]
	if !ok {
		w = &WalletNode{Address: walletAddress}
		l.wallets[walletAddress] = w
	} else {
		w.Score = decay(w.Score, now.Sub(w.LastUpdated))
	}
	w.Score++
	w.LastUpdated = now
}

// Score returns walletAddress's current trust score. On a cold miss it
// falls back to the persisted score (e.g. after a restart, before any
// in-process participation has been recorded again), or 0 if never seen
// anywhere.
func (l *Ledger) Score(walletAddress string) float64 {
	l.mu.RLock()
	w, ok := l.wallets[walletAddress]
	l.mu.RUnlock()

	if ok {
		return decay(w.Score, time.Since(w.LastUpdated))
	}

	if l.store == nil {
		return 0
	}
	score, err := l.store.GetWalletTrustScore(walletAddress)
	if err != nil {
		l.logger.WithError(err).WithField("wallet_address", walletAddress).Warn("failed to load persisted wallet trust score")
		return 0
	}
	return score
}

// IsEarlyWallet reports whether score is strictly greater than at least 75%
// of allScores. The recap scorecard does not call it: its 1.5x early-wallet
// weighting goes by arrival order within a confluence.
func IsEarlyWallet(score float64, allScores []float64) bool {
	if len(allScores) == 0 {
		return false
	}
	var above int
	for _, s := range allScores {
		if score > s {
			above++
		}
	}
	percentile := float64(above) / float64(len(allScores))
	return percentile >= 0.75
}
