// Package queue implements the per-tenant ingestion queue: an isolated FIFO
// per tenant, fair round-robin draining across tenants, and exponential
// backoff retry on job failure.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

const (
	// BatchMax is how many jobs a tenant's queue drains per scheduler pass
	// before yielding to the next tenant.
	BatchMax = 10

	// MaxAttempts is the retry ceiling before a job is abandoned.
	MaxAttempts = 3

	// PendingWarnThreshold logs a backpressure warning once a tenant's
	// pending length crosses it. The queue itself stays unbounded.
	PendingWarnThreshold = 100

	schedulerTick = 100 * time.Millisecond
)

// ConfluenceEngine is the confluence detector seam — broken out as an
// interface, per the redesign note on cyclic queue/confluence/alert
// references, so the queue never imports the confluence package directly.
type ConfluenceEngine interface {
	Ingest(tenant string, tx models.Transaction) ([]models.Confluence, error)
}

// TransactionStore persists every ingested transaction, independent of
// whether it completes a confluence.
type TransactionStore interface {
	StoreTransaction(tenant string, tx models.Transaction) error
}

// AlertFunc delivers a detected confluence to the alert sink. It is
// function-typed, not an interface, for the same cyclic-reference reason as
// ConfluenceEngine.
type AlertFunc func(tenant string, conf models.Confluence) error

// tenantQueue is one tenant's isolated FIFO and running statistics.
type tenantQueue struct {
	mu               sync.Mutex
	jobs             []models.Job
	inFlight         bool
	stats            models.TenantQueueStats
	totalProcessTime time.Duration
}

// Engine is the per-tenant queue engine.
type Engine struct {
	confluenceEngine ConfluenceEngine
	store            TransactionStore
	alertFn          AlertFunc
	logger           *logrus.Logger

	mu          sync.Mutex
	tenants     map[string]*tenantQueue
	tenantOrder []string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a queue Engine.
func NewEngine(confluenceEngine ConfluenceEngine, store TransactionStore, alertFn AlertFunc, logger *logrus.Logger) *Engine {
	return &Engine{
		confluenceEngine: confluenceEngine,
		store:            store,
		alertFn:          alertFn,
		logger:           logger,
		tenants:          make(map[string]*tenantQueue),
		stopCh:           make(chan struct{}),
	}
}

// Start launches the round-robin scheduler loop.
func (e *Engine) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.schedulerLoop(ctx)
	return nil
}

// Stop signals the scheduler to exit and waits for in-flight batches.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Enqueue appends a job to tenant's queue, creating the queue if this is the
// tenant's first job.
func (e *Engine) Enqueue(tenant string, tx models.Transaction, meta models.JobMeta) {
	tq := e.tenantQueue(tenant)

	tq.mu.Lock()
	tq.jobs = append(tq.jobs, models.Job{Payload: tx, Meta: meta})
	tq.stats.Tenant = tenant
	tq.stats.Pending = len(tq.jobs)
	pending := tq.stats.Pending
	tq.mu.Unlock()

	if pending > PendingWarnThreshold {
		e.logger.WithFields(logrus.Fields{
			"tenant":  tenant,
			"pending": pending,
		}).Warn("tenant queue backpressure threshold exceeded")
	}
}

func (e *Engine) tenantQueue(tenant string) *tenantQueue {
	e.mu.Lock()
	defer e.mu.Unlock()

	tq, ok := e.tenants[tenant]
	if !ok {
		tq = &tenantQueue{}
		e.tenants[tenant] = tq
		e.tenantOrder = append(e.tenantOrder, tenant)
	}
	return tq
}

// RemoveTenant cancels tenant's pending jobs, used when a tenant is torn
// down: removal cancels enqueued jobs, but in-flight jobs still run to
// completion, their output discarded by the caller.
func (e *Engine) RemoveTenant(tenant string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tq, ok := e.tenants[tenant]; ok {
		tq.mu.Lock()
		tq.jobs = nil
		tq.stats.Pending = 0
		tq.mu.Unlock()
	}
}

// Stats returns a snapshot of tenant's current queue statistics.
func (e *Engine) Stats(tenant string) models.TenantQueueStats {
	tq := e.tenantQueue(tenant)
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.stats
}

func (e *Engine) schedulerLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runPass(ctx)
		}
	}
}

// runPass dispatches one batch per tenant with pending work and no batch
// already in-flight. Batches across tenants run concurrently.
func (e *Engine) runPass(ctx context.Context) {
	e.mu.Lock()
	tenants := make([]string, len(e.tenantOrder))
	copy(tenants, e.tenantOrder)
	e.mu.Unlock()

	for _, tenant := range tenants {
		tq := e.tenantQueue(tenant)

		tq.mu.Lock()
		if tq.inFlight || len(tq.jobs) == 0 {
			tq.mu.Unlock()
			continue
		}
		tq.inFlight = true
		tq.mu.Unlock()

		go e.runBatch(ctx, tenant, tq)
	}
}

func (e *Engine) runBatch(ctx context.Context, tenant string, tq *tenantQueue) {
	defer func() {
		tq.mu.Lock()
		tq.inFlight = false
		tq.mu.Unlock()
	}()

	for i := 0; i < BatchMax; i++ {
		tq.mu.Lock()
		if len(tq.jobs) == 0 {
			tq.mu.Unlock()
			return
		}
		job := tq.jobs[0]
		tq.jobs = tq.jobs[1:]
		tq.stats.Pending = len(tq.jobs)
		tq.mu.Unlock()

		start := time.Now()
		err := e.processJob(ctx, tenant, job)
		elapsed := time.Since(start)

		tq.mu.Lock()
		if err != nil {
			e.handleFailure(tq, tenant, job)
		} else {
			tq.stats.Processed++
			tq.stats.LastProcessedAt = time.Now()
			tq.totalProcessTime += elapsed
			tq.stats.AvgProcessTime = tq.totalProcessTime / time.Duration(tq.stats.Processed)
		}
		tq.stats.Pending = len(tq.jobs)
		tq.mu.Unlock()
	}
}

// handleFailure applies the retry/abandon policy. Caller holds tq.mu.
func (e *Engine) handleFailure(tq *tenantQueue, tenant string, job models.Job) {
	tq.stats.Errors++

	if job.Attempts >= MaxAttempts {
		e.logger.WithFields(logrus.Fields{
			"tenant":   tenant,
			"token":    job.Meta.TokenAddressHint,
			"attempts": job.Attempts,
		}).Error("job abandoned after exhausting retries")
		return
	}

	job.Attempts++
	delay := time.Duration(1<<uint(job.Attempts)) * time.Second

	e.logger.WithFields(logrus.Fields{
		"tenant":   tenant,
		"attempts": job.Attempts,
		"delay":    delay,
	}).Warn("job failed, scheduling retry")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-e.stopCh:
			return
		case <-timer.C:
		}
		tq.mu.Lock()
		tq.jobs = append([]models.Job{job}, tq.jobs...)
		tq.stats.Pending = len(tq.jobs)
		tq.mu.Unlock()
	}()
}

// processJob runs the per-job pipeline: persist, detect, filter, alert.
func (e *Engine) processJob(ctx context.Context, tenant string, job models.Job) error {
	if err := e.store.StoreTransaction(tenant, job.Payload); err != nil {
		return err
	}

	confs, err := e.confluenceEngine.Ingest(tenant, job.Payload)
	if err != nil {
		return err
	}

	for _, conf := range confs {
		if !matchesHint(conf, job.Meta) {
			continue
		}
		if err := e.alertFn(tenant, conf); err != nil {
			return err
		}
	}

	return nil
}

// matchesHint implements the token-scope filter: only alerts for the token
// that triggered this job's ingestion are emitted from it.
func matchesHint(conf models.Confluence, meta models.JobMeta) bool {
	if meta.TokenAddressHint != "" {
		return conf.TokenAddress == meta.TokenAddressHint
	}
	return conf.TokenSymbol == meta.TokenHint
}
