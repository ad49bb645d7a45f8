// Package tracker maintains the subscription directory: which tenants watch
// which upstream trackers, under which format, and the per-tenant detection
// settings that gate confluence alerts.
package tracker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// Store is the durable-persistence seam the Registry relies on. A
// *db.Connection satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetAllSubscriptions() ([]models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	DeleteSubscription(tenant, trackerHandle string) error
	GetTenantSettings(tenant string) (*models.TenantSettings, bool, error)
	SaveTenantSettings(s *models.TenantSettings) error
}

// Registry is the in-memory subscription directory, periodically refreshed
// from durable storage so a restart resumes exactly where it left off.
type Registry struct {
	db     Store
	logger *logrus.Logger

	mu            sync.RWMutex
	byTenant      map[string][]models.Subscription
	settings      map[string]models.TenantSettings
	refreshPeriod time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store Store, logger *logrus.Logger) *Registry {
	return &Registry{
		db:            store,
		logger:        logger,
		byTenant:      make(map[string][]models.Subscription),
		settings:      make(map[string]models.TenantSettings),
		refreshPeriod: 60 * time.Second,
		stopCh:        make(chan struct{}),
	}
}

// Start loads the directory from storage and launches the periodic refresh.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.reload(); err != nil {
		r.logger.WithError(err).Warn("initial subscription directory load failed, starting empty")
	}

	r.wg.Add(1)
	go r.refreshLoop(ctx)

	return nil
}

// Stop signals the refresh loop to exit and waits for it.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) refreshLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.refreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.reload(); err != nil {
				r.logger.WithError(err).Warn("subscription directory refresh failed")
			}
		}
	}
}

func (r *Registry) reload() error {
	subs, err := r.db.GetAllSubscriptions()
	if err != nil {
		return err
	}

	byTenant := make(map[string][]models.Subscription, len(subs))
	for _, s := range subs {
		byTenant[s.Tenant] = append(byTenant[s.Tenant], s)
	}

	r.mu.Lock()
	r.byTenant = byTenant
	r.mu.Unlock()

	return nil
}

// Subscribe activates tracker for tenant under the given format, enforcing
// the per-tenant subscription cap and duplicate rejection.
func (r *Registry) Subscribe(tenant string, tracker models.TrackerIdentity, trackerType models.TrackerType, actor string) (models.SubscribeResult, error) {
	r.mu.Lock()
	existing := r.byTenant[tenant]
	for _, s := range existing {
		if s.Tracker.Equal(tracker) {
			r.mu.Unlock()
			return models.SubscribeDuplicate, nil
		}
	}
	if len(existing) >= models.MaxActiveSubscriptionsPerTenant {
		r.mu.Unlock()
		return models.SubscribeMaxReached, nil
	}

	sub := models.Subscription{
		Tracker:     tracker,
		Tenant:      tenant,
		TrackerType: trackerType,
		Active:      true,
		SetupActor:  actor,
		CreatedAt:   time.Now(),
	}
	r.byTenant[tenant] = append(existing, sub)
	r.mu.Unlock()

	if err := r.db.SaveSubscription(&sub); err != nil {
		return "", err
	}

	return models.SubscribeOK, nil
}

// Unsubscribe deactivates tenant's subscription to tracker. Returns false if
// no such subscription existed.
func (r *Registry) Unsubscribe(tenant string, tracker models.TrackerIdentity) (bool, error) {
	r.mu.Lock()
	existing := r.byTenant[tenant]
	idx := -1
	for i, s := range existing {
		if s.Tracker.Equal(tracker) {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		return false, nil
	}
	removed := existing[idx]
	r.byTenant[tenant] = append(existing[:idx], existing[idx+1:]...)
	r.mu.Unlock()

	if err := r.db.DeleteSubscription(tenant, removed.Tracker.Handle); err != nil {
		return true, err
	}

	return true, nil
}

// ListActiveTrackers returns tenant's current subscriptions.
func (r *Registry) ListActiveTrackers(tenant string) []models.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byTenant[tenant]
	out := make([]models.Subscription, len(subs))
	copy(out, subs)
	return out
}

// ListTenants returns every tenant with at least one active subscription,
// used to drive scheduled per-tenant jobs such as the daily recap.
func (r *Registry) ListTenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byTenant))
	for tenant, subs := range r.byTenant {
		if len(subs) > 0 {
			out = append(out, tenant)
		}
	}
	return out
}

// GetSubscribers returns every (tenant, type) pair subscribed to tracker,
// used by the fan-in router to dispatch one inbound message to every
// interested tenant.
func (r *Registry) GetSubscribers(tracker models.TrackerIdentity) []models.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Subscription
	for _, subs := range r.byTenant {
		for _, s := range subs {
			if s.Tracker.Equal(tracker) {
				out = append(out, s)
			}
		}
	}
	return out
}

// ResolveSubscribers matches an inbound message's sender against every known
// tracker by numeric platform id, case-insensitive handle, or stringified
// id, and returns the subscriptions bound to whichever tracker matched. The
// session-to-tracker binding is established lazily here: the first message
// observed from a tracker whose subscription still lacks a platformID
// backfills it.
func (r *Registry) ResolveSubscribers(senderID int64, senderHandle string) []models.Subscription {
	r.mu.Lock()
	var matches []models.Subscription
	var toBackfill []models.Subscription
	for tenant, subs := range r.byTenant {
		for i, s := range subs {
			if !trackerMatches(s.Tracker, senderID, senderHandle) {
				continue
			}
			if s.Tracker.PlatformID == 0 && senderID != 0 {
				subs[i].Tracker.PlatformID = senderID
				toBackfill = append(toBackfill, subs[i])
			}
			matches = append(matches, subs[i])
		}
		r.byTenant[tenant] = subs
	}
	r.mu.Unlock()

	for _, s := range toBackfill {
		if err := r.db.SaveSubscription(&s); err != nil {
			r.logger.WithError(err).WithField("tracker", s.Tracker.Handle).Warn("failed to persist lazily-resolved platform id")
		}
	}

	return matches
}

func trackerMatches(t models.TrackerIdentity, senderID int64, senderHandle string) bool {
	if t.PlatformID != 0 && senderID != 0 && t.PlatformID == senderID {
		return true
	}
	if senderHandle != "" && t.NormalizedHandle() == (models.TrackerIdentity{Handle: senderHandle}).NormalizedHandle() {
		return true
	}
	if senderID != 0 && t.NormalizedHandle() == strconv.FormatInt(senderID, 10) {
		return true
	}
	return false
}

// TenantSettings returns tenant's current detection settings, loading and
// caching them from storage on first access, and defaulting otherwise.
func (r *Registry) TenantSettings(tenant string) models.TenantSettings {
	r.mu.RLock()
	s, ok := r.settings[tenant]
	r.mu.RUnlock()
	if ok {
		return s
	}

	loaded, found, err := r.db.GetTenantSettings(tenant)
	if err != nil {
		r.logger.WithError(err).WithField("tenant", tenant).Warn("failed to load tenant settings, using defaults")
	}

	var settings models.TenantSettings
	if found {
		settings = *loaded
	} else {
		settings = models.DefaultTenantSettings(tenant)
	}
	settings.Clamp()

	r.mu.Lock()
	r.settings[tenant] = settings
	r.mu.Unlock()

	return settings
}

// SetTenantSettings clamps and persists new settings for tenant, replacing
// the cached copy.
func (r *Registry) SetTenantSettings(settings models.TenantSettings) error {
	settings.Clamp()

	if err := r.db.SaveTenantSettings(&settings); err != nil {
		return err
	}

	r.mu.Lock()
	r.settings[settings.Tenant] = settings
	r.mu.Unlock()

	return nil
}
