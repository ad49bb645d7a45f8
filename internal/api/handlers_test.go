package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skarlow/confluence-oracle/internal/recap"
	"github.com/skarlow/confluence-oracle/internal/tracker"
	"github.com/skarlow/confluence-oracle/pkg/models"
	"github.com/skarlow/confluence-oracle/pkg/utils/logger"
)

type fakeTrackerStore struct {
	subs     []models.Subscription
	settings map[string]models.TenantSettings
}

func newFakeTrackerStore() *fakeTrackerStore {
	return &fakeTrackerStore{settings: make(map[string]models.TenantSettings)}
}

func (f *fakeTrackerStore) GetAllSubscriptions() ([]models.Subscription, error) {
	return f.subs, nil
}

func (f *fakeTrackerStore) SaveSubscription(sub *models.Subscription) error {
	f.subs = append(f.subs, *sub)
	return nil
}

func (f *fakeTrackerStore) DeleteSubscription(tenant, trackerHandle string) error {
	for i, s := range f.subs {
		if s.Tenant == tenant && s.Tracker.Handle == trackerHandle {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeTrackerStore) GetTenantSettings(tenant string) (*models.TenantSettings, bool, error) {
	s, ok := f.settings[tenant]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (f *fakeTrackerStore) SaveTenantSettings(s *models.TenantSettings) error {
	f.settings[s.Tenant] = *s
	return nil
}

type fakeConfluenceStore struct {
	confluences []models.Confluence
}

func (f *fakeConfluenceStore) GetConfluencesSince(tenant string, since time.Time) ([]models.Confluence, error) {
	return f.confluences, nil
}

func (f *fakeConfluenceStore) GetCachedATHResult(tenant, tokenAddress string, detectionTimestamp time.Time) (*models.ATHResult, error) {
	return nil, nil
}

func (f *fakeConfluenceStore) SaveATHResult(tenant string, detectionTimestamp time.Time, result *models.ATHResult) error {
	return nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(ctx context.Context, tokenAddress string, detectionTime time.Time, initialMarketCap decimal.Decimal, endTime time.Time) (*models.ATHResult, error) {
	return &models.ATHResult{PercentageGain: decimal.NewFromInt(10)}, nil
}

func newTestHandler() *TenantHandler {
	directory := tracker.NewRegistry(newFakeTrackerStore(), logrus.New())
	aggregator := recap.NewAggregator(&fakeConfluenceStore{}, fakeAnalyzer{}, logrus.New())
	return NewTenantHandler(directory, aggregator, logger.NewLogger("error"))
}

func doRequest(h *TenantHandler, method, path string, body interface{}) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	var reader *bytes.Buffer
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewBuffer(payload)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubscribe_CreatesNewSubscription(t *testing.T) {
	h := newTestHandler()

	rec := doRequest(h, http.MethodPost, "/api/tenants/tenant-1/subscriptions", subscribeRequest{
		Handle:      "@some_tracker",
		TrackerType: models.TrackerTypeA,
		Actor:       "operator-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	subs := h.directory.ListActiveTrackers("tenant-1")
	require.Len(t, subs, 1)
	assert.Equal(t, "@some_tracker", subs[0].Tracker.Handle)
}

func TestSubscribe_DuplicateReturnsConflict(t *testing.T) {
	h := newTestHandler()

	req := subscribeRequest{Handle: "@some_tracker", TrackerType: models.TrackerTypeA}
	first := doRequest(h, http.MethodPost, "/api/tenants/tenant-1/subscriptions", req)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(h, http.MethodPost, "/api/tenants/tenant-1/subscriptions", req)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestUnsubscribe_RemovesExisting(t *testing.T) {
	h := newTestHandler()

	doRequest(h, http.MethodPost, "/api/tenants/tenant-1/subscriptions", subscribeRequest{
		Handle:      "@some_tracker",
		TrackerType: models.TrackerTypeA,
	})

	rec := doRequest(h, http.MethodDelete, "/api/tenants/tenant-1/subscriptions/@some_tracker", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, h.directory.ListActiveTrackers("tenant-1"))
}

func TestUnsubscribe_UnknownReturnsNotFound(t *testing.T) {
	h := newTestHandler()

	rec := doRequest(h, http.MethodDelete, "/api/tenants/tenant-1/subscriptions/@ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutSettings_ClampsOutOfRangeValues(t *testing.T) {
	h := newTestHandler()

	rec := doRequest(h, http.MethodPut, "/api/tenants/tenant-1/settings", models.TenantSettings{
		MinWallets:    999,
		WindowMinutes: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.TenantSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.MinWalletsCeil, got.MinWallets)
	assert.Equal(t, models.WindowMinutesFloor, got.WindowMinutes)
}

func TestGetSettings_DefaultsWhenUnset(t *testing.T) {
	h := newTestHandler()

	rec := doRequest(h, http.MethodGet, "/api/tenants/tenant-1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.TenantSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.DefaultMinWallets, got.MinWallets)
	assert.Equal(t, models.DefaultWindowMinutes, got.WindowMinutes)
}

func TestTriggerRecap_ReturnsAggregatedResult(t *testing.T) {
	h := newTestHandler()

	rec := doRequest(h, http.MethodPost, "/api/tenants/tenant-1/recap?window_hours=48", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got recap.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "tenant-1", got.Tenant)
	assert.Equal(t, 48, got.WindowHours)
}
