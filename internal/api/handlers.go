package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/skarlow/confluence-oracle/internal/recap"
	"github.com/skarlow/confluence-oracle/internal/tracker"
	"github.com/skarlow/confluence-oracle/pkg/models"
	"github.com/skarlow/confluence-oracle/pkg/utils/logger"
)

// TenantHandler gère les requêtes API relatives aux abonnements, aux
// réglages par tenant et à la génération de récapitulatifs.
type TenantHandler struct {
	directory *tracker.Registry
	recap     *recap.Aggregator
	logger    *logger.Logger
}

// NewTenantHandler crée un nouveau gestionnaire de tenants.
func NewTenantHandler(directory *tracker.Registry, recapAggregator *recap.Aggregator, logger *logger.Logger) *TenantHandler {
	return &TenantHandler{directory: directory, recap: recapAggregator, logger: logger}
}

// RegisterRoutes enregistre les routes de l'API pour les tenants.
func (h *TenantHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/tenants/{tenant}/subscriptions", h.ListSubscriptions).Methods("GET")
	router.HandleFunc("/api/tenants/{tenant}/subscriptions", h.Subscribe).Methods("POST")
	router.HandleFunc("/api/tenants/{tenant}/subscriptions/{handle}", h.Unsubscribe).Methods("DELETE")
	router.HandleFunc("/api/tenants/{tenant}/settings", h.GetSettings).Methods("GET")
	router.HandleFunc("/api/tenants/{tenant}/settings", h.PutSettings).Methods("PUT")
	router.HandleFunc("/api/tenants/{tenant}/recap", h.TriggerRecap).Methods("POST")
}

// ListSubscriptions retourne les trackers actuellement suivis par un tenant.
func (h *TenantHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	subs := h.directory.ListActiveTrackers(tenant)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant":        tenant,
		"subscriptions": subs,
		"count":         len(subs),
	})
}

type subscribeRequest struct {
	Handle      string             `json:"handle"`
	PlatformID  int64              `json:"platform_id"`
	TrackerType models.TrackerType `json:"tracker_type"`
	Actor       string             `json:"actor"`
}

// Subscribe active le suivi d'un tracker pour un tenant, sous réserve du
// plafond d'abonnements et du rejet des doublons.
func (h *TenantHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Handle == "" {
		http.Error(w, "handle is required", http.StatusBadRequest)
		return
	}

	result, err := h.directory.Subscribe(tenant, models.TrackerIdentity{
		Handle:     req.Handle,
		PlatformID: req.PlatformID,
	}, req.TrackerType, req.Actor)
	if err != nil {
		h.logger.Error("échec de l'abonnement", err, map[string]interface{}{
			"tenant": tenant,
			"handle": req.Handle,
		})
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if result == models.SubscribeMaxReached || result == models.SubscribeDuplicate {
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]interface{}{
		"tenant": tenant,
		"handle": req.Handle,
		"result": result,
	})
}

// Unsubscribe désactive l'abonnement d'un tenant à un tracker.
func (h *TenantHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenant := vars["tenant"]
	handle := vars["handle"]

	removed, err := h.directory.Unsubscribe(tenant, models.TrackerIdentity{Handle: handle})
	if err != nil {
		h.logger.Error("échec du désabonnement", err, map[string]interface{}{
			"tenant": tenant,
			"handle": handle,
		})
		http.Error(w, "failed to unsubscribe", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "no such subscription", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant":  tenant,
		"handle":  handle,
		"removed": true,
	})
}

// GetSettings retourne les réglages de détection courants d'un tenant.
func (h *TenantHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	settings := h.directory.TenantSettings(tenant)

	writeJSON(w, http.StatusOK, settings)
}

// PutSettings ajuste les réglages de détection d'un tenant, dans les bornes
// autorisées (min_wallets [2,10], window_minutes [60,2880]).
func (h *TenantHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	var settings models.TenantSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	settings.Tenant = tenant

	if err := h.directory.SetTenantSettings(settings); err != nil {
		h.logger.Error("échec de la mise à jour des réglages", err, map[string]interface{}{
			"tenant": tenant,
		})
		http.Error(w, "failed to update settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, h.directory.TenantSettings(tenant))
}

// TriggerRecap génère un récapitulatif de performance sur la fenêtre
// demandée, en heures via ?window_hours=.
func (h *TenantHandler) TriggerRecap(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	windowHours := 24
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			windowHours = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := h.recap.Generate(ctx, tenant, windowHours)
	if err != nil {
		h.logger.Error("échec de la génération du récapitulatif", err, map[string]interface{}{
			"tenant":       tenant,
			"window_hours": windowHours,
		})
		http.Error(w, "failed to generate recap", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
