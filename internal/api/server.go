package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/skarlow/confluence-oracle/internal/recap"
	"github.com/skarlow/confluence-oracle/internal/tracker"
	"github.com/skarlow/confluence-oracle/pkg/utils/config"
	"github.com/skarlow/confluence-oracle/pkg/utils/logger"
)

// Server is the operator HTTP surface: subscription management, tenant
// settings, and on-demand recap generation. It carries no
// detection-path state of its own — every operation reads or writes through
// tracker.Registry or internal/recap.Aggregator.
type Server struct {
	config     *config.APIConfig
	router     *mux.Router
	httpServer *http.Server
	logger     *logger.Logger

	directory *tracker.Registry
	recap     *recap.Aggregator
}

// NewServer creates a Server wired to the tenant directory and recap
// aggregator.
func NewServer(cfg *config.APIConfig, directory *tracker.Registry, recapAggregator *recap.Aggregator, logger *logger.Logger) *Server {
	router := mux.NewRouter()

	server := &Server{
		config:    cfg,
		router:    router,
		logger:    logger,
		directory: directory,
		recap:     recapAggregator,
	}

	server.initializeRoutes()

	return server
}

// initializeRoutes configure toutes les routes de l'API
func (s *Server) initializeRoutes() {
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	s.router.HandleFunc("/api/health", s.HealthCheck).Methods("GET")

	tenants := NewTenantHandler(s.directory, s.recap, s.logger)
	tenants.RegisterRoutes(s.router)

	s.router.Use(corsMiddleware.Handler)
	s.router.Use(s.loggingMiddleware)
}

// HealthCheck est un endpoint pour vérifier l'état du serveur
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware enregistre les informations sur les requêtes HTTP
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP Request",
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.UserAgent(),
				"duration_ms": time.Since(start).Milliseconds(),
			},
		)
	})
}

// Start démarre le serveur HTTP
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(s.config.WriteTimeout) * time.Second,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("Démarrage du serveur API", map[string]interface{}{
		"address": addr,
	})

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown arrête proprement le serveur HTTP
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Arrêt du serveur API")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
