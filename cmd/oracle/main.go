package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/cmd/oracle/startup"
	"github.com/skarlow/confluence-oracle/pkg/utils/config"
	"github.com/skarlow/confluence-oracle/pkg/utils/logger"
)

func main() {
	// Initialiser la configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Échec du chargement de la configuration: %v", err)
	}

	// Initialiser les loggers: zap pour la couche API/stockage, logrus pour
	// le pipeline de détection.
	zapLogger := logger.NewLogger(cfg.LogLevel)
	appLogger := newLogrusLogger(cfg.LogLevel)
	zapLogger.Info("🔮 Confluence Oracle démarré")

	app, err := startup.InitializeApplication(cfg, appLogger, zapLogger)
	if err != nil {
		zapLogger.Fatal("échec de l'initialisation de l'application", err)
	}

	if err := app.Start(); err != nil {
		zapLogger.Fatal("échec du démarrage de l'application", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	zapLogger.Info(fmt.Sprintf("signal d'arrêt reçu: %s", sig.String()))

	if err := app.Stop(); err != nil {
		zapLogger.Error("problèmes lors de l'arrêt de l'application", err)
		os.Exit(1)
	}

	zapLogger.Info("application arrêtée avec succès")
}

func newLogrusLogger(level string) *logrus.Logger {
	l := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}
