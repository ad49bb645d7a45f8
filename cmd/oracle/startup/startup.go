// Package startup wires every component of the confluence-detection
// pipeline together: upstream sessions, the fan-in router, per-tenant
// queues, the confluence detector, ATH analysis, recap aggregation, outbound
// alerting, and the operator HTTP surface.
package startup

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/internal/alerting"
	"github.com/skarlow/confluence-oracle/internal/api"
	"github.com/skarlow/confluence-oracle/internal/ath"
	"github.com/skarlow/confluence-oracle/internal/confluence"
	"github.com/skarlow/confluence-oracle/internal/fanin"
	"github.com/skarlow/confluence-oracle/internal/parser"
	"github.com/skarlow/confluence-oracle/internal/pipeline"
	"github.com/skarlow/confluence-oracle/internal/priceapi"
	"github.com/skarlow/confluence-oracle/internal/queue"
	"github.com/skarlow/confluence-oracle/internal/recap"
	"github.com/skarlow/confluence-oracle/internal/storage/cache"
	"github.com/skarlow/confluence-oracle/internal/storage/db"
	"github.com/skarlow/confluence-oracle/internal/tracker"
	"github.com/skarlow/confluence-oracle/internal/trust"
	"github.com/skarlow/confluence-oracle/pkg/utils/config"
	applogger "github.com/skarlow/confluence-oracle/pkg/utils/logger"
)

// sweepSchedule evicts stale sliding-window buckets every ten minutes,
// independent of ingestion volume. dailyRecapSchedule generates a recap for
// every subscribed tenant once a day, at 00:05 server time.
const (
	sweepSchedule      = "@every 10m"
	dailyRecapSchedule = "5 0 * * *"
	dailyRecapWindow   = 24
)

// Application owns every long-lived component and their start/stop order.
type Application struct {
	cfg    *config.Config
	logger *logrus.Logger

	database *db.Connection
	redis    *cache.Redis
	cacheCli *cache.Client

	directory   *tracker.Registry
	parsers     *parser.Registry
	queue       *queue.Engine
	confluence  *confluence.Engine
	router      *fanin.Router
	sessions    *fanin.SessionManager
	buffer      *pipeline.InboundBuffer
	trustLedger *trust.Ledger
	priceClient priceapi.Client
	analyzer    *ath.Analyzer
	recap       *recap.Aggregator
	apiServer   *api.Server
	scheduler   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// InitializeApplication constructs every component and wires their
// dependencies, but starts nothing yet.
func InitializeApplication(cfg *config.Config, logger *logrus.Logger, zapLogger *applogger.Logger) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	database, err := db.NewConnection(cfg.Database, zapLogger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("échec de la connexion à la base de données: %w", err)
	}

	redisConn, err := cache.NewRedisConnection(cfg.Redis, logger)
	if err != nil {
		cancel()
		database.Close()
		return nil, fmt.Errorf("échec de la connexion à Redis: %w", err)
	}

	cacheCli, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("confluence dedup cache unavailable, falling back to durable-store-only dedup")
	}

	directory := tracker.NewRegistry(database, logger)
	parsers := parser.NewRegistry(logger)
	trustLedger := trust.NewLedger(database, logger)

	var dedup confluence.DedupCache
	if cacheCli != nil {
		dedup = cacheCli
	}
	confluenceEngine := confluence.NewEngine(database, directory, trustLedger, dedup, logger)

	priceClient := priceapi.NewClient(priceapi.Config{
		BaseURL:        cfg.PriceAPI.BaseURL,
		APIKey:         cfg.PriceAPI.APIKey,
		RequestTimeout: time.Duration(cfg.PriceAPI.RequestTimeout) * time.Second,
	}, logger)
	analyzer := ath.NewAnalyzer(priceClient, logger)
	recapAggregator := recap.NewAggregator(database, analyzer, logger)

	sink, err := buildAlertSink(cfg.Alerting, logger)
	if err != nil {
		cancel()
		database.Close()
		return nil, fmt.Errorf("échec de l'initialisation du sink d'alertes: %w", err)
	}
	alertFn := alerting.NewAlertFunc(sink)

	queueEngine := queue.NewEngine(confluenceEngine, database, queue.AlertFunc(alertFn), logger)

	router := fanin.NewRouter(directory, parsers, queueEngine, logger, 0)

	buffer := pipeline.NewInboundBuffer(redisConn, logger)

	sessionConfigs := make([]fanin.SessionConfig, 0, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		sessionConfigs = append(sessionConfigs, fanin.SessionConfig{
			ID:      s.ID,
			AppID:   s.AppID,
			AppHash: s.AppHash,
			Phone:   s.Phone,
		})
	}
	sessions := fanin.NewSessionManager(sessionConfigs, router, buffer, logger)

	apiServer := api.NewServer(cfg.API, directory, recapAggregator, zapLogger)

	scheduler := cron.New()

	return &Application{
		cfg:         cfg,
		logger:      logger,
		database:    database,
		redis:       redisConn,
		cacheCli:    cacheCli,
		directory:   directory,
		parsers:     parsers,
		queue:       queueEngine,
		confluence:  confluenceEngine,
		router:      router,
		sessions:    sessions,
		buffer:      buffer,
		trustLedger: trustLedger,
		priceClient: priceClient,
		analyzer:    analyzer,
		recap:       recapAggregator,
		apiServer:   apiServer,
		scheduler:   scheduler,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// buildAlertSink constructs the Telegram sink when a bot token is
// configured, falling back to an in-process memory sink otherwise (e.g. for
// a deployment that hasn't provisioned a bot yet).
func buildAlertSink(cfg *config.AlertingConfig, logger *logrus.Logger) (alerting.Sink, error) {
	if cfg == nil || cfg.BotToken == "" {
		logger.Warn("no alerting bot token configured, using in-process memory sink")
		return alerting.NewMemorySink(), nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("échec de l'initialisation du bot Telegram: %w", err)
	}

	resolver := alerting.NewStaticChatResolver(cfg.ChatMappings)
	return alerting.NewTelegramSink(bot, resolver, logger), nil
}

// Start launches every long-lived component.
func (app *Application) Start() error {
	if err := app.directory.Start(app.ctx); err != nil {
		return fmt.Errorf("échec du démarrage de l'annuaire de souscriptions: %w", err)
	}

	if err := app.trustLedger.Start(app.ctx); err != nil {
		return fmt.Errorf("échec du démarrage du registre de confiance: %w", err)
	}

	if err := app.buffer.Start(app.router); err != nil {
		return fmt.Errorf("échec du démarrage du tampon entrant: %w", err)
	}

	if err := app.sessions.Start(app.ctx); err != nil {
		return fmt.Errorf("échec du démarrage des sessions amont: %w", err)
	}

	if err := app.queue.Start(app.ctx); err != nil {
		return fmt.Errorf("échec du démarrage de la file d'attente: %w", err)
	}

	if _, err := app.scheduler.AddFunc(sweepSchedule, app.confluence.Sweep); err != nil {
		return fmt.Errorf("échec de la planification du balayage des fenêtres de confluence: %w", err)
	}
	if _, err := app.scheduler.AddFunc(dailyRecapSchedule, app.runDailyRecaps); err != nil {
		return fmt.Errorf("échec de la planification des récapitulatifs quotidiens: %w", err)
	}
	app.scheduler.Start()

	go func() {
		if err := app.apiServer.Start(); err != nil {
			app.logger.WithError(err).Error("erreur du serveur API")
			app.cancel()
		}
	}()

	app.logger.Info("tous les composants ont démarré avec succès")
	return nil
}

// runDailyRecaps generates and logs a recap for every tenant with an active
// subscription. A per-tenant failure is logged and does not block the rest.
func (app *Application) runDailyRecaps() {
	for _, tenant := range app.directory.ListTenants() {
		ctx, cancel := context.WithTimeout(app.ctx, 5*time.Minute)
		result, err := app.recap.Generate(ctx, tenant, dailyRecapWindow)
		cancel()
		if err != nil {
			app.logger.WithError(err).WithField("tenant", tenant).Warn("daily recap generation failed")
			continue
		}
		app.logger.WithField("tenant", tenant).WithField("tokens_analyzed", result.TokensAnalyzed).Info("daily recap generated")
	}
}

// Stop shuts down every component in reverse order.
func (app *Application) Stop() error {
	app.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-app.scheduler.Stop().Done()

	if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("erreur lors de l'arrêt du serveur API")
	}

	app.queue.Stop()
	app.sessions.Stop()
	app.buffer.Stop()
	app.trustLedger.Stop()
	app.directory.Stop()

	if app.redis != nil {
		app.redis.Close()
	}
	app.database.Close()

	return nil
}
