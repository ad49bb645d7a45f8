// Command oracle-cli is the operator surface for the confluence oracle:
// subscribe/unsubscribe trackers, read or adjust tenant detection settings,
// and trigger an on-demand recap — every operation the HTTP API also
// exposes, against the same tracker.Registry/recap.Aggregator seams (spec
// §6). Exit code 0 on success, 1 on any startup or command failure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skarlow/confluence-oracle/internal/ath"
	"github.com/skarlow/confluence-oracle/internal/priceapi"
	"github.com/skarlow/confluence-oracle/internal/recap"
	"github.com/skarlow/confluence-oracle/internal/storage/db"
	"github.com/skarlow/confluence-oracle/internal/tracker"
	"github.com/skarlow/confluence-oracle/pkg/models"
	"github.com/skarlow/confluence-oracle/pkg/utils/config"
	applogger "github.com/skarlow/confluence-oracle/pkg/utils/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oracle-cli",
		Short:         "Operator CLI for the confluence oracle",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newSubscribeCmd())
	root.AddCommand(newUnsubscribeCmd())
	root.AddCommand(newSettingsCmd())
	root.AddCommand(newRecapCmd())

	return root
}

// openRegistry connects to storage and loads the subscription directory
// synchronously, for the lifetime of a single CLI invocation.
func openRegistry(ctx context.Context) (*tracker.Registry, *db.Connection, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	zapLogger := applogger.NewLogger(cfg.LogLevel)
	database, err := db.NewConnection(cfg.Database, zapLogger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := tracker.NewRegistry(database, logger)
	if err := registry.Start(ctx); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to load subscription directory: %w", err)
	}

	return registry, database, logger, nil
}

func closeRegistry(registry *tracker.Registry, database *db.Connection) {
	registry.Stop()
	database.Close()
}

func newSubscribeCmd() *cobra.Command {
	var (
		tenant      string
		handle      string
		platformID  int64
		trackerType string
		actor       string
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe a tenant to an upstream tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry, database, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry(registry, database)

			result, err := registry.Subscribe(tenant, models.TrackerIdentity{
				Handle:     handle,
				PlatformID: platformID,
			}, models.TrackerType(trackerType), actor)
			if err != nil {
				return fmt.Errorf("subscribe failed: %w", err)
			}

			fmt.Println(result)
			if result != models.SubscribeOK {
				return fmt.Errorf("subscribe rejected: %s", result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant identifier (required)")
	cmd.Flags().StringVar(&handle, "handle", "", "tracker handle (required)")
	cmd.Flags().Int64Var(&platformID, "platform-id", 0, "tracker numeric platform id, if known")
	cmd.Flags().StringVar(&trackerType, "type", string(models.TrackerTypeA), "tracker format type (A, B, C)")
	cmd.Flags().StringVar(&actor, "actor", "cli", "operator identifier performing this change")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("handle")

	return cmd
}

func newUnsubscribeCmd() *cobra.Command {
	var tenant, handle string

	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Unsubscribe a tenant from an upstream tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry, database, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry(registry, database)

			removed, err := registry.Unsubscribe(tenant, models.TrackerIdentity{Handle: handle})
			if err != nil {
				return fmt.Errorf("unsubscribe failed: %w", err)
			}
			if !removed {
				return fmt.Errorf("no such subscription: tenant=%s handle=%s", tenant, handle)
			}

			fmt.Println("unsubscribed")
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant identifier (required)")
	cmd.Flags().StringVar(&handle, "handle", "", "tracker handle (required)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("handle")

	return cmd
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or adjust a tenant's detection settings",
	}

	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())

	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a tenant's current detection settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry, database, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry(registry, database)

			return printJSON(registry.TenantSettings(tenant))
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant identifier (required)")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	var (
		tenant        string
		minWallets    int
		windowMinutes int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Adjust a tenant's min-wallets / window-minutes, clamped to the allowed range",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry, database, _, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry(registry, database)

			settings := models.TenantSettings{
				Tenant:        tenant,
				MinWallets:    minWallets,
				WindowMinutes: windowMinutes,
			}
			if err := registry.SetTenantSettings(settings); err != nil {
				return fmt.Errorf("failed to update settings: %w", err)
			}

			return printJSON(registry.TenantSettings(tenant))
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant identifier (required)")
	cmd.Flags().IntVar(&minWallets, "min-wallets", models.DefaultMinWallets, "minimum distinct wallets to trigger a confluence")
	cmd.Flags().IntVar(&windowMinutes, "window-minutes", models.DefaultWindowMinutes, "sliding detection window, in minutes")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func newRecapCmd() *cobra.Command {
	var (
		tenant      string
		windowHours int
	)

	cmd := &cobra.Command{
		Use:   "recap",
		Short: "Generate a performance recap for a tenant over a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger := logrus.New()
			logger.SetLevel(logrus.WarnLevel)

			zapLogger := applogger.NewLogger(cfg.LogLevel)
			database, err := db.NewConnection(cfg.Database, zapLogger)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			priceClient := priceapi.NewClient(priceapi.Config{
				BaseURL:        cfg.PriceAPI.BaseURL,
				APIKey:         cfg.PriceAPI.APIKey,
				RequestTimeout: time.Duration(cfg.PriceAPI.RequestTimeout) * time.Second,
			}, logger)
			analyzer := ath.NewAnalyzer(priceClient, logger)
			aggregator := recap.NewAggregator(database, analyzer, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			result, err := aggregator.Generate(ctx, tenant, windowHours)
			if err != nil {
				return fmt.Errorf("recap generation failed: %w", err)
			}

			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant identifier (required)")
	cmd.Flags().IntVar(&windowHours, "window-hours", 24, "recap window, in hours (clamped to [1,168])")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
