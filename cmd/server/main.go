package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/config"
	"github.com/mirra-dev/mirra/internal/models"
	"github.com/mirra-dev/mirra/internal/server"
	"github.com/mirra-dev/mirra/internal/service"
	"github.com/mirra-dev/mirra/internal/service/store"
	"github.com/mirra-dev/mirra/pkg/logger"
	"github.com/mirra-dev/mirra/pkg/util"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mirra",
	Short: "Mirra - Multi-host clip mirroring and catalog tool",
	Long:  `Mirra uploads preview clips to multiple video hosting providers concurrently and keeps the outcome in a durable local catalog.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Mirra %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rewrite legacy hosting shapes in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, _, appLogger, err := openStores()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		migrated, err := catalog.MigrateSchema()
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Printf("Migrated %d record(s)\n", migrated)
		return nil
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Collapse duplicate codes in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, _, appLogger, err := openStores()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		dups := catalog.FindDuplicates()
		for code, n := range dups {
			fmt.Printf("%s appears %d times\n", code, n)
		}
		removed, err := catalog.Dedup()
		if err != nil {
			return fmt.Errorf("dedup failed: %w", err)
		}
		fmt.Printf("Removed %d duplicate record(s)\n", removed)
		return nil
	},
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Print and reconcile the failure quarantine",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, quarantine, appLogger, err := openStores()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		released, err := quarantine.Reconcile(catalog)
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}
		for _, code := range released {
			fmt.Printf("released: %s\n", code)
		}
		for _, entry := range quarantine.Entries() {
			fmt.Printf("%s  retries=%d  last_error=%q  last_attempt=%s\n",
				entry.Code, entry.RetryCount, entry.LastError,
				entry.LastAttemptAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d code(s) still quarantined\n", quarantine.Len())
		return nil
	},
}

var purgeYes bool

var purgeBackupsCmd = &cobra.Command{
	Use:   "purge-backups",
	Short: "Delete all timestamped catalog backups (destructive)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		appLogger, err := logger.NewLogger(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer appLogger.Sync()

		backups := store.NewBackupManager(appLogger, cfg.Store.CatalogPath)
		removed, err := backups.PurgeAll(purgeYes)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d backup(s)\n", removed)
		return nil
	},
}

var (
	publishAsset     string
	publishCode      string
	publishTitle     string
	publishTags      string
	publishProviders []string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one clip to the configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		appLogger, err := logger.NewLogger(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer appLogger.Sync()

		backups := store.NewBackupManager(appLogger, cfg.Store.CatalogPath)
		catalog, err := store.New(appLogger, cfg.Store.CatalogPath, backups)
		if err != nil {
			return err
		}
		quarantine, err := store.NewQuarantine(appLogger, cfg.Store.QuarantinePath)
		if err != nil {
			return err
		}

		title := publishTitle
		if title == "" {
			title = util.TitleFromFilename(publishAsset)
		}

		publishing := service.NewPublishService(cfg, catalog, quarantine, appLogger)
		outcome, err := publishing.Publish(cmd.Context(), &models.PublishJob{
			AssetPath: publishAsset,
			Code:      publishCode,
			Title:     title,
			Tags:      util.ParseTags(publishTags),
			Providers: publishProviders,
		})
		if err != nil {
			return err
		}

		for provider, res := range outcome.Results {
			if res.Success {
				fmt.Printf("%s: ok (%s)\n", provider, res.Entry.WatchURL)
			} else {
				fmt.Printf("%s: %s: %s\n", provider, res.ErrorKind, res.ErrorMessage)
			}
		}
		fmt.Printf("%d/%d provider(s) succeeded\n", outcome.SuccessCount, len(outcome.Results))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")

	purgeBackupsCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm destructive purge")

	publishCmd.Flags().StringVar(&publishAsset, "asset", "", "path to the preview clip")
	publishCmd.Flags().StringVar(&publishCode, "code", "", "canonical content code")
	publishCmd.Flags().StringVar(&publishTitle, "title", "", "clip title (default: derived from asset filename)")
	publishCmd.Flags().StringVar(&publishTags, "tags", "", "comma-separated tags")
	publishCmd.Flags().StringSliceVar(&publishProviders, "providers", nil, "target providers (default: all configured)")
	_ = publishCmd.MarkFlagRequired("asset")
	_ = publishCmd.MarkFlagRequired("code")

	rootCmd.AddCommand(versionCmd, migrateCmd, dedupCmd, quarantineCmd, purgeBackupsCmd, publishCmd)
}

// openStores loads the config and both stores for maintenance commands.
func openStores() (*store.Store, *store.Quarantine, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	backups := store.NewBackupManager(appLogger, cfg.Store.CatalogPath)
	catalog, err := store.New(appLogger, cfg.Store.CatalogPath, backups)
	if err != nil {
		return nil, nil, appLogger, err
	}
	quarantine, err := store.NewQuarantine(appLogger, cfg.Store.QuarantinePath)
	if err != nil {
		return nil, nil, appLogger, err
	}
	return catalog, quarantine, appLogger, nil
}

func runServer(*cobra.Command, []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Mirra server", zap.String("version", version))

	// Create server
	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	// Graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
