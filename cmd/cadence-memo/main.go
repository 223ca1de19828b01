package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/config"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/database"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/devserver"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/external"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/logging"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/reconcile"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/remote"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/store"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/syncer"
	"github.com/MarcoPoloResearchLab/cadence/engine/internal/transcribe"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cadence-memo",
		Short: "Voice memo reconciliation and sync engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newTranscribeCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address for the dev durable-store server")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Durable store base URL")
	cmd.PersistentFlags().String("remote-api-token", "", "Durable store API token (overrides env)")
	cmd.PersistentFlags().String("transcribe-base-url", defaults.GetString("transcribe.base_url"), "Speech-to-text provider URL")
	cmd.PersistentFlags().String("transcribe-api-key", "", "Speech-to-text API key (overrides env)")
	cmd.PersistentFlags().String("library-path", "", "External media library directory")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.api_token", "remote-api-token")
	bindFlag(cmd, "transcribe.base_url", "transcribe-base-url")
	bindFlag(cmd, "transcribe.api_key", "transcribe-api-key")
	bindFlag(cmd, "external.library_path", "library-path")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dev durable-store server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <date>",
		Short: "Print the merged memo list for a calendar date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), args[0])
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <date>",
		Short: "Upload a date's local-only memos to the durable store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), args[0])
		},
	}
}

func newTranscribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <date>",
		Short: "Transcribe a date's untranscribed local memos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd.Context(), args[0])
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	handler, err := devserver.NewHTTPHandler(devserver.Dependencies{
		Database: db,
		APIToken: appConfig.RemoteAPIToken,
		IDs:      memo.NewUUIDProvider(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dev durable-store server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// engineDeps bundles the shared wiring of the read-side commands.
type engineDeps struct {
	config  config.AppConfig
	logger  *zap.Logger
	store   *store.Service
	closeDB func() error
}

func buildEngine() (*engineDeps, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	storeService, err := store.NewService(store.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, err
	}

	return &engineDeps{
		config:  appConfig,
		logger:  logger,
		store:   storeService,
		closeDB: sqlDB.Close,
	}, nil
}

func (d *engineDeps) externalSource() external.Source {
	libraryPath := viper.GetString("external.library_path")
	if libraryPath == "" {
		return external.UnavailableSource{}
	}
	source, err := external.NewLibrarySource(external.LibrarySourceConfig{Dir: libraryPath, Logger: d.logger})
	if err != nil {
		d.logger.Warn("external library unusable", zap.Error(err))
		return external.UnavailableSource{}
	}
	return source
}

// mergedForDay assembles the three sources for one date. A failing remote or
// external source degrades to its absent shape instead of aborting.
func (d *engineDeps) mergedForDay(ctx context.Context, day memo.Day) ([]memo.MergedMemo, error) {
	local, err := d.store.ListByDate(ctx, day)
	if err != nil {
		return nil, err
	}

	var remoteRecords []memo.RemoteMemoRecord
	if d.config.RemoteBaseURL != "" {
		client, err := remote.NewClient(remote.ClientConfig{
			BaseURL:  d.config.RemoteBaseURL,
			APIToken: d.config.RemoteAPIToken,
			Logger:   d.logger,
		})
		if err != nil {
			return nil, err
		}
		remoteRecords, err = client.QueryByDate(ctx, day)
		if err != nil {
			d.logger.Warn("durable store unreachable, showing local view", zap.Error(err))
			remoteRecords = nil
		}
	}

	externalRecords, err := d.externalSource().ListAllRecordings(ctx)
	if err != nil {
		if !errors.Is(err, external.ErrUnavailable) {
			d.logger.Warn("external library listing failed", zap.Error(err))
		}
		externalRecords = nil
	}

	return reconcile.Merge(local, remoteRecords, externalRecords), nil
}

func runList(ctx context.Context, rawDay string) error {
	day, err := memo.NewDay(rawDay)
	if err != nil {
		return err
	}

	deps, err := buildEngine()
	if err != nil {
		return err
	}
	defer deps.closeDB() //nolint:errcheck

	merged, err := deps.mergedForDay(ctx, day)
	if err != nil {
		return err
	}

	for _, entry := range merged {
		transcript := "-"
		if entry.TranscriptText != nil {
			transcript = "transcribed"
		}
		fmt.Printf("%-40s %-8s %7.1fs  %s  %s\n",
			entry.ID, entry.SyncStatus, entry.DurationSeconds,
			time.UnixMilli(entry.CreatedAtEpochMs).UTC().Format(time.RFC3339), transcript)
	}
	return nil
}

func runSync(ctx context.Context, rawDay string) error {
	day, err := memo.NewDay(rawDay)
	if err != nil {
		return err
	}

	deps, err := buildEngine()
	if err != nil {
		return err
	}
	defer deps.closeDB() //nolint:errcheck

	if deps.config.RemoteBaseURL == "" {
		return errors.New("remote.base_url is required for sync")
	}
	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL:  deps.config.RemoteBaseURL,
		APIToken: deps.config.RemoteAPIToken,
		Logger:   deps.logger,
	})
	if err != nil {
		return err
	}

	coordinator, err := syncer.NewCoordinator(syncer.CoordinatorConfig{
		Store:   deps.store,
		Durable: client,
		Logger:  deps.logger,
	})
	if err != nil {
		return err
	}

	records, err := deps.store.ListByDate(ctx, day)
	if err != nil {
		return err
	}

	progress := coordinator.SyncAll(ctx, records)
	coordinator.WaitBackground()

	fmt.Printf("synced %d, skipped %d, failed %d of %d\n",
		progress.Completed, progress.Skipped, len(progress.Failed), progress.Total)
	for _, id := range progress.Failed {
		fmt.Printf("  failed: %s\n", id)
	}
	return nil
}

func runTranscribe(ctx context.Context, rawDay string) error {
	day, err := memo.NewDay(rawDay)
	if err != nil {
		return err
	}

	deps, err := buildEngine()
	if err != nil {
		return err
	}
	defer deps.closeDB() //nolint:errcheck

	client, err := transcribe.NewClient(transcribe.ClientConfig{
		BaseURL: deps.config.TranscribeURL,
		APIKey:  deps.config.TranscribeAPIKey,
		Logger:  deps.logger,
	})
	if err != nil {
		return err
	}
	coordinator, err := transcribe.NewCoordinator(transcribe.CoordinatorConfig{
		Store:  deps.store,
		Client: client,
		Logger: deps.logger,
	})
	if err != nil {
		return err
	}

	merged, err := deps.mergedForDay(ctx, day)
	if err != nil {
		return err
	}

	progress := coordinator.TranscribeAll(ctx, merged)
	fmt.Printf("transcribed %d, skipped %d, failed %d of %d\n",
		progress.Completed, progress.Skipped, len(progress.Failed), progress.Total)
	for _, id := range progress.Failed {
		fmt.Printf("  failed: %s\n", id)
	}
	return nil
}
