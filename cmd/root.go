// Package cmd builds the pipeline operator CLI: a cobra root command
// wiring the shared store, upstream client, classifier, and metrics
// registry into one App that every subcommand's RunE closes over.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stokedbloke/gigglepipe/internal/classifier"
	"github.com/stokedbloke/gigglepipe/internal/conf"
	"github.com/stokedbloke/gigglepipe/internal/datastore"
	"github.com/stokedbloke/gigglepipe/internal/fleet"
	"github.com/stokedbloke/gigglepipe/internal/logging"
	"github.com/stokedbloke/gigglepipe/internal/metrics"
	"github.com/stokedbloke/gigglepipe/internal/pipeline"
	"github.com/stokedbloke/gigglepipe/internal/upstream"
)

// App holds the collaborators every subcommand shares: one store
// connection, one upstream client, one lazily-loaded classifier, one
// metrics registry. It starts empty and is filled by initApp in
// RootCommand's PersistentPreRunE, after flags have overridden
// settings, so a subcommand never opens its own store or client.
type App struct {
	Settings *conf.Settings
	Store    datastore.Interface
	Fleet    *fleet.Orchestrator
}

// RootCommand builds the CLI's root command and registers its six
// subcommands against a shared App.
func RootCommand(settings *conf.Settings) *cobra.Command {
	app := &App{Settings: settings}

	rootCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Laughter-detection pipeline operator CLI",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(2)
	}

	rootCmd.AddCommand(
		nightlyCommand(app),
		updateTodayCommand(app),
		reprocessCommand(app),
		reconcileCommand(app),
		verifyIntegrityCommand(app),
		migratePathsCommand(app),
	)

	rootCmd.SilenceUsage = true
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initApp(app)
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return closeApp(app)
	}

	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&settings.VerboseLogs, "verbose", settings.VerboseLogs, "Enable trace-level logging")
	rootCmd.PersistentFlags().StringVar(&settings.Database.URL, "db-url", settings.Database.URL, "Database DSN (sqlite path or mysql DSN)")
	rootCmd.PersistentFlags().StringVar(&settings.Storage.UploadDir, "upload-dir", settings.Storage.UploadDir, "Root of uploads/audio and uploads/clips")
	rootCmd.PersistentFlags().StringVar(&settings.Detection.ModelPath, "model-path", settings.Detection.ModelPath, "Path to the .tflite classifier model")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// initApp opens the store, runs migrations, and wires the pipeline
// runner and fleet orchestrator that every subcommand uses. Any error
// here is a fatal config/credential failure (exit code 2 per §6); the
// process never reaches a subcommand's RunE with a half-built App.
func initApp(app *App) error {
	if err := logging.Init(logging.Options{Verbose: app.Settings.VerboseLogs}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	uploadDir, err := filepath.Abs(app.Settings.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("resolve upload dir: %w", err)
	}
	app.Settings.Storage.UploadDir = uploadDir

	store := datastore.New(app.Settings.Database.URL)
	if err := store.Open(); err != nil {
		return err
	}
	if err := store.Migrate(); err != nil {
		return err
	}
	app.Store = store

	reg := prometheus.NewRegistry()
	metricsPipeline, err := metrics.NewPipeline(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	upstreamClient := upstream.New(app.Settings.Upstream.BaseURL, app.Settings.Upstream.Timeout)
	clf := classifier.New(app.Settings.Detection.ModelPath)

	runner, err := pipeline.New(store, upstreamClient, clf, app.Settings, metricsPipeline)
	if err != nil {
		return err
	}

	app.Fleet = fleet.New(store, runner, upstreamClient)
	app.Fleet.Metrics = metricsPipeline
	return nil
}

func closeApp(app *App) error {
	s, ok := app.Store.(*datastore.Store)
	if !ok || s == nil {
		return nil
	}
	return s.Close()
}
