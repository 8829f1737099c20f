// Package main provides the entry point for the Lab Counter application.
package main

import (
	"context"
	"fmt"
	"os"

	"lab-counter/internal/app"
	"lab-counter/internal/command"
	"lab-counter/internal/config"
	"lab-counter/internal/counting"
	"lab-counter/internal/logging"
	"lab-counter/internal/ocr"
	"lab-counter/internal/predict"
	"lab-counter/internal/uiloop"
	"lab-counter/internal/version"
	"lab-counter/ui/mainwindow"
	"lab-counter/ui/prefs"

	fyneapp "fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appID = "org.lab.counter"

var (
	configPath string
	verbose    bool
	watchDir   string
	watchPage  string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lab-counter",
		Short:         "Count eggs and oyster larvae in microscope images",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runGUI,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "settings file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().StringVar(&watchDir, "watch", "", "add images that appear in this folder")
	cmd.Flags().StringVar(&watchPage, "watch-page", "", "page fed by --watch (default from settings)")
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "lab-counter", version.String())
		},
	}
}

func runGUI(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("settings %s: %w", configPath, err)
	}

	logger, err := logging.New(settings.Logging, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version.Version),
		zap.String("config", configPath),
		zap.String("model", settings.Model))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	loop := uiloop.New(logger)
	deps := counting.Deps{
		Settings:  settings,
		Predictor: predict.NewContourCounter(settings.Models, logger),
		Runner:    command.NewRunner(loop, logger),
		Dispatch:  loop,
		Bus:       app.NewBus(),
		Logger:    logger,
	}
	// Label reading is optional; the pages report it as unavailable.
	if reader, err := ocr.NewLabelReader(settings.OCR.Language); err != nil {
		logger.Warn("label reading disabled", zap.Error(err))
	} else {
		defer reader.Close()
		deps.Reader = reader
	}

	fyneApp := fyneapp.NewWithID(appID)
	fyneApp.Settings().SetTheme(&app.LabTheme{})

	win, err := mainwindow.New(ctx, fyneApp, deps, configPath, prefs.Load(config.Dir()))
	if err != nil {
		return err
	}

	dir, page := watchDir, watchPage
	if dir == "" && settings.Watch.Enabled {
		dir = settings.Watch.Dir
	}
	if page == "" {
		page = settings.Watch.Page
	}
	if dir != "" {
		if err := win.StartWatch(dir, page); err != nil {
			logger.Warn("folder watch not started", zap.String("dir", dir), zap.Error(err))
		}
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	win.ShowAndRun()

	cancel()
	loop.Close()
	if err := <-loopDone; err != nil && ctx.Err() == nil {
		logger.Error("ui loop stopped", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}
