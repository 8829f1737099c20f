// Command countcheck runs a counting model over images without the GUI and
// prints the counts, for tuning model parameters against known samples.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lab-counter/internal/config"
	"lab-counter/internal/counting"
	"lab-counter/internal/export"
	labimage "lab-counter/internal/image"
	"lab-counter/internal/logging"
	"lab-counter/internal/predict"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath  string
	model       string
	classes     int
	csvPath     string
	annotateDir string
	verbose     bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "countcheck [flags] image...",
		Short:        "Count objects in images with a configured model",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "settings file")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model (default from settings)")
	cmd.Flags().IntVar(&opts.classes, "classes", 0, "class count (default from settings)")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "write results and summary to this CSV file")
	cmd.Flags().StringVar(&opts.annotateDir, "annotate", "", "save annotated images to this folder")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, paths []string) error {
	settings, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.model != "" {
		settings.Model = opts.model
	}
	if opts.classes > 0 {
		settings.ClassCount = opts.classes
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(config.LoggingConfig{Level: "warn"}, opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	counter := predict.NewContourCounter(settings.Models, logger)
	fmt.Printf("Model: %s  Classes: %d\n\n", settings.Model, settings.ClassCount)

	table := export.Table{
		RunID:      uuid.NewString(),
		Page:       "countcheck",
		ExportedAt: time.Now().UTC(),
		Columns:    []string{export.ColumnItem, export.ColumnSource, counting.OutCount, counting.OutPerClass},
		Measured:   []bool{false, false, true, false},
	}

	fmt.Printf("%-4s %-40s %8s  %s\n", "#", "Image", "Count", "Per class")
	failed := 0
	for i, path := range paths {
		img, err := labimage.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		start := time.Now()
		res, err := counter.Predict(ctx, img, settings.Model, settings.ClassCount)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		logger.Debug("counted", zap.String("path", path), zap.Duration("elapsed", time.Since(start)))

		perClass := counting.FormatPerClass(res.PerClass)
		fmt.Printf("%-4d %-40s %8d  %s\n", i+1, filepath.Base(path), res.Count, perClass)
		table.Records = append(table.Records, []string{strconv.Itoa(i + 1), path, strconv.Itoa(res.Count), perClass})

		if opts.annotateDir != "" && res.Annotated != nil {
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			out := filepath.Join(opts.annotateDir, base+"-annotated.png")
			if err := labimage.SavePNG(out, res.Annotated); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", out, err)
			}
		}
	}

	for _, s := range export.Summarize(table) {
		fmt.Printf("\n%s: n=%d mean=%.2f std=%.2f min=%.0f max=%.0f\n", s.Column, s.N, s.Mean, s.StdDev, s.Min, s.Max)
	}

	if opts.csvPath != "" {
		if err := export.WriteCSVFile(opts.csvPath, table, true); err != nil {
			return err
		}
		fmt.Printf("\nWrote %d rows to %s\n", len(table.Records), opts.csvPath)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(paths))
	}
	return nil
}
