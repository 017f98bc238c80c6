package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
	"github.com/comicpulse/priceintel/internal/normalize"
)

var (
	normalizeFile       string
	normalizeSource     string
	normalizeOutput     string
	normalizeGradeCurve string
	normalizeCondTable  string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize a listing dump into per-issue market values",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if normalizeGradeCurve != "" {
			curve, err := config.LoadGradeCurveFile(normalizeGradeCurve)
			if err != nil {
				return err
			}
			cfg.Normalize.GradeCurve = curve
		}
		if normalizeCondTable != "" {
			multipliers, err := config.LoadConditionMultipliersFile(normalizeCondTable)
			if err != nil {
				return err
			}
			cfg.Normalize.ConditionMultipliers = multipliers
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		svc := newClassifier(ctx, st)
		engine := normalize.NewEngine(cfg.Normalize, cfg.Confidence, cfg.Classify, svc)

		records, report, err := readDump(ctx, normalizeFile, normalizeSource)
		if err != nil {
			return err
		}
		zap.L().Info("dump decoded",
			zap.String("file", normalizeFile),
			zap.Int("rows", report.Rows),
			zap.Int("decoded", report.Decoded),
			zap.Int("skipped", report.Skipped),
		)

		run, err := st.CreateRun(ctx, normalizeSource)
		if err != nil {
			return err
		}

		result, err := engine.Normalize(ctx, records)
		if err != nil {
			if failErr := st.FailRun(ctx, run.ID, err); failErr != nil {
				zap.L().Error("record run failure", zap.Error(failErr))
			}
			return eris.Wrap(err, "normalize run")
		}

		if err := st.SaveResults(ctx, run.ID, result.ByKey); err != nil {
			return err
		}
		if n, err := st.SyncClassificationCache(ctx, svc.CacheEntries()); err != nil {
			zap.L().Warn("classification cache sync failed", zap.Error(err))
		} else {
			zap.L().Debug("classification cache synced", zap.Int("entries", n))
		}

		summary := summarize(result)
		if err := st.CompleteRun(ctx, run.ID, summary); err != nil {
			return err
		}

		zap.L().Info("run complete",
			zap.String("run", run.ID),
			zap.Int("input", summary.Input),
			zap.Int("kept", summary.Kept),
			zap.Int("buckets", summary.Buckets),
			zap.Int("success", summary.Success),
			zap.Int("sparse", summary.Sparse),
		)

		return writeResult(result)
	},
}

// summarize folds a normalization result into the persisted run summary.
func summarize(result *normalize.Result) *model.RunSummary {
	summary := &model.RunSummary{
		Input:   result.Clean.Input,
		Kept:    result.Clean.Kept,
		Buckets: len(result.ByKey),
	}
	for _, r := range result.ByKey {
		switch r.Status {
		case model.StatusSuccess:
			summary.Success++
			if r.Data != nil {
				summary.Outliers += r.Data.OutlierListings
			}
		case model.StatusInsufficientData:
			summary.Sparse++
		}
	}
	return summary
}

func writeResult(result *normalize.Result) error {
	out := os.Stdout
	if normalizeOutput != "" {
		f, err := os.Create(normalizeOutput)
		if err != nil {
			return eris.Wrapf(err, "create output %s", normalizeOutput)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func init() {
	normalizeCmd.Flags().StringVar(&normalizeFile, "file", "", "listing dump file: json, csv, xlsx, or zip (required)")
	normalizeCmd.Flags().StringVar(&normalizeSource, "source", "", "force the source name for every record")
	normalizeCmd.Flags().StringVar(&normalizeOutput, "output", "", "write result JSON here instead of stdout")
	normalizeCmd.Flags().StringVar(&normalizeGradeCurve, "grade-curve", "", "standalone grade curve YAML overriding config")
	normalizeCmd.Flags().StringVar(&normalizeCondTable, "condition-multipliers", "", "standalone condition multiplier YAML overriding config")
	_ = normalizeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(normalizeCmd)
}
