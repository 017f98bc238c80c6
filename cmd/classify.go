package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/comicpulse/priceintel/internal/model"
)

var (
	classifyTitle       string
	classifyDescription string
	classifyImageRef    string
	classifyFile        string
	classifySource      string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify variant and condition for a listing or a dump file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if classifyTitle == "" && classifyFile == "" {
			return eris.New("either --title or --file is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		svc := newClassifier(ctx, st)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if classifyTitle != "" {
			cls := svc.Classify(model.RawListing{
				Title:       classifyTitle,
				Description: classifyDescription,
				ImageRef:    classifyImageRef,
			})
			return enc.Encode(cls)
		}

		records, report, err := readDump(ctx, classifyFile, classifySource)
		if err != nil {
			return err
		}
		zap.L().Info("dump decoded",
			zap.Int("decoded", report.Decoded),
			zap.Int("skipped", report.Skipped),
		)

		batch, err := svc.ClassifyBatch(ctx, records, cfg.Classify.BatchSize)
		if err != nil {
			return eris.Wrap(err, "classify batch")
		}

		if _, err := st.SyncClassificationCache(ctx, svc.CacheEntries()); err != nil {
			zap.L().Warn("classification cache sync failed", zap.Error(err))
		}

		return enc.Encode(batch)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyTitle, "title", "", "listing title to classify")
	classifyCmd.Flags().StringVar(&classifyDescription, "description", "", "listing description")
	classifyCmd.Flags().StringVar(&classifyImageRef, "image-ref", "", "listing image URL or reference")
	classifyCmd.Flags().StringVar(&classifyFile, "file", "", "classify every record in this dump file instead")
	classifyCmd.Flags().StringVar(&classifySource, "source", "", "force the source name for dump records")
	rootCmd.AddCommand(classifyCmd)
}
