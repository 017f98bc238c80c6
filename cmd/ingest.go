package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/comicpulse/priceintel/internal/ingest"
	"github.com/comicpulse/priceintel/internal/ratelimit"
)

var (
	ingestURL    string
	ingestFile   string
	ingestSource string
	ingestOut    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch and validate a marketplace listing dump",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if ingestURL == "" && ingestFile == "" {
			return eris.New("either --url or --file is required")
		}
		if ingestSource == "" {
			return eris.New("--source is required")
		}

		path := ingestFile
		if ingestURL != "" {
			limiter, closeLimiter, err := newLimiter(ctx)
			if err != nil {
				return err
			}
			defer closeLimiter()

			if err := limiter.Admit(ctx, ingestSource, "dump"); err != nil {
				var rlErr *ratelimit.RateLimitError
				if errors.As(err, &rlErr) {
					zap.L().Warn("dump fetch rejected by rate limiter",
						zap.String("source", ingestSource),
						zap.String("window", rlErr.Window),
						zap.Int64("wait_ms", rlErr.WaitMs),
					)
				}
				return err
			}

			downloaded, err := fetchDump(ctx, ingestURL)
			if err != nil {
				return err
			}
			path = downloaded
		}

		records, report, err := readDump(ctx, path, ingestSource)
		if err != nil {
			return err
		}

		zap.L().Info("dump validated",
			zap.String("source", ingestSource),
			zap.Int("rows", report.Rows),
			zap.Int("decoded", report.Decoded),
			zap.Int("skipped", report.Skipped),
		)

		if ingestOut != "" {
			f, err := os.Create(ingestOut)
			if err != nil {
				return eris.Wrapf(err, "create output %s", ingestOut)
			}
			defer f.Close()
			if err := json.NewEncoder(f).Encode(records); err != nil {
				return eris.Wrap(err, "write validated records")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// newLimiter builds the admission limiter, on a shared Postgres counter
// store when one is configured.
func newLimiter(ctx context.Context) (*ratelimit.Limiter, func(), error) {
	if cfg.RateLimit.CounterDB == "" {
		return ratelimit.New(nil, cfg.RateLimit), func() {}, nil
	}
	counterStore, err := ratelimit.NewPostgresStore(ctx, cfg.RateLimit.CounterDB)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.New(counterStore, cfg.RateLimit), counterStore.Close, nil
}

// fetchDump downloads the dump next to the temp dir and returns its path.
func fetchDump(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "parse dump url %s", rawURL)
	}

	tmpDir, err := os.MkdirTemp("", "priceintel-fetch-*")
	if err != nil {
		return "", eris.Wrap(err, "create download dir")
	}

	name := "dump"
	if idx := strings.LastIndex(u.Path, "/"); idx >= 0 && idx < len(u.Path)-1 {
		name = u.Path[idx+1:]
	}
	dest := tmpDir + string(os.PathSeparator) + name

	switch u.Scheme {
	case "http", "https":
		fetcher := ingest.NewHTTPFetcher(cfg.Ingest)
		if _, err := fetcher.DownloadToFile(ctx, rawURL, dest); err != nil {
			return "", err
		}
	case "ftp":
		fetcher := ingest.NewFTPFetcher(time.Duration(cfg.Ingest.TimeoutSecs) * time.Second)
		if _, err := fetcher.DownloadToFile(ctx, rawURL, dest); err != nil {
			return "", err
		}
	default:
		return "", eris.Errorf("unsupported dump scheme %q", u.Scheme)
	}
	return dest, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "dump URL (http, https, or ftp)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "local dump file")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "marketplace source name (required)")
	ingestCmd.Flags().StringVar(&ingestOut, "out", "", "write validated records JSON here")
	rootCmd.AddCommand(ingestCmd)
}
