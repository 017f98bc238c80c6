// Package ingest downloads marketplace listing dumps over HTTP and FTP and
// decodes them (JSON, CSV, XLSX, optionally ZIP-wrapped) into raw listing
// records for the normalization pipeline.
package ingest

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comicpulse/priceintel/internal/model"
)

// Fetcher defines the interface for downloading remote dumps.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Report tallies one decode pass. Invalid records are counted and skipped,
// never fatal.
type Report struct {
	Rows    int `json:"rows"`
	Decoded int `json:"decoded"`
	Skipped int `json:"skipped"`
}

// timestampLayouts are accepted observation-time formats across marketplace
// dumps, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("ingest: unparseable timestamp %q", s)
}

func parseSaleType(s string) model.SaleType {
	if strings.EqualFold(strings.TrimSpace(s), string(model.SaleTypeAuction)) {
		return model.SaleTypeAuction
	}
	return model.SaleTypeFixed
}

// validate applies the minimal record contract shared by every dump format.
// The normalization engine applies the stricter cleaning pass later.
func validate(rec model.RawListing) error {
	if rec.Source == "" {
		return eris.New("ingest: record missing source")
	}
	if rec.Title == "" {
		return eris.New("ingest: record missing title")
	}
	if rec.Price <= 0 {
		return eris.Errorf("ingest: non-positive price %v", rec.Price)
	}
	if rec.ObservedAt.IsZero() {
		return eris.New("ingest: record missing observation timestamp")
	}
	return nil
}

// keepValid filters a decoded batch down to records passing validate,
// logging a sample of what was dropped.
func keepValid(records []model.RawListing, report *Report) []model.RawListing {
	out := records[:0]
	for _, rec := range records {
		if err := validate(rec); err != nil {
			report.Skipped++
			if report.Skipped <= 5 {
				zap.L().Debug("ingest: skipping invalid record", zap.Error(err))
			}
			continue
		}
		out = append(out, rec)
	}
	report.Decoded = len(out)
	return out
}

func parsePrice(s string) (float64, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	return strconv.ParseFloat(cleaned, 64)
}
