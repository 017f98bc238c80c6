package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/comicpulse/priceintel/internal/model"
)

// csv column names accepted (lowercased, after trimming).
var csvAliases = map[string]string{
	"source":           "source",
	"marketplace":      "source",
	"title":            "title",
	"description":      "description",
	"image":            "imageRef",
	"image_url":        "imageRef",
	"imageref":         "imageRef",
	"price":            "price",
	"sale_price":       "price",
	"condition":        "condition",
	"grade":            "grade",
	"grading_service":  "gradingService",
	"sale_type":        "saleType",
	"listing_type":     "saleType",
	"observed_at":      "observedAt",
	"sold_at":          "observedAt",
	"date":             "observedAt",
	"feedback_score":   "feedbackScore",
	"positive_pct":     "positivePct",
	"account_age_days": "accountAgeDays",
}

// ReadCSVDump decodes a headered CSV dump into listing records. Column
// names are matched case-insensitively through the alias table; unknown
// columns are ignored. Rows that fail to parse are skipped and counted.
func ReadCSVDump(ctx context.Context, r io.Reader, source string) ([]model.RawListing, Report, error) {
	var report Report

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, report, nil
	}
	if err != nil {
		return nil, report, eris.Wrap(err, "ingest: csv read header")
	}

	fields := make(map[int]string, len(header))
	for i, name := range header {
		if canonical, ok := csvAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			fields[i] = canonical
		}
	}
	if len(fields) == 0 {
		return nil, report, eris.New("ingest: csv header has no recognized columns")
	}

	var records []model.RawListing
	for {
		if err := ctx.Err(); err != nil {
			return nil, report, eris.Wrap(err, "ingest: csv decode cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, report, eris.Wrap(err, "ingest: csv read row")
		}

		report.Rows++
		rec, err := csvRecord(row, fields, source)
		if err != nil {
			report.Skipped++
			continue
		}
		records = append(records, rec)
	}

	return keepValid(records, &report), report, nil
}

func csvRecord(row []string, fields map[int]string, source string) (model.RawListing, error) {
	rec := model.RawListing{Source: source}

	for i, canonical := range fields {
		if i >= len(row) {
			continue
		}
		val := strings.TrimSpace(row[i])
		if val == "" {
			continue
		}
		switch canonical {
		case "source":
			if source == "" {
				rec.Source = val
			}
		case "title":
			rec.Title = val
		case "description":
			rec.Description = val
		case "imageRef":
			rec.ImageRef = val
		case "price":
			p, err := parsePrice(val)
			if err != nil {
				return rec, eris.Wrap(err, "ingest: csv price")
			}
			rec.Price = p
		case "condition":
			rec.Condition = val
		case "grade":
			rec.Grade = val
		case "gradingService":
			rec.GradingService = val
		case "saleType":
			rec.SaleType = parseSaleType(val)
		case "observedAt":
			t, err := parseTimestamp(val)
			if err != nil {
				return rec, err
			}
			rec.ObservedAt = t
		case "feedbackScore":
			if n, err := strconv.Atoi(val); err == nil {
				rec.Seller.FeedbackScore = n
			}
		case "positivePct":
			if p, err := strconv.ParseFloat(val, 64); err == nil {
				rec.Seller.PositiveFeedbackPct = p
			}
		case "accountAgeDays":
			if n, err := strconv.Atoi(val); err == nil {
				rec.Seller.AccountAgeDays = n
			}
		}
	}

	if rec.SaleType == "" {
		rec.SaleType = model.SaleTypeFixed
	}
	return rec, nil
}
