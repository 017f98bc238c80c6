package ingest

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/comicpulse/priceintel/internal/model"
)

// ReadJSONDump decodes a JSON array of listing records, streaming element
// by element so multi-gigabyte dumps never load whole. A source name forced
// onto every record keeps mixed-provenance dumps honest.
func ReadJSONDump(ctx context.Context, r io.Reader, source string) ([]model.RawListing, Report, error) {
	var report Report

	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if err != nil {
		if err == io.EOF {
			return nil, report, nil
		}
		return nil, report, eris.Wrap(err, "ingest: json read opening token")
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '[' {
		return nil, report, eris.Errorf("ingest: json expected '[', got %v", tok)
	}

	var records []model.RawListing
	for decoder.More() {
		if err := ctx.Err(); err != nil {
			return nil, report, eris.Wrap(err, "ingest: json decode cancelled")
		}

		report.Rows++
		var rec model.RawListing
		if err := decoder.Decode(&rec); err != nil {
			return nil, report, eris.Wrap(err, "ingest: json decode element")
		}
		if source != "" {
			rec.Source = source
		}
		records = append(records, rec)
	}

	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return nil, report, eris.Wrap(err, "ingest: json read closing token")
	}

	return keepValid(records, &report), report, nil
}
