package main

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDump(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadDumpJSON(t *testing.T) {
	path := writeDump(t, "dump.json",
		`[{"source":"ebay","title":"Spawn #1","price":40,"timestampObserved":"2026-07-01T00:00:00Z"}]`)

	records, report, err := readDump(context.Background(), path, "ebay")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Spawn #1", records[0].Title)
	assert.Equal(t, 1, report.Decoded)
}

func TestReadDumpCSV(t *testing.T) {
	path := writeDump(t, "dump.csv",
		"title,price,observed_at\nBatman #423,85.50,2026-07-02\n")

	records, _, err := readDump(context.Background(), path, "heritage")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "heritage", records[0].Source)
	assert.Equal(t, 85.50, records[0].Price)
}

func TestReadDumpZIPUnwraps(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "dump.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	entry, err := w.Create("listings.csv")
	require.NoError(t, err)
	_, err = entry.Write([]byte("title,price,observed_at\nSpawn #1,40,2026-07-01\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	records, _, err := readDump(context.Background(), zipPath, "ebay")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Spawn #1", records[0].Title)
}

func TestReadDumpUnsupportedExtension(t *testing.T) {
	path := writeDump(t, "dump.parquet", "binary")
	_, _, err := readDump(context.Background(), path, "ebay")
	require.Error(t, err)
}
