// Package fetcher extracts tabular rows from uploaded CSV and XLSX files.
package fetcher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// PreviewRows caps how many data rows a preview returns.
const PreviewRows = 20

var (
	// ErrNotFound means the stored file is gone from disk.
	ErrNotFound = eris.New("fetcher: file not found")
	// ErrUnsupported means the file extension has no reader.
	ErrUnsupported = eris.New("fetcher: unsupported file format")
)

// ReadTable reads the whole file, dispatching on extension. Headers are
// the first row; every cell comes back as a string.
func ReadTable(path string) ([]string, [][]string, error) {
	return read(path, 0)
}

// ReadPreview reads the header plus at most PreviewRows data rows.
func ReadPreview(path string) ([]string, [][]string, error) {
	return read(path, PreviewRows)
}

func read(path string, limit int) ([]string, [][]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, eris.Wrapf(err, "fetcher: stat %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path, limit)
	case ".xlsx":
		return readXLSX(path, limit)
	default:
		return nil, nil, ErrUnsupported
	}
}
