package fetcher

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

// sniffSample is how many bytes of the file the delimiter sniffer sees.
const sniffSample = 4096

var csvDelimiters = []rune{',', ';', '\t'}

func readCSV(path string, limit int) ([]string, [][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "csv: read %s", path)
	}

	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(raw) {
		// legacy exports from Russian payment systems come in cp1251
		decoded, decErr := charmap.Windows1251.NewDecoder().Bytes(raw)
		if decErr != nil {
			return nil, nil, eris.Wrap(decErr, "csv: decode windows-1251")
		}
		raw = decoded
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = sniffDelimiter(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err == io.EOF {
		return []string{}, nil, nil
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read header")
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "csv: read row")
		}
		rows = append(rows, record)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return headers, rows, nil
}

// sniffDelimiter picks the candidate that occurs most often in the
// first line of the sample. Comma wins ties and empty input.
func sniffDelimiter(raw []byte) rune {
	sample := raw
	if len(sample) > sniffSample {
		sample = sample[:sniffSample]
	}
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}

	best := ','
	bestCount := 0
	for _, cand := range csvDelimiters {
		count := bytes.Count(sample, []byte(string(cand)))
		if count > bestCount {
			best = cand
			bestCount = count
		}
	}
	return best
}
