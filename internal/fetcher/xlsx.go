package fetcher

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// readXLSX reads the first sheet of a workbook. Date-formatted cells
// are serialized ISO-8601 so downstream parsing sees one canonical form.
func readXLSX(path string, limit int) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "xlsx: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return []string{}, nil, nil
	}

	sheet := f.Sheets[0]
	var headers []string
	var rows [][]string
	for i, row := range sheet.Rows {
		cells := rowToStrings(row)
		if i == 0 {
			headers = cells
			continue
		}
		rows = append(rows, cells)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	if headers == nil {
		headers = []string{}
	}

	return headers, rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cellString(cell)
	}
	return cells
}

func cellString(cell *xlsx.Cell) string {
	if cell.IsTime() {
		if t, err := cell.GetTime(false); err == nil {
			if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
				return t.Format(time.DateOnly)
			}
			return t.Format("2006-01-02T15:04:05")
		}
	}
	return cell.String()
}
