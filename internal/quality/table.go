package quality

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
)

// Table is a loosely typed dataset loaded from a file. Unlike a WeatherBatch
// it may lack columns, which is what the required-column check inspects.
type Table struct {
	columns []string
	rows    []map[string]interface{}
}

// NewTable builds a table from column names and rows keyed by column
func NewTable(columns []string, rows []map[string]interface{}) *Table {
	return &Table{columns: columns, rows: rows}
}

func (t *Table) Columns() []string {
	return t.columns
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Row(i int) map[string]interface{} {
	return t.rows[i]
}

var (
	floatColumns = map[string]bool{
		models.ColTemperature: true,
		models.ColFeelsLike:   true,
		models.ColTempMin:     true,
		models.ColTempMax:     true,
		models.ColWindSpeed:   true,
	}
	intColumns = map[string]bool{
		models.ColPressure: true,
		models.ColHumidity: true,
		models.ColClouds:   true,
		models.ColSampleID: true,
	}
)

// ReadTable parses a CSV file with a header row. Empty cells become nulls,
// known numeric columns are parsed as numbers and the timestamp column as
// RFC 3339.
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("read table: missing header row")
		}
		return nil, errors.Wrap(err, "read table header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]interface{}
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "read table line %d", line)
		}

		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			var cell string
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			v, err := parseCell(col, cell)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d column %q", line, col)
			}
			row[col] = v
		}
		rows = append(rows, row)
	}

	return NewTable(header, rows), nil
}

func parseCell(col, cell string) (interface{}, error) {
	if cell == "" {
		return nil, nil
	}
	switch {
	case col == models.ColTimestamp:
		ts, err := time.Parse(time.RFC3339, cell)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case floatColumns[col]:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case intColumns[col]:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, err
		}
		return int(f), nil
	default:
		return cell, nil
	}
}
