package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
)

// Output formats
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Encoder serializes a batch into one output document
type Encoder interface {
	Encode(w io.Writer, batch models.WeatherBatch) error
	Extension() string
	ContentType() string
}

// NewEncoder returns the encoder for a format name
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case FormatCSV, "":
		return CSVEncoder{}, nil
	case FormatParquet:
		return ParquetEncoder{}, nil
	default:
		return nil, &models.ConfigurationError{
			Field:   "output.format",
			Message: fmt.Sprintf("unsupported format %q", format),
		}
	}
}

// cell returns the value a row stores under column, treating an untagged
// sample id in a tagged batch as missing
func cell(row models.WeatherRow, column string) interface{} {
	if column == models.ColSampleID && row.SampleID == 0 {
		return nil
	}
	return row.Value(column)
}

// CSVEncoder writes a header row followed by one line per reading.
// Missing readings are empty cells and timestamps are RFC3339 UTC.
type CSVEncoder struct{}

func (CSVEncoder) Extension() string   { return ".csv" }
func (CSVEncoder) ContentType() string { return "text/csv" }

func (CSVEncoder) Encode(w io.Writer, batch models.WeatherBatch) error {
	cols := batch.Columns()
	cw := csv.NewWriter(w)

	if err := cw.Write(cols); err != nil {
		return errors.Wrap(err, "write csv header")
	}

	record := make([]string, len(cols))
	for i, row := range batch {
		for j, col := range cols {
			record[j] = formatCell(cell(row, col))
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write csv row %d", i)
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
