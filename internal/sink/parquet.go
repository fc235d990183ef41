package sink

import (
	"bytes"
	"io"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
)

// columnTypes maps each batch column onto its arrow type
var columnTypes = map[string]arrow.DataType{
	models.ColTimestamp:          arrow.FixedWidthTypes.Timestamp_us,
	models.ColCity:               arrow.BinaryTypes.String,
	models.ColCountry:            arrow.BinaryTypes.String,
	models.ColTemperature:        arrow.PrimitiveTypes.Float64,
	models.ColFeelsLike:          arrow.PrimitiveTypes.Float64,
	models.ColTempMin:            arrow.PrimitiveTypes.Float64,
	models.ColTempMax:            arrow.PrimitiveTypes.Float64,
	models.ColPressure:           arrow.PrimitiveTypes.Int64,
	models.ColHumidity:           arrow.PrimitiveTypes.Int64,
	models.ColWeatherDescription: arrow.BinaryTypes.String,
	models.ColWindSpeed:          arrow.PrimitiveTypes.Float64,
	models.ColClouds:             arrow.PrimitiveTypes.Int64,
	models.ColSampleID:           arrow.PrimitiveTypes.Int64,
}

// ArrowSchema returns the arrow schema of a batch
func ArrowSchema(batch models.WeatherBatch) *arrow.Schema {
	cols := batch.Columns()
	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{Name: col, Type: columnTypes[col], Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// ParquetEncoder writes a single row group, Snappy compressed
type ParquetEncoder struct{}

func (ParquetEncoder) Extension() string   { return ".parquet" }
func (ParquetEncoder) ContentType() string { return "application/octet-stream" }

func (ParquetEncoder) Encode(w io.Writer, batch models.WeatherBatch) error {
	mem := memory.NewGoAllocator()
	schema := ArrowSchema(batch)

	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	for i, col := range schema.Fields() {
		fb := rb.Field(i)
		for j, row := range batch {
			if err := appendValue(fb, cell(row, col.Name)); err != nil {
				return errors.Wrapf(err, "row %d column %s", j, col.Name)
			}
		}
	}

	rec := rb.NewRecord()
	defer rec.Release()

	// the parquet writer closes its sink, so encode into a buffer first
	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return errors.Wrap(err, "create parquet writer")
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return errors.Wrap(err, "write parquet record")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, "close parquet writer")
	}

	_, err = w.Write(buf.Bytes())
	return err
}

func appendValue(b array.Builder, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch fb := b.(type) {
	case *array.TimestampBuilder:
		ts, ok := v.(time.Time)
		if !ok {
			return errors.Newf("expected time, got %T", v)
		}
		fb.Append(arrow.Timestamp(ts.UTC().UnixMicro()))
	case *array.Float64Builder:
		f, ok := v.(float64)
		if !ok {
			return errors.Newf("expected float64, got %T", v)
		}
		fb.Append(f)
	case *array.Int64Builder:
		n, ok := v.(int)
		if !ok {
			return errors.Newf("expected int, got %T", v)
		}
		fb.Append(int64(n))
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return errors.Newf("expected string, got %T", v)
		}
		fb.Append(s)
	default:
		return errors.Newf("unsupported builder %T", b)
	}
	return nil
}
