package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// FileSink writes each batch to <dir>/<destination><ext>
type FileSink struct {
	dir     string
	encoder Encoder
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewFileSink creates a sink writing into dir
func NewFileSink(dir string, encoder Encoder, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *FileSink {
	return &FileSink{
		dir:     dir,
		encoder: encoder,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Path returns the file a destination resolves to
func (s *FileSink) Path(destination string) string {
	ext := s.encoder.Extension()
	return filepath.Join(s.dir, strings.TrimSuffix(destination, ext)+ext)
}

// Persist encodes the batch into a temporary file and renames it into
// place, so readers never observe a partial file
func (s *FileSink) Persist(ctx context.Context, batch models.WeatherBatch, destination string) (string, error) {
	if len(batch) == 0 {
		return "", models.ErrEmptyBatch
	}
	if destination == "" {
		return "", errors.New("destination name is required")
	}

	start := time.Now()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create output directory %s", s.dir)
	}

	path := s.Path(destination)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "create temporary file")
	}
	defer os.Remove(tmp.Name())

	if err := s.encoder.Encode(tmp, batch); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "encode %s", path)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrapf(err, "rename into %s", path)
	}

	s.metrics.RecordRowsPersisted(TargetFile, len(batch))
	s.logger.Info(ctx, "[PERSIST_FILE] Batch written", logging.Fields{
		"stage":       "PERSISTING",
		"path":        path,
		"rows":        len(batch),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return path, nil
}
