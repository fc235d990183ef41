package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{
			name: "postgres",
			cfg: Config{
				Driver: DriverPostgres, Host: "db", Port: 5432, User: "u", Password: "p",
				Database: "weather", SSLMode: "disable",
			},
			want: "host=db port=5432 user=u password=p dbname=weather sslmode=disable",
		},
		{
			name: "sqlite",
			cfg:  Config{Driver: DriverSQLite, Path: "data/weather.db"},
			want: "file:data/weather.db?_busy_timeout=5000&_foreign_keys=on",
		},
		{
			name:    "sqlite without path",
			cfg:     Config{Driver: DriverSQLite},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			cfg:     Config{Driver: "oracle"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.DSN()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock, *metrics.Collector) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	m := metrics.NewCollector("test")
	db := New(sqlx.NewDb(raw, DriverPostgres), &Config{Driver: DriverPostgres}, logging.NewNopLogger(), m)
	return db, mock, m
}

func TestDB_ExecContext(t *testing.T) {
	db, mock, m := newMockDB(t)

	mock.ExpectExec("DELETE FROM weather_readings").WillReturnResult(sqlmock.NewResult(0, 3))
	res, err := db.ExecContext(context.Background(), "purge", "DELETE FROM weather_readings")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(3), n)

	mock.ExpectExec("DELETE FROM weather_readings").WillReturnError(errors.New("locked"))
	_, err = db.ExecContext(context.Background(), "purge", "DELETE FROM weather_readings")
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBErrorsTotal.WithLabelValues("exec_error")))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_GetContext(t *testing.T) {
	db, mock, _ := newMockDB(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	var count int
	require.NoError(t, db.GetContext(context.Background(), "count", &count, "SELECT COUNT(*) FROM weather_readings"))
	assert.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_Rebind(t *testing.T) {
	db, _, _ := newMockDB(t)
	assert.Equal(t, "SELECT $1, $2", db.Rebind("SELECT ?, ?"))
	assert.Equal(t, DriverPostgres, db.Driver())
}
