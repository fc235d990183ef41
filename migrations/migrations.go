package migrations

import (
	"embed"
	"fmt"

	"github.com/cockroachdb/errors"
)

//go:embed *.sql
var files embed.FS

const schemaVersion = "001_weather_readings"

// Up returns the schema creation script for a driver
func Up(driver string) (string, error) {
	return read(fmt.Sprintf("%s.%s.up.sql", schemaVersion, driver))
}

// Down returns the schema removal script; it is the same for every driver
func Down() (string, error) {
	return read(schemaVersion + ".down.sql")
}

func read(name string) (string, error) {
	b, err := files.ReadFile(name)
	if err != nil {
		return "", errors.Wrapf(err, "migration %s", name)
	}
	return string(b), nil
}
