package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"weather-etl/internal/config"
	"weather-etl/internal/sink"
	"weather-etl/migrations"
	"weather-etl/pkg/database"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	configFile := flag.String("config", "", "Path to a TOML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("weather-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	ctx := context.Background()

	// Connect to database
	db, err := database.Open(ctx, sink.DatabaseConfig(cfg.Database), logger, metrics.NewCollector("weather_migrate"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", db.Driver())

	// Read migration script
	var script string
	switch *direction {
	case "up":
		script, err = migrations.Up(db.Driver())
	case "down":
		script, err = migrations.Down()
	default:
		err = fmt.Errorf("unknown direction %q", *direction)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running migration: %s\n", *direction)

	// Execute migration
	if _, err := db.ExecContext(ctx, "migrate_"+*direction, script); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
