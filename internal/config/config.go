package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"weather-etl/internal/models"
	"weather-etl/internal/quality"
)

const (
	// EnvPrefix is prepended to every configuration key read from the environment
	EnvPrefix = "WEATHER_ETL"

	// APIKeyEnv is the single environment variable supplying the weather API credential
	APIKeyEnv = "WEATHER_API_KEY"

	// ConfigFileEnv points at an optional TOML configuration file
	ConfigFileEnv = "WEATHER_ETL_CONFIG"

	defaultConfigFile = "weather-etl.toml"
)

// DefaultCities is the city list used when none is configured
var DefaultCities = []string{
	"Warsaw", "Krakow", "Gdansk", "Rzeszow",
	"London", "Paris", "Berlin",
	"New York", "Los Angeles", "Chicago",
	"Tokyo", "Sydney",
}

// Config holds the complete application configuration
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Validation ValidationConfig `mapstructure:"validation"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Output     OutputConfig     `mapstructure:"output"`
	S3         S3Config         `mapstructure:"s3"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Historical HistoricalConfig `mapstructure:"historical"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// APIConfig configures the weather provider client
type APIConfig struct {
	Key               string        `mapstructure:"key"`
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Units             string        `mapstructure:"units" validate:"oneof=metric imperial standard"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"min=1,max=10"`
	BaseDelay         time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	BreakerFailures   int           `mapstructure:"breaker_failures" validate:"gte=0"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown" validate:"gte=0"`
}

// PipelineConfig configures a single run
type PipelineConfig struct {
	Cities      []string `mapstructure:"cities" validate:"required,min=1,dive,required"`
	Concurrency int      `mapstructure:"concurrency" validate:"min=1,max=64"`
}

// ValidationConfig holds the data-quality thresholds
type ValidationConfig struct {
	MinTemperature float64       `mapstructure:"min_temperature" validate:"ltfield=MaxTemperature"`
	MaxTemperature float64       `mapstructure:"max_temperature"`
	MaxAge         time.Duration `mapstructure:"max_age" validate:"gt=0"`
}

// AnalyticsConfig configures descriptive statistics
type AnalyticsConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold_std" validate:"gt=0"`
}

// OutputConfig selects the persistence target
type OutputConfig struct {
	Target    string `mapstructure:"target" validate:"oneof=file s3 warehouse"`
	Format    string `mapstructure:"format" validate:"oneof=csv parquet"`
	Directory string `mapstructure:"directory" validate:"required"`
	FileName  string `mapstructure:"file_name"`
}

// S3Config configures the object-store sink
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint" validate:"omitempty,url"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

// DatabaseConfig holds warehouse connection configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite3"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// HistoricalConfig configures multi-sample collection
type HistoricalConfig struct {
	Samples   int           `mapstructure:"samples" validate:"min=1"`
	Interval  time.Duration `mapstructure:"interval" validate:"gte=0"`
	Directory string        `mapstructure:"directory" validate:"required"`
}

// ScheduleConfig configures periodic runs
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

// MetricsConfig configures the metrics endpoint; empty Addr disables it
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.key", "")
	v.SetDefault("api.base_url", "https://api.openweathermap.org/data/2.5/weather")
	v.SetDefault("api.units", "metric")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.base_delay", time.Second)
	v.SetDefault("api.requests_per_second", 0) // unlimited
	v.SetDefault("api.breaker_failures", 0)    // disabled
	v.SetDefault("api.breaker_cooldown", 30*time.Second)

	v.SetDefault("pipeline.cities", DefaultCities)
	v.SetDefault("pipeline.concurrency", 1)

	// temperature bounds default per api.units, see LoadConfig
	v.SetDefault("validation.max_age", 24*time.Hour)

	v.SetDefault("analytics.enabled", true)
	v.SetDefault("analytics.anomaly_threshold_std", 2.0)

	v.SetDefault("output.target", "file")
	v.SetDefault("output.format", "csv")
	v.SetDefault("output.directory", "data/processed")
	v.SetDefault("output.file_name", "")

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.prefix", "weather/")
	v.SetDefault("s3.path_style", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "weather")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "weather")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "data/weather.db")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)

	v.SetDefault("historical.samples", 5)
	v.SetDefault("historical.interval", time.Minute)
	v.SetDefault("historical.directory", "data/historical")

	v.SetDefault("schedule.interval", time.Hour)

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.addr", "")
}

// LoadConfig loads configuration from .env, an optional TOML file and the
// environment, in increasing order of precedence. An empty configFile falls
// back to $WEATHER_ETL_CONFIG, then ./weather-etl.toml when it exists.
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.key", APIKeyEnv, EnvPrefix+"_API_KEY"); err != nil {
		return nil, errors.Wrap(err, "failed to bind api key")
	}

	SetDefaults(v)

	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	if configFile == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			configFile = defaultConfigFile
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	cfg.Pipeline.Cities = trimCities(cfg.Pipeline.Cities)

	bounds := quality.ThresholdsForUnits(cfg.API.Units)
	cfg.Validation.MinTemperature = floatOr(v, "validation.min_temperature", bounds.MinTemperature)
	cfg.Validation.MaxTemperature = floatOr(v, "validation.max_temperature", bounds.MaxTemperature)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// floatOr returns the configured value for key, or fallback when neither the
// file nor the environment sets it
func floatOr(v *viper.Viper, key string, fallback float64) float64 {
	if v.IsSet(key) {
		return v.GetFloat64(key)
	}
	return fallback
}

func trimCities(cities []string) []string {
	out := make([]string, 0, len(cities))
	for _, c := range cities {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the configuration and reports the first problem as a
// *models.ConfigurationError
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			return &models.ConfigurationError{
				Field:   field,
				Message: describe(fe),
			}
		}
		return &models.ConfigurationError{Message: err.Error()}
	}

	if c.Output.Target == "s3" && c.S3.Bucket == "" {
		return &models.ConfigurationError{Field: "s3.bucket", Message: "required when output.target is s3"}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "ltfield":
		return fmt.Sprintf("must be less than %s, got %v", fe.Param(), fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation, got %v", fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Sprintf("failed %s validation, got %v", fe.Tag(), fe.Value())
	}
}
