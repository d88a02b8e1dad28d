package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Store    StoreConfig
	Location LocationConfig
	Prayer   PrayerConfig
	Library  LibraryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"maktaba-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// StoreConfig selects and configures the persistent cache tier.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, badger, or redis
	Path string `envconfig:"STORE_PATH" default:"./data/cache.db"`

	BadgerDir string `envconfig:"STORE_BADGER_DIR" default:"./data/badger"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SweepInterval time.Duration `envconfig:"STORE_SWEEP_INTERVAL" default:"10m"`
}

// LocationConfig holds location-resolution and geocoding settings.
type LocationConfig struct {
	SensorEndpoint string        `envconfig:"LOCATION_SENSOR_ENDPOINT" default:"http://ip-api.com/json/"`
	SensorTimeout  time.Duration `envconfig:"LOCATION_SENSOR_TIMEOUT" default:"10s"`
	CacheTTL       time.Duration `envconfig:"LOCATION_CACHE_TTL" default:"30m"`

	GeocodeReverseURL string `envconfig:"GEOCODE_REVERSE_URL" default:"https://nominatim.openstreetmap.org/reverse"`
	// GeocodeRelays is the ordered list of relay prefixes tried before
	// giving up; an empty element means a direct call.
	GeocodeRelays         []string      `envconfig:"GEOCODE_RELAYS" default:""`
	GeocodeAttemptTimeout time.Duration `envconfig:"GEOCODE_ATTEMPT_TIMEOUT" default:"5s"`
	GeocodeCacheTTL       time.Duration `envconfig:"GEOCODE_CACHE_TTL" default:"168h"`

	// Hardcoded fallback when the whole chain fails.
	FallbackLatitude  float64 `envconfig:"LOCATION_FALLBACK_LAT" default:"21.4225"`
	FallbackLongitude float64 `envconfig:"LOCATION_FALLBACK_LON" default:"39.8262"`
	FallbackCity      string  `envconfig:"LOCATION_FALLBACK_CITY" default:"Makkah"`
	FallbackCountry   string  `envconfig:"LOCATION_FALLBACK_COUNTRY" default:"Saudi Arabia"`
}

// PrayerConfig holds timings API and oracle settings.
type PrayerConfig struct {
	APIBaseURL string        `envconfig:"PRAYER_API_BASE_URL" default:"https://api.aladhan.com/v1"`
	APITimeout time.Duration `envconfig:"PRAYER_API_TIMEOUT" default:"15s"`
	Method     int           `envconfig:"PRAYER_CALC_METHOD" default:"5"`

	StaleAfter        time.Duration `envconfig:"PRAYER_STALE_AFTER" default:"20h"`
	TickInterval      time.Duration `envconfig:"PRAYER_TICK_INTERVAL" default:"1s"`
	DateCheckInterval time.Duration `envconfig:"PRAYER_DATE_CHECK_INTERVAL" default:"60s"`
}

// LibraryConfig holds MySQL connection settings for the document library.
type LibraryConfig struct {
	Host     string `envconfig:"LIBRARY_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"LIBRARY_DB_PORT" default:"3306"`
	Name     string `envconfig:"LIBRARY_DB_NAME" default:"maktaba"`
	User     string `envconfig:"LIBRARY_DB_USER" default:"root"`
	Password string `envconfig:"LIBRARY_DB_PASS" default:""`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (s *StoreConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort)
}

// DSN returns the MySQL data source name.
func (l *LibraryConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		l.User, l.Password, l.Host, l.Port, l.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
