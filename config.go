package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr     = ":8080"
	defaultVersion        = "v1"
	defaultStatusInterval = "60"
)

// Config is the configuration struct for the service.
type Config struct {
	// ListenAddr is the websocket listen address.
	ListenAddr string
	// Version is the api version served.
	Version string
	// AuthToken is the access token granted bot permissions.
	AuthToken string
	// DataDir is the historic candle data directory.
	DataDir string
	// CrawlerURL is the optional crawler host used instead of historic data.
	CrawlerURL string
	// ReportDir is the optional transaction report directory.
	ReportDir string
	// DBEndpoint is the optional rqlite endpoint.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// BotFile is the optional yaml bot file run at boot.
	BotFile string
	// StatusInterval is the number of seconds between bot status logs.
	StatusInterval int

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.ListenAddr == "" {
		errs = errors.Join(errs, fmt.Errorf("listen address cannot be an empty string"))
	}
	if cfg.Version == "" {
		errs = errors.Join(errs, fmt.Errorf("version cannot be an empty string"))
	}
	if cfg.AuthToken == "" {
		errs = errors.Join(errs, fmt.Errorf("auth token cannot be an empty string"))
	}
	if cfg.DataDir == "" && cfg.CrawlerURL == "" {
		errs = errors.Join(errs, fmt.Errorf("either a data directory or a crawler url is required"))
	}
	if cfg.DBEndpoint == "" && (cfg.DBUser != "" || cfg.DBPass != "") {
		errs = errors.Join(errs, fmt.Errorf("database credentials provided without a database endpoint"))
	}
	if cfg.StatusInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("status interval must be positive"))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
// Environment variables override the provided fallback default.
func (cfg *Config) registerFlag(name string, value interface{}, fallback string, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	if defValue == "" {
		defValue = fallback
	}

	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			var err error
			def, err = strconv.Atoi(defValue)
			if err != nil {
				return fmt.Errorf("%s: parsing default %q: %w", name, defValue, err)
			}
		}
		flag.IntVar(value.(*int), name, def, usage)
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	flags := []struct {
		name     string
		value    interface{}
		fallback string
		usage    string
	}{
		{"listenaddr", &cfg.ListenAddr, defaultListenAddr, "the websocket listen address"},
		{"version", &cfg.Version, defaultVersion, "the api version"},
		{"authtoken", &cfg.AuthToken, "", "the access token granted bot permissions"},
		{"datadir", &cfg.DataDir, "", "the historic candle data directory"},
		{"crawlerurl", &cfg.CrawlerURL, "", "the crawler host url"},
		{"reportdir", &cfg.ReportDir, "", "the transaction report directory"},
		{"dbendpoint", &cfg.DBEndpoint, "", "the rqlite endpoint"},
		{"dbuser", &cfg.DBUser, "", "the database user"},
		{"dbpass", &cfg.DBPass, "", "the database user pass"},
		{"botfile", &cfg.BotFile, "", "the yaml bot file run at boot"},
		{"statusinterval", &cfg.StatusInterval, defaultStatusInterval, "the seconds between bot status logs"},
	}

	// Register command line arguments using loaded environment variables as defaults.
	for _, f := range flags {
		err = cfg.registerFlag(f.name, f.value, f.fallback, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
