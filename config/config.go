// Package config loads the application configuration from environment
// variables and an optional .env file.
package config

import (
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/IOB-Muenster/MetagenomicsDB-sub001/database"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/logger"
)

// Config holds all configuration for the loader.
type Config struct {
	// Database holds configuration for the database connection.
	Database database.Config `mapstructure:"database"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Loader holds configuration for the upsert engine.
	Loader LoaderConfig `mapstructure:"loader"`
}

// LoaderConfig holds configuration for the upsert engine.
type LoaderConfig struct {
	// BatchSize is the number of records per INSERT statement.
	BatchSize int `mapstructure:"batch_size" default:"80"`
	// Metrics enables the Prometheus batch-metrics reporter.
	Metrics bool `mapstructure:"metrics" default:"false"`
}

// Load reads configuration from environment variables, with defaults
// from struct tags and an optional .env file in path.
func Load(path string) (*Config, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindDefaults(v, Config{}, "")

	// Map environment variables to nested keys (e.g. DATABASE_HOST -> database.host)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// bindDefaults uses reflection to iterate over the struct and set
// default values in Viper based on the 'default' and 'mapstructure'
// tags.
func bindDefaults(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindDefaults(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set the default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
