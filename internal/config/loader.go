// Package config provides configuration loading, defaults, and validation
// for MediMorph.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "MEDIMORPH"

// newViper builds a pre-configured Viper instance: YAML file type,
// MEDIMORPH_ env prefix, automatic env binding, and a key replacer that maps
// "." → "_" so nested keys like "database.host" resolve to
// "MEDIMORPH_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v, Config{}, nil)
	return v
}

// bindEnvKeys walks the mapstructure tags of the config struct and binds each
// leaf key explicitly.  Viper's Unmarshal only considers keys it already
// knows about, so env-only keys would otherwise be invisible when no config
// file is loaded.
func bindEnvKeys(v *viper.Viper, s interface{}, prefix []string) {
	t := reflect.TypeOf(s)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		path := append(append([]string{}, prefix...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvKeys(v, reflect.New(f.Type).Elem().Interface(), path)
			continue
		}
		_ = v.BindEnv(strings.Join(path, "."))
	}
}

// Load reads the YAML file at configPath, merges MEDIMORPH_* environment
// overrides, applies defaults for unset fields, and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from MEDIMORPH_* environment
// variables with no config file.  Preferred for containerised deployments.
//
// Naming convention: MEDIMORPH_<SECTION>_<FIELD>, e.g.
// MEDIMORPH_DATABASE_HOST, MEDIMORPH_SCHEDULING_TICK_INTERVAL.
func LoadFromEnv() (*Config, error) {
	v := newViper()
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file changes on disk.  Intended for
// hot-reloading non-critical settings such as log level and the extraction
// threshold; callers apply only the safe subset at runtime.  If the changed
// file fails to parse or validate, onChange is not called.
func Watch(configPath string, onChange func(*Config)) error {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
