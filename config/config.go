package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/mqttdemo/core/metrics"
	"github.com/kilianp07/mqttdemo/infra/mqtt"
)

// DefaultPath is the file the CLI loads when no --config flag is given.
const DefaultPath = "ClientOptions.json"

// EnvPrefix marks environment variables that override file values. A double
// underscore separates nested keys, e.g. K_TELEMETRY__INTERVAL_MS.
const EnvPrefix = "K_"

// Config is the full client configuration. The broker connection fields sit
// at the top level of the file.
type Config struct {
	mqtt.Config `json:",squash"`

	Telemetry TelemetryConfig `json:"telemetry"`
	Metrics   metrics.Config  `json:"metrics"`
	Log       LogConfig       `json:"log"`
}

// Load reads path, applies environment overrides and validates the result.
// Every failure is a *ConfigError.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	fk := koanf.New(".")
	if err := fk.Load(file.Provider(path), parser); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %w", err)
		}
		return nil, err
	}
	ek := koanf.New(".")
	if err := ek.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	for _, key := range []string{"host", "port"} {
		if !fk.Exists(key) && !ek.Exists(key) {
			return nil, missing(key)
		}
	}
	var cfg Config
	// File values keep their JSON/YAML types; environment values are
	// strings and are converted.
	if err := unmarshal(fk, &cfg, false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	if err := unmarshal(ek, &cfg, true); err != nil {
		return nil, fmt.Errorf("%w: env overrides: %v", ErrInvalidField, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unmarshal(k *koanf.Koanf, cfg *Config, weak bool) error {
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "json",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
				wholeNumbers,
			),
			WeaklyTypedInput: weak,
			Result:           cfg,
		},
	})
}

// wholeNumbers rejects fractional numbers bound for integer fields.
func wholeNumbers(from, to reflect.Kind, data any) (any, error) {
	if from != reflect.Float64 && from != reflect.Float32 {
		return data, nil
	}
	switch to {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%v is not a whole number", data)
	}
	return data, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
}

// envKey maps K_TELEMETRY__INTERVAL_MS to telemetry.interval_ms.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults fills optional fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "mqttdemo-" + uuid.NewString()
	}
	c.Telemetry.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks the connection fields and every section.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return invalid("host", "must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return invalid("port", "%d out of range 1..65535", c.Port)
	}
	switch c.ProtocolVersion {
	case 0, 3, 4, 5:
	default:
		return invalid("protocol_version", "%d not one of 3, 4, 5", c.ProtocolVersion)
	}
	if c.KeepAliveSeconds < 0 {
		return invalid("keep_alive_seconds", "must not be negative")
	}
	if c.ConnectTimeoutSeconds < 0 {
		return invalid("connect_timeout_seconds", "must not be negative")
	}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return invalid("client_cert", "client_cert and client_key must be set together")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}
