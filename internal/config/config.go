// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package config loads Tokengate settings.
//
// Sources are layered, later ones winning: built-in defaults, a YAML file,
// TOKENGATE_* environment variables, then command-line flags. Environment
// names map to keys by replacing the first underscore after the prefix with
// a dot, so TOKENGATE_AUTH_TOKEN_TTL sets auth.token_ttl.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/tokengate/tokengate/internal/xdg"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "TOKENGATE_"

// Config is the full service configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http"`
	Metrics MetricsConfig `koanf:"metrics"`
	Store   StoreConfig   `koanf:"store"`
	Auth    AuthConfig    `koanf:"auth"`
	Log     LogConfig     `koanf:"log"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	URL         string `koanf:"url" validate:"required,store_url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// AuthConfig configures token issuance and password hashing.
type AuthConfig struct {
	Secret          string        `koanf:"secret" validate:"required,min=32"`
	TokenTTL        time.Duration `koanf:"token_ttl" validate:"gt=0"`
	CookieSecure    bool          `koanf:"cookie_secure"`
	HashConcurrency int           `koanf:"hash_concurrency" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" validate:"oneof=json text"`
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Defaults are applied before any other source.
var Defaults = map[string]any{
	"http.addr":             ":8080",
	"metrics.addr":          "127.0.0.1:9100",
	"store.auto_migrate":    true,
	"auth.token_ttl":        "1h",
	"auth.cookie_secure":    true,
	"auth.hash_concurrency": 0,
	"log.format":            "json",
	"log.level":             "info",
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"http-addr":     "http.addr",
	"metrics-addr":  "metrics.addr",
	"store-url":     "store.url",
	"auto-migrate":  "store.auto_migrate",
	"token-ttl":     "auth.token_ttl",
	"cookie-secure": "auth.cookie_secure",
	"log-format":    "log.format",
	"log-level":     "log.level",
}

// Options tell Load where to look.
type Options struct {
	// File is an explicit config file; it must exist. When empty the XDG
	// default is read if present.
	File string
	// Flags, when set, override every other source for flags the user
	// changed.
	Flags *pflag.FlagSet
	// StoreOnly validates just the store and log sections, for commands
	// that never issue tokens.
	StoreOnly bool
}

// Load assembles and validates the configuration.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, value := range Defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", key).Wrap(err)
		}
	}

	if err := loadFile(k, opts.File); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	validateFn := cfg.Validate
	if opts.StoreOnly {
		validateFn = cfg.ValidateStore
	}
	if err := validateFn(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", ":8080", "API listen address")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	fs.String("store-url", "", "document store URL (memory://, postgres://, redis://)")
	fs.Bool("auto-migrate", true, "apply postgres migrations at startup")
	fs.Duration("token-ttl", time.Hour, "lifetime of issued session tokens")
	fs.Bool("cookie-secure", true, "mark the session cookie Secure")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		path = xdg.DefaultConfigFile()
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("file", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("file", path).Wrap(err)
	}
	return nil
}

// envKey turns TOKENGATE_AUTH_TOKEN_TTL into auth.token_ttl.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("store_url", func(fl validator.FieldLevel) bool {
		_, err := StoreScheme(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	return validationError(validate.Struct(c))
}

// ValidateStore checks only what store maintenance commands need.
func (c *Config) ValidateStore() error {
	return validationError(validate.StructPartial(c, "Store.URL", "Log.Format", "Log.Level"))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
	}
	return oops.Code("CONFIG_INVALID").
		With("fields", fields).
		Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}

// Store schemes.
const (
	SchemeMemory   = "memory"
	SchemePostgres = "postgres"
	SchemeRedis    = "redis"
)

// StoreScheme classifies a store URL.
func StoreScheme(url string) (string, error) {
	switch {
	case strings.HasPrefix(url, "memory://"):
		return SchemeMemory, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return SchemePostgres, nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return SchemeRedis, nil
	default:
		return "", oops.Code("CONFIG_INVALID").With("key", "store.url").Errorf("unsupported store url scheme")
	}
}
