package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys read by EnvOverrides.
const (
	EnvURL         = "COCOVIEW_URL"
	EnvLogLevel    = "COCOVIEW_LOG_LEVEL"
	EnvDefaultView = "COCOVIEW_DEFAULT_VIEW"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
// With no arguments it loads ./.env.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// Overrides are values that win over the file on every load and reload.
// Empty strings and a nil Headless leave the file value alone.
type Overrides struct {
	URL         string
	LogLevel    string
	DefaultView string
	Headless    *bool
}

// EnvOverrides reads the COCOVIEW_* variables. A nil lookup means os.LookupEnv.
func EnvOverrides(lookup func(string) (string, bool)) Overrides {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	return Overrides{
		URL:         get(EnvURL),
		LogLevel:    get(EnvLogLevel),
		DefaultView: get(EnvDefaultView),
	}
}

// Merge returns o with non-empty fields of other taking precedence.
func (o Overrides) Merge(other Overrides) Overrides {
	if other.URL != "" {
		o.URL = other.URL
	}
	if other.LogLevel != "" {
		o.LogLevel = other.LogLevel
	}
	if other.DefaultView != "" {
		o.DefaultView = other.DefaultView
	}
	if other.Headless != nil {
		o.Headless = other.Headless
	}
	return o
}

func (o Overrides) apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.URL != "" {
		cfg.Server.URL = o.URL
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.DefaultView != "" {
		cfg.Render.DefaultView = o.DefaultView
	}
	if o.Headless != nil {
		cfg.Render.Headless = *o.Headless
	}
}
