package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Environment variable names. Every file key can also be set through
// EnvPrefix + SECTION_KEY, e.g. MINUTES_GATEWAY_BROKER_CLIENT_SECRET.
const (
	EnvPrefix = "MINUTES_GATEWAY_"
	EnvConfig = EnvPrefix + "CONFIG"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// EnvOverrides holds the environment in effect for one resolution.
type EnvOverrides struct {
	ConfigPath string // MINUTES_GATEWAY_CONFIG: override config file path
	Lookup     LookupFunc
}

// ReadEnvOverrides captures the process environment.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Lookup:     os.LookupEnv,
	}
}

// applyEnv assigns every set MINUTES_GATEWAY_* variable onto cfg. List
// values are comma separated.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	var errs []error

	for _, s := range settings(cfg) {
		raw, ok := lookup(s.EnvName())
		if !ok {
			continue
		}

		if err := assign(s.Value, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.EnvName(), err))
		}
	}

	return errors.Join(errs...)
}

func assign(v reflect.Value, raw string) error {
	raw = strings.TrimSpace(raw)

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}

		v.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}

		v.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", raw)
		}

		v.SetFloat(f)
	case reflect.Slice:
		var items []string

		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}

		v.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported setting type %s", v.Kind())
	}

	return nil
}
