// Package dotenv seeds the process environment from a .env file and an
// optional YAML overlay before configuration is read. Variables that are
// already set always win.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadFile loads KEY=VALUE pairs from a dotenv-style file. A missing file is
// not an error.
func LoadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// LoadYAML reads a flat mapping of variable names to scalar values and sets
// each one that is not already present in the environment.
//
//	FRIDAY_RATE_CAPACITY: 200
//	FRIDAY_CORS_ORIGINS: "https://app.example.com"
func LoadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	for key, v := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		s, err := scalar(v)
		if err != nil {
			return fmt.Errorf("config file %q: %s: %w", path, key, err)
		}
		if err := os.Setenv(key, s); err != nil {
			return fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	return nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		out := ""
		for i, item := range t {
			s, err := scalar(item)
			if err != nil {
				return "", err
			}
			if i > 0 {
				out += ","
			}
			out += s
		}
		return out, nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
