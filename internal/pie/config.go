// ABOUTME: Per-pie configuration values and the values file loader
// ABOUTME: Values files are YAML or JSONC maps keyed by pie id

package pie

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is a pie's resolved configuration.
type Config map[string]any

// String returns the value at key, or "" when absent or not a string.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns the value at key, or false when absent or not a bool.
func (c Config) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Int64 returns the numeric value at key. YAML decodes whole numbers as int and
// JSON as float64; both are accepted.
func (c Config) Int64(key string) int64 {
	n, _ := toInt64(c[key])
	return n
}

// Int64s returns the list of numbers at key, skipping entries that are not numbers.
func (c Config) Int64s(key string) []int64 {
	switch v := c[key].(type) {
	case []int64:
		return append([]int64(nil), v...)
	case []any:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			if n, ok := toInt64(item); ok {
				out = append(out, n)
			}
		}
		return out
	default:
		return nil
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// merge overlays values on base and returns a new config.
func merge(base Config, values map[string]any) Config {
	out := maps.Clone(base)
	if out == nil {
		out = make(Config, len(values))
	}
	maps.Copy(out, values)
	return out
}

// LoadConfigValues reads a values file. The format follows the extension:
// .yaml/.yml, or .json/.jsonc (comments and trailing commas allowed).
func LoadConfigValues(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plugin config: %w", err)
	}

	values := make(map[string]map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parsing plugin config %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &values); err != nil {
			return nil, fmt.Errorf("parsing plugin config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported plugin config format %q", ext)
	}
	return values, nil
}
