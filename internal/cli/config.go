package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig holds every key a config file may set. Each command reads the
// keys it understands; a key no command understands is rejected.
type fileConfig struct {
	Input     *string
	Name      *string
	SchemaDir *string
	Headers   map[string]string
	Functions []string
	WriteNew  *bool
	DryRun    *bool
	Print     *bool
	Verbose   *bool
}

// loadConfigFile reads the file named by the persistent --config flag. It
// returns a zero config and an empty path when the flag is unset.
func loadConfigFile(cmd *cobra.Command) (fileConfig, string, error) {
	var fc fileConfig
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return fc, "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fc, "", nil
	}
	if err := applyConfigFromFile(&fc, path); err != nil {
		return fc, path, err
	}
	return fc, path, nil
}

func applyConfigFromFile(fc *fileConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newUsageError(fmt.Sprintf("read config file %q: %v", path, err))
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return newUsageError(fmt.Sprintf("parse config file %q: %v", path, err))
	}

	for key, value := range raw {
		if err := fc.set(normalizeKey(key), value); err != nil {
			if errors.Is(err, errUnknownKey) {
				return newUsageError(fmt.Sprintf("config file %q: unknown field %q", path, key))
			}
			return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
		}
	}
	return nil
}

var errUnknownKey = errors.New("unknown key")

func (fc *fileConfig) set(key string, value any) error {
	switch key {
	case "input", "name", "schemadir":
		str, err := valueAsString(value)
		if err != nil {
			return err
		}
		switch key {
		case "input":
			fc.Input = &str
		case "name":
			fc.Name = &str
		default:
			fc.SchemaDir = &str
		}
	case "functions":
		list, err := valueAsStringSlice(value)
		if err != nil {
			return err
		}
		fc.Functions = sanitizeList(list)
	case "headers":
		headers, err := valueAsStringMap(value)
		if err != nil {
			return err
		}
		fc.Headers = headers
	case "writenew", "dryrun", "print", "verbose":
		val, err := valueAsBool(value)
		if err != nil {
			return err
		}
		switch key {
		case "writenew":
			fc.WriteNew = &val
		case "dryrun":
			fc.DryRun = &val
		case "print":
			fc.Print = &val
		default:
			fc.Verbose = &val
		}
	default:
		return errUnknownKey
	}
	return nil
}

func normalizeKey(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.ReplaceAll(lowered, "-", "")
	lowered = strings.ReplaceAll(lowered, "_", "")
	return lowered
}

func valueAsString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func valueAsStringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		return splitAndTrim(val), nil
	case []any:
		items := make([]string, 0, len(val))
		for idx, elem := range val {
			str, err := valueAsString(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", idx, err)
			}
			if str != "" {
				items = append(items, str)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", v)
	}
}

func valueAsStringMap(v any) (map[string]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		out := make(map[string]string, len(val))
		for k, elem := range val {
			str, err := valueAsString(elem)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected mapping, got %T", v)
	}
}

func valueAsBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(val))
		switch trimmed {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		case "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean value %q", val)
		}
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func sanitizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
