package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the secretops.yaml structure
type Definition struct {
	Version       int                       `yaml:"version" json:"version"`
	DefaultWriter string                    `yaml:"default_writer,omitempty" json:"default_writer,omitempty"`
	Providers     map[string]ProviderConfig `yaml:"providers" json:"providers"`
}

// ProviderConfig holds provider-specific configuration
type ProviderConfig struct {
	Type     string                 `yaml:"type" json:"type"`
	Priority int                    `yaml:"priority" json:"priority"`
	Config   map[string]interface{} `yaml:",inline" json:"config,omitempty"`
}

// Load reads, parses, and schema-validates the secretops.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a secretops.yaml with a providers section, or pass --config",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 1 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of your secretops.yaml file",
		}
	}

	if err := validateWithSchema(&def); err != nil {
		return err
	}

	if def.DefaultWriter != "" {
		if _, ok := def.Providers[def.DefaultWriter]; !ok {
			return dserrors.ConfigError{
				Field:      "default_writer",
				Value:      def.DefaultWriter,
				Message:    "default_writer does not name a declared provider",
				Suggestion: fmt.Sprintf("Available providers: %s", strings.Join(providerNames(def.Providers), ", ")),
			}
		}
	}

	c.Definition = &def
	return nil
}

// GetProvider returns the configuration for a provider
func (c *Config) GetProvider(name string) (ProviderConfig, error) {
	if c.Definition == nil {
		return ProviderConfig{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	if p, ok := c.Definition.Providers[name]; ok {
		return p, nil
	}

	suggestion := "Add the provider to the 'providers:' section of your secretops.yaml"
	if available := providerNames(c.Definition.Providers); len(available) > 0 {
		suggestion = fmt.Sprintf("Available providers: %s. %s", strings.Join(available, ", "), suggestion)
	}

	return ProviderConfig{}, dserrors.ConfigError{
		Field:      "provider",
		Value:      name,
		Message:    "provider not found in configuration",
		Suggestion: suggestion,
	}
}

// ProviderNames returns the declared provider names, sorted by descending
// priority then name so output order matches resolution order.
func (c *Config) ProviderNames() []string {
	if c.Definition == nil {
		return nil
	}
	names := providerNames(c.Definition.Providers)
	sort.SliceStable(names, func(i, j int) bool {
		pi := c.Definition.Providers[names[i]].Priority
		pj := c.Definition.Providers[names[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})
	return names
}

func providerNames(providers map[string]ProviderConfig) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// definitionSchema constrains the parts of the config shape that a struct
// unmarshal alone would let slide, like non-integer priorities and empty
// provider types.
const definitionSchema = `{
  "type": "object",
  "required": ["version", "providers"],
  "properties": {
    "version": {"type": "integer"},
    "default_writer": {"type": "string"},
    "providers": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "priority": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

func validateWithSchema(def *Definition) error {
	jsonData, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal config for validation: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return dserrors.ConfigError{
			Message:    fmt.Sprintf("configuration failed schema validation:\n  - %s", strings.Join(errorMessages, "\n  - ")),
			Suggestion: "Fix the listed fields in secretops.yaml",
		}
	}

	return nil
}
