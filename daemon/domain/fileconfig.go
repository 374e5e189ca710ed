package domain

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigPath is the standard location for an optional config file.
const DefaultConfigPath = "/etc/mcp-gateway/config.yml"

// FileConfig represents the YAML configuration file structure. Values set
// in the config file serve as defaults that can be overridden by CLI flags,
// the same "second default layer" the teacher's
// main.go/applyFileConfig implements.
type FileConfig struct {
	OutputTransport *string `yaml:"output_transport,omitempty"`
	Port            *int    `yaml:"port,omitempty"`
	BaseURL         *string `yaml:"base_url,omitempty"`
	SSEPath         *string `yaml:"sse_path,omitempty"`
	MessagePath     *string `yaml:"message_path,omitempty"`
	HTTPPath        *string `yaml:"http_path,omitempty"`

	CORSOrigin  *string `yaml:"cors_origin,omitempty"`
	ToolTimeout *int    `yaml:"tool_timeout_seconds,omitempty"`

	AllowSingleSessionFallback *bool `yaml:"allow_single_session_fallback,omitempty"`

	LogLevel *string `yaml:"log_level,omitempty"`
	LogsDir  *string `yaml:"logs_dir,omitempty"`
	Debug    *bool   `yaml:"debug,omitempty"`
}

// LoadConfigFile reads and parses a YAML config file.
// Returns nil without error if the file does not exist.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a trusted config file path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}
