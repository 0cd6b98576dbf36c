package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// ScopeRepo collects sources from the whole repository.
	ScopeRepo = "repo"
	// ScopeDir collects only under the representative file's directory.
	ScopeDir = "dir"

	defaultDataRoot = "data"
	defaultRenameTo = "main.c"
)

// Config is the run-level configuration for gradefetch.
type Config struct {
	DataRoot     string `yaml:"data_root"`     // Root staging directory
	RenameTo     string `yaml:"rename_to"`     // Conventional entry-point name at the student root
	KeepOriginal bool   `yaml:"keep_original"` // Also keep the representative under its original name
	ForceRename  bool   `yaml:"force_rename"`  // Duplicate even when the representative already is a .c
	RespectLimit bool   `yaml:"respect_limit"` // Honor the roster's cutoff timestamp
	Scope        string `yaml:"scope"`         // "repo" or "dir"
	Flatten      bool   `yaml:"flatten"`       // Flatten staged files to the student root
	Token        string `yaml:"token"`         // Inline, ${ENV_VAR}, or file path
}

// envVarPattern matches ${VAR_NAME} placeholders.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)}`)

// Load reads and parses a configuration file, applying defaults, expanding
// environment variables and resolving token file paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	cfg := Default()
	if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	cfg.Token = ResolveToken(cfg.Token)
	applyDefaults(cfg)

	if validateErr := validate(cfg); validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// Default returns a configuration with defaults applied and the token taken
// from the GITHUB_TOKEN environment variable if set.
func Default() *Config {
	return &Config{
		DataRoot: defaultDataRoot,
		RenameTo: defaultRenameTo,
		Scope:    ScopeRepo,
		Token:    strings.TrimSpace(os.Getenv("GITHUB_TOKEN")),
	}
}

// SuiteDir returns the staging root for one suite.
func (c *Config) SuiteDir(suite string) string {
	return filepath.Join(c.DataRoot, suite)
}

// FindConfigFile searches for a configuration file in standard locations.
// Returns the path to the first file found or an error if none is found.
func FindConfigFile() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}

	locations := []string{
		".",
		".config",
		"configs",
	}
	if homeDir != "" {
		locations = append(
			locations,
			homeDir,
			filepath.Join(homeDir, ".config"),
		)
	}

	patterns := []string{
		".gradefetch.yaml",
		".gradefetch.yml",
		"gradefetch.yaml",
		"gradefetch.yml",
	}

	for _, loc := range locations {
		for _, pat := range patterns {
			p := filepath.Join(loc, pat)
			if _, statErr := os.Stat(p); statErr == nil {
				return p, nil
			}
		}
	}

	return "", errors.New("config file not found in default locations")
}

// ResolveToken expands environment variable references (${VAR}) and, if the
// resulting string is a path to an existing file, reads the token from the file.
func ResolveToken(raw string) string {
	if raw == "" {
		return raw
	}

	// Expand ${ENV_VAR} references
	resolved := envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		logger.Warnf("Environment variable %q is not set", varName)
		return ""
	})

	// If the resolved value is a path to an existing file, read the token from it
	if _, statErr := os.Stat(resolved); statErr == nil {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			logger.Warnf("Failed to read token file %q: %v", resolved, readErr)
			return resolved
		}
		logger.Infof("Read token from file %q", resolved)
		return strings.TrimSpace(string(data))
	}

	return resolved
}

func applyDefaults(cfg *Config) {
	if cfg.DataRoot == "" {
		cfg.DataRoot = defaultDataRoot
	}
	if cfg.RenameTo == "" {
		cfg.RenameTo = defaultRenameTo
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeRepo
	}
}

// validate checks for required configuration values.
func validate(cfg *Config) error {
	if cfg.Scope != ScopeRepo && cfg.Scope != ScopeDir {
		return fmt.Errorf("scope must be %q or %q, got %q", ScopeRepo, ScopeDir, cfg.Scope)
	}
	return nil
}
