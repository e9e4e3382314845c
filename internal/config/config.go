// Package config loads the dev server configuration through Viper from a
// YAML file, LOCALDEV_ environment variables and command-line flags.
//
// Every key has a default registered with SetDefaults, so environment
// overrides work for keys the config file never mentions.
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	lderrors "github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/types"
)

var apiVersionPattern = regexp.MustCompile(`^\d+\.0$`)

type Config struct {
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Project     ProjectConfig     `yaml:"project" mapstructure:"project"`
	Build       BuildConfig       `yaml:"build" mapstructure:"build"`
	Org         OrgConfig         `yaml:"org" mapstructure:"org"`
	Development DevelopmentConfig `yaml:"development" mapstructure:"development"`
}

type ServerConfig struct {
	Host      string `yaml:"host" mapstructure:"host"`
	Port      int    `yaml:"port" mapstructure:"port"`
	Open      bool   `yaml:"open" mapstructure:"open"`
	APIPrefix string `yaml:"api_prefix" mapstructure:"api_prefix"`
}

type ProjectConfig struct {
	Dir                 string   `yaml:"dir" mapstructure:"dir"`
	Namespace           string   `yaml:"namespace" mapstructure:"namespace"`
	CustomLabelsPath    string   `yaml:"custom_labels_path" mapstructure:"custom_labels_path"`
	StaticResourcesDirs []string `yaml:"static_resources_dirs" mapstructure:"static_resources_dirs"`
	ContentAssetsDirs   []string `yaml:"content_assets_dirs" mapstructure:"content_assets_dirs"`
	ModuleSourceDir     string   `yaml:"module_source_dir" mapstructure:"module_source_dir"`
}

type BuildConfig struct {
	OutputDir       string        `yaml:"output_dir" mapstructure:"output_dir"`
	CompilerCommand string        `yaml:"compiler_command" mapstructure:"compiler_command"`
	CompilerArgs    []string      `yaml:"compiler_args" mapstructure:"compiler_args"`
	CompilerTimeout time.Duration `yaml:"compiler_timeout" mapstructure:"compiler_timeout"`
	Mode            string        `yaml:"mode" mapstructure:"mode"`
	DebounceMS      int           `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

type OrgConfig struct {
	Alias       string `yaml:"alias" mapstructure:"alias"`
	APIVersion  string `yaml:"api_version" mapstructure:"api_version"`
	InstanceURL string `yaml:"instance_url" mapstructure:"instance_url"`
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
}

type DevelopmentConfig struct {
	LiveReload bool   `yaml:"live_reload" mapstructure:"live_reload"`
	Locale     string `yaml:"locale" mapstructure:"locale"`
}

// Debounce is the watcher debounce window.
func (b BuildConfig) Debounce() time.Duration {
	return time.Duration(b.DebounceMS) * time.Millisecond
}

// ParsedMode returns the validated build mode.
func (b BuildConfig) ParsedMode() types.Mode {
	mode, err := types.ParseMode(b.Mode)
	if err != nil {
		return types.ModeDev
	}
	return mode
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Org.AccessToken != "" {
		out.Org.AccessToken = "********"
	}
	return &out
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3333)
	v.SetDefault("server.open", false)
	v.SetDefault("server.api_prefix", "/webruntime/api")

	v.SetDefault("project.dir", ".")
	v.SetDefault("project.namespace", "c")
	v.SetDefault("project.custom_labels_path", "")
	v.SetDefault("project.static_resources_dirs", []string{})
	v.SetDefault("project.content_assets_dirs", []string{})
	v.SetDefault("project.module_source_dir", "")

	v.SetDefault("build.output_dir", ".localdevserver")
	v.SetDefault("build.compiler_command", "lwc-compile")
	v.SetDefault("build.compiler_args", []string{})
	v.SetDefault("build.compiler_timeout", "60s")
	v.SetDefault("build.mode", string(types.ModeDev))
	v.SetDefault("build.debounce_ms", 100)

	v.SetDefault("org.alias", "")
	v.SetDefault("org.api_version", "")
	v.SetDefault("org.instance_url", "")
	v.SetDefault("org.access_token", "")

	v.SetDefault("development.live_reload", true)
	v.SetDefault("development.locale", "en")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, lderrors.NewConfigError("config", err)
	}

	cfg.Build.Mode = strings.ToLower(cfg.Build.Mode)
	if cfg.Development.Locale == "" {
		cfg.Development.Locale = "en"
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if err := validateServerConfig(&cfg.Server); err != nil {
		return err
	}
	if err := validateProjectConfig(&cfg.Project); err != nil {
		return err
	}
	if err := validateBuildConfig(&cfg.Build); err != nil {
		return err
	}
	return validateOrgConfig(&cfg.Org)
}

func validateServerConfig(cfg *ServerConfig) error {
	// 0 lets the system pick a port, which tests rely on
	if cfg.Port < 0 || cfg.Port > 65535 {
		return lderrors.NewConfigError("server.port", fmt.Errorf("port %d is not in valid range 0-65535", cfg.Port))
	}
	if cfg.Host != "" {
		if err := validateHostname(cfg.Host); err != nil {
			return lderrors.NewConfigError("server.host", err)
		}
	}
	if cfg.APIPrefix != "" && !strings.HasPrefix(cfg.APIPrefix, "/") {
		return lderrors.NewConfigError("server.api_prefix", fmt.Errorf("must start with /: %s", cfg.APIPrefix))
	}
	return nil
}

func validateProjectConfig(cfg *ProjectConfig) error {
	if cfg.Namespace == "" || strings.ContainsAny(cfg.Namespace, "/. ") {
		return lderrors.NewConfigError("project.namespace", fmt.Errorf("invalid namespace %q", cfg.Namespace))
	}
	for _, dir := range append(append([]string{}, cfg.StaticResourcesDirs...), cfg.ContentAssetsDirs...) {
		if err := validatePath(dir); err != nil {
			return lderrors.NewConfigError("project", fmt.Errorf("asset dir %q: %w", dir, err))
		}
	}
	return nil
}

func validateBuildConfig(cfg *BuildConfig) error {
	if cfg.OutputDir == "" {
		return lderrors.NewConfigError("build.output_dir", fmt.Errorf("cannot be empty"))
	}
	clean := filepath.Clean(cfg.OutputDir)
	if filepath.IsAbs(clean) {
		return lderrors.NewConfigError("build.output_dir", fmt.Errorf("should be relative path: %s", cfg.OutputDir))
	}
	if strings.Contains(clean, "..") {
		return lderrors.NewConfigError("build.output_dir", fmt.Errorf("contains path traversal: %s", cfg.OutputDir))
	}
	if _, err := types.ParseMode(cfg.Mode); err != nil {
		return lderrors.NewConfigError("build.mode", err)
	}
	if err := validateBuildCommand(cfg.CompilerCommand); err != nil {
		return lderrors.NewConfigError("build.compiler_command", err)
	}
	if cfg.DebounceMS < 0 {
		return lderrors.NewConfigError("build.debounce_ms", fmt.Errorf("must not be negative: %d", cfg.DebounceMS))
	}
	if cfg.CompilerTimeout < 0 {
		return lderrors.NewConfigError("build.compiler_timeout", fmt.Errorf("must not be negative: %s", cfg.CompilerTimeout))
	}
	return nil
}

func validateOrgConfig(cfg *OrgConfig) error {
	if cfg.APIVersion != "" && !apiVersionPattern.MatchString(cfg.APIVersion) {
		return lderrors.NewConfigError("org.api_version", fmt.Errorf("expected a version like 58.0, got %q", cfg.APIVersion))
	}
	if (cfg.InstanceURL == "") != (cfg.AccessToken == "") {
		return lderrors.NewConfigError("org", fmt.Errorf("instance_url and access_token must be set together"))
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}
