package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"github.com/conneroisu/localdev/internal/project"
)

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails checks a loaded configuration against the
// environment it will run in: the project directory, the locale and the org
// settings. Problems that would make the server fail outright are errors.
func ValidateConfigWithDetails(cfg *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	if err := validateConfig(cfg); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "config",
			Message: err.Error(),
		})
	}

	validateServerConfigDetails(&cfg.Server, result)
	validateProjectConfigDetails(&cfg.Project, result)
	validateOrgConfigDetails(&cfg.Org, result)
	validateDevelopmentConfigDetails(&cfg.Development, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateServerConfigDetails(cfg *ServerConfig, result *ValidationResult) {
	if cfg.Port > 0 && cfg.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   cfg.Port,
			Message: "port below 1024 requires elevated privileges",
			Suggestions: []string{
				"Consider using a port above 1024 for development",
			},
		})
	}
}

func validateProjectConfigDetails(cfg *ProjectConfig, result *ValidationResult) {
	if !pathExists(cfg.Dir) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "project.dir",
			Value:   cfg.Dir,
			Message: "project directory does not exist",
		})
		return
	}

	if !pathExists(filepath.Join(cfg.Dir, project.FileName)) && cfg.ModuleSourceDir == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "project.dir",
			Value:   cfg.Dir,
			Message: fmt.Sprintf("no %s found; sources are expected under src/", project.FileName),
			Suggestions: []string{
				"Run the server from the root of an SFDX project",
				"Set project.module_source_dir for a non-SFDX layout",
			},
		})
	}

	if cfg.CustomLabelsPath != "" && !pathExists(resolve(cfg.Dir, cfg.CustomLabelsPath)) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "project.custom_labels_path",
			Value:   cfg.CustomLabelsPath,
			Message: "configured custom labels file does not exist",
		})
	}
}

func validateOrgConfigDetails(cfg *OrgConfig, result *ValidationResult) {
	if cfg.InstanceURL == "" && cfg.Alias == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "org",
			Message: "no org configured; the CLI default org will be used for API calls",
			Suggestions: []string{
				"Pass --target-org or set org.alias",
			},
		})
	}
}

func validateDevelopmentConfigDetails(cfg *DevelopmentConfig, result *ValidationResult) {
	if _, err := language.Parse(strings.ReplaceAll(cfg.Locale, "_", "-")); err != nil {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "development.locale",
			Value:   cfg.Locale,
			Message: "locale is not a valid language tag; labels fall back to en",
		})
	}
	if !cfg.LiveReload {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "development.live_reload",
			Message: "live reload is disabled; browsers will not refresh on change",
		})
	}
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func validateBuildCommand(command string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">"}
	for _, char := range dangerousChars {
		if strings.Contains(command, char) {
			return fmt.Errorf("contains potentially dangerous character: %s", char)
		}
	}

	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command cannot be empty")
	}

	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
