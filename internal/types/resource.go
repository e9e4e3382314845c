// Package types provides the request and compiled-resource types shared by the
// addressable services, the module cache and the HTTP layer.
package types

import (
	"fmt"
	"strings"

	"github.com/conneroisu/localdev/internal/errors"
)

// Mode selects dev or prod bundling.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", s)
	}
}

// Params accompany every resolution request and are part of every cache key.
type Params struct {
	Mode   Mode
	Locale string
}

// ResourceType tells the HTTP layer how to serve a resource.
type ResourceType string

const (
	ResourceComponent ResourceType = "component"
	ResourceJSON      ResourceType = "json"
)

// Metadata carries what the compiler learned about a module.
type Metadata struct {
	Dependencies   []string `json:"dependencies,omitempty"`
	DynamicImports []string `json:"dynamicImports,omitempty"`
}

// Resource is a compiled module. It is produced once per cache key and never
// modified afterwards; invalidation replaces it wholesale.
type Resource struct {
	Type        ResourceType        `json:"type"`
	Specifier   string              `json:"specifier"`
	Code        string              `json:"code,omitempty"`
	Payload     *errors.Payload     `json:"payload,omitempty"`
	Metadata    Metadata            `json:"metadata"`
	Success     bool                `json:"success"`
	Diagnostics []errors.Diagnostic `json:"diagnostics,omitempty"`
}

// Failure builds a diagnostic-only resource.
func Failure(specifier string, diagnostics ...errors.Diagnostic) *Resource {
	return &Resource{
		Type:        ResourceComponent,
		Specifier:   specifier,
		Success:     false,
		Diagnostics: diagnostics,
	}
}

// CompilerSilent is returned when the compiler produced no result at all.
func CompilerSilent(specifier string) *Resource {
	return Failure(specifier, errors.Diagnostic{
		Code:    errors.CodeCompilerSilent,
		Message: errors.MessageCompilerSilent,
		Level:   errors.ErrorSeverityFatal,
	})
}
