// Package compiler defines the contract with the external module compiler.
//
// The compiler is a black box: it may be slow and it may return nothing at
// all. Callers always pass a context and treat a nil Output with a nil error
// as "the compiler stayed silent".
package compiler

//go:generate mockgen -source=compiler.go -destination=mocks/mock_compiler.go -package=mocks

import (
	"context"

	"github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/types"
)

// Request describes one module to compile. Either BaseDir (a component bundle
// on disk) or Files (synthetic sources keyed by file name) is set.
type Request struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	BaseDir   string            `json:"baseDir,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
	Mode      types.Mode        `json:"mode"`
	Locale    string            `json:"locale,omitempty"`
}

// Output is the compiler's answer.
type Output struct {
	Result      string              `json:"result"`
	Metadata    types.Metadata      `json:"metadata"`
	Diagnostics []errors.Diagnostic `json:"diagnostics"`
	Success     bool                `json:"success"`
}

// Compiler compiles a single module.
type Compiler interface {
	Compile(ctx context.Context, req Request) (*Output, error)
}

// Func adapts a function to the Compiler interface.
type Func func(ctx context.Context, req Request) (*Output, error)

// Compile calls f.
func (f Func) Compile(ctx context.Context, req Request) (*Output, error) {
	return f(ctx, req)
}
