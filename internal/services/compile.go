package services

import (
	"context"
	"encoding/json"

	"github.com/conneroisu/localdev/internal/build"
	"github.com/conneroisu/localdev/internal/compiler"
	"github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/types"
)

// syntheticNamespace is passed to the compiler for generated modules.
const syntheticNamespace = "salesforce"

// exportDefault renders a module whose default export is value.
func exportDefault(value any) string {
	return "export default " + jsLiteral(value) + ";"
}

// jsLiteral renders value as a JavaScript literal.
func jsLiteral(value any) string {
	literal, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(literal)
}

// syntheticCompute compiles a generated single-file module.
func syntheticCompute(c compiler.Compiler, spec, name, source string, params types.Params) build.ComputeFunc {
	return func(ctx context.Context) (*types.Resource, error) {
		out, err := c.Compile(ctx, compiler.Request{
			Name:      name,
			Namespace: syntheticNamespace,
			Files:     map[string]string{name + ".js": source},
			Mode:      params.Mode,
			Locale:    params.Locale,
		})
		if err != nil || out == nil {
			return nil, err
		}
		return toResource(spec, "", out), nil
	}
}

// toResource turns compiler output into a compiled resource. A fatal
// diagnostic yields a JSON error payload instead of a module.
func toResource(spec, baseDir string, out *compiler.Output) *types.Resource {
	if d, fatal := errors.FirstFatal(out.Diagnostics); fatal {
		return &types.Resource{
			Type:        types.ResourceJSON,
			Specifier:   spec,
			Payload:     errors.NewPayload(d, baseDir),
			Metadata:    out.Metadata,
			Success:     false,
			Diagnostics: out.Diagnostics,
		}
	}
	return &types.Resource{
		Type:        types.ResourceComponent,
		Specifier:   spec,
		Code:        out.Result,
		Metadata:    out.Metadata,
		Success:     out.Success,
		Diagnostics: out.Diagnostics,
	}
}
