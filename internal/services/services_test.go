package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/localdev/internal/compiler"
)

// echoCompiler returns the single synthetic source unchanged, or a marker
// naming the bundle directory for components.
var echoCompiler = compiler.Func(func(_ context.Context, req compiler.Request) (*compiler.Output, error) {
	return echo(req), nil
})

func echo(req compiler.Request) *compiler.Output {
	for _, src := range req.Files {
		return &compiler.Output{Result: src, Success: true}
	}
	return &compiler.Output{Result: "// compiled " + req.Namespace + "/" + req.Name, Success: true}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
