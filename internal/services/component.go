package services

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/conneroisu/localdev/internal/build"
	"github.com/conneroisu/localdev/internal/compiler"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/types"
)

// ComponentNamespace is the namespace the compiler sees for custom
// components, whatever their project namespace.
const ComponentNamespace = "lwc"

// ComponentService compiles custom components from the project source tree.
type ComponentService struct {
	locator      *specifier.ComponentLocator
	compiler     compiler.Compiler
	cache        *build.ModuleCache
	fingerprints *build.Fingerprinter
	outputDir    string
	logger       logging.Logger
}

// NewComponentService creates the service. Dev-mode output is written below
// outputDir/components so the browser-facing build directory never holds a
// module whose latest compile failed. An empty outputDir disables artifacts.
func NewComponentService(locator *specifier.ComponentLocator, c compiler.Compiler, outputDir string, logger logging.Logger) *ComponentService {
	s := &ComponentService{
		locator:      locator,
		compiler:     c,
		fingerprints: build.NewFingerprinter(),
		outputDir:    outputDir,
		logger:       logger.WithComponent("components"),
	}
	var artifacts build.ArtifactFunc
	if outputDir != "" {
		artifacts = s.ArtifactPath
	}
	s.cache = build.NewModuleCache(artifacts, s.logger)
	return s
}

func (s *ComponentService) Name() string { return "component" }

// Mappings returns one mapping per custom namespace.
func (s *ComponentService) Mappings() []specifier.Mapping {
	namespaces := s.locator.Namespaces()
	mappings := make([]specifier.Mapping, 0, len(namespaces))
	for _, ns := range namespaces {
		mappings = append(mappings, specifier.Mapping{
			Prefix:      ns + "/",
			URITemplate: "/webruntime/component/{mode}/{locale}/" + ns + "/*",
		})
	}
	return mappings
}

func (s *ComponentService) Initialize(context.Context) error { return nil }

// ArtifactPath is where the dev-mode output of key is written.
func (s *ComponentService) ArtifactPath(key build.Key) (string, bool) {
	if key.Mode != types.ModeDev {
		return "", false
	}
	ns, name, err := specifier.SplitComponent(key.Specifier)
	if err != nil {
		return "", false
	}
	locale := key.Locale
	if locale == "" {
		locale = "default"
	}
	return filepath.Join(s.outputDir, "components", string(key.Mode), locale, ns, name+".js"), true
}

// Request compiles namespace/name. A specifier of any other shape is a
// programmer error and returns an error wrapping
// specifier.ErrInvalidSpecifier. Unknown components yield (nil, nil).
func (s *ComponentService) Request(ctx context.Context, spec string, params types.Params) (*types.Resource, error) {
	ns, name, err := specifier.SplitComponent(spec)
	if err != nil {
		return nil, err
	}

	baseDir, err := s.locator.Locate(ns, name)
	if err != nil {
		return nil, err
	}
	if baseDir == "" {
		return nil, nil
	}
	if specifier.FileIn(baseDir, "./"+name+".js") == "" {
		s.logger.Debug(ctx, "Component has no JavaScript entry", "specifier", spec, "dir", baseDir)
		return nil, nil
	}

	files, err := specifier.BundleFiles(baseDir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", spec, err)
	}

	key := build.Key{
		Specifier:   spec,
		Mode:        params.Mode,
		Locale:      params.Locale,
		Fingerprint: s.fingerprints.Files(files...),
	}

	return s.cache.GetOrCompile(ctx, key, func(ctx context.Context) (*types.Resource, error) {
		out, err := s.compiler.Compile(ctx, compiler.Request{
			Name:      name,
			Namespace: ComponentNamespace,
			BaseDir:   baseDir,
			Mode:      params.Mode,
			Locale:    params.Locale,
		})
		if err != nil || out == nil {
			return nil, err
		}

		res := toResource(spec, baseDir, out)
		if res.Type == types.ResourceJSON {
			s.logger.Warn(ctx, nil, "Component failed to compile",
				"specifier", spec,
				"file", res.Payload.Filename,
				"line", res.Payload.Line,
				"message", res.Payload.Message,
			)
		}
		return res, nil
	})
}

// InvalidatePath drops every compiled variant of the component containing
// path, together with its dev-mode output. It reports whether path belongs
// to a component.
func (s *ComponentService) InvalidatePath(path string) bool {
	ns, name, ok := s.locator.Owner(path)
	if !ok {
		return false
	}
	spec := ns + "/" + name
	removed := s.cache.InvalidateWhere(func(k build.Key) bool { return k.Specifier == spec })
	s.logger.Debug(context.Background(), "Component invalidated", "specifier", spec, "entries", removed)
	return true
}

// SourceDirs returns the source roots of every custom namespace.
func (s *ComponentService) SourceDirs() []string {
	var dirs []string
	for _, ns := range s.locator.Namespaces() {
		if root, ok := s.locator.Root(ns); ok {
			dirs = append(dirs, root.Dir)
		}
	}
	return dirs
}

// CacheStats exposes the component cache counters.
func (s *ComponentService) CacheStats() build.CacheStats {
	return s.cache.Stats()
}

func (s *ComponentService) Close() error { return nil }
