package build

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/localdev/internal/logging"
)

// AssetKind is the URL segment a static source directory is served under.
type AssetKind string

const (
	StaticResources AssetKind = "staticresources"
	ContentAssets   AssetKind = "contentassets"
)

// AssetSource is a project directory holding static resources or content
// assets.
type AssetSource struct {
	Kind AssetKind
	Dir  string
}

// StaticBuilder copies project static resources into the served asset tree
// at <output>/assets/<kind>/<name>.
type StaticBuilder struct {
	sources   []AssetSource
	outputDir string
	logger    logging.Logger
}

// NewStaticBuilder creates a builder writing below outputDir.
func NewStaticBuilder(outputDir string, sources []AssetSource, logger logging.Logger) *StaticBuilder {
	return &StaticBuilder{
		sources:   append([]AssetSource(nil), sources...),
		outputDir: outputDir,
		logger:    logger.WithComponent("static-builder"),
	}
}

// AssetsDir is the root the asset route serves from.
func (b *StaticBuilder) AssetsDir() string {
	return filepath.Join(b.outputDir, "assets")
}

// Dirs returns the watched source directories.
func (b *StaticBuilder) Dirs() []string {
	dirs := make([]string, 0, len(b.sources))
	for _, src := range b.sources {
		dirs = append(dirs, src.Dir)
	}
	return dirs
}

// BuildAll copies every resource of every source.
func (b *StaticBuilder) BuildAll(ctx context.Context) error {
	for _, src := range b.sources {
		entries, err := os.ReadDir(src.Dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", src.Dir, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if isMetaFile(entry.Name()) {
				continue
			}
			if err := b.copyResource(src, entry.Name()); err != nil {
				return err
			}
		}
	}
	b.logger.Info(ctx, "Static resources built", "output", b.AssetsDir())
	return nil
}

// Rebuild copies the resource containing path. Paths outside every source
// are ignored.
func (b *StaticBuilder) Rebuild(ctx context.Context, path string) error {
	src, top, ok := b.owner(path)
	if !ok {
		return nil
	}
	if isMetaFile(top) {
		top = strings.TrimSuffix(top, "-meta.xml")
		if _, err := os.Stat(filepath.Join(src.Dir, top)); err != nil {
			return nil
		}
	}
	if err := b.copyResource(src, top); err != nil {
		return err
	}
	b.logger.Debug(ctx, "Static resource rebuilt", "kind", src.Kind, "resource", resourceName(top))
	return nil
}

// owner finds the source containing path and the top-level entry below it.
func (b *StaticBuilder) owner(path string) (AssetSource, string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return AssetSource{}, "", false
	}
	for _, src := range b.sources {
		root, err := filepath.Abs(src.Dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return src, strings.Split(rel, string(filepath.Separator))[0], true
	}
	return AssetSource{}, "", false
}

func (b *StaticBuilder) copyResource(src AssetSource, entry string) error {
	from := filepath.Join(src.Dir, entry)
	to := filepath.Join(b.AssetsDir(), string(src.Kind), resourceName(entry))

	info, err := os.Stat(from)
	if err != nil {
		return fmt.Errorf("static resource %s: %w", from, err)
	}
	if !info.IsDir() {
		return copyFile(from, to)
	}

	return filepath.WalkDir(from, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(filepath.Join(to, rel), 0o755)
		}
		return copyFile(path, filepath.Join(to, rel))
	})
}

// resourceName drops the file extension: chartJs.js is served as chartJs.
func resourceName(entry string) string {
	if i := strings.Index(entry, "."); i > 0 {
		return entry[:i]
	}
	return entry
}

func isMetaFile(name string) bool {
	return strings.HasSuffix(name, "-meta.xml")
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
