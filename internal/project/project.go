// Package project reads SFDX project metadata and derives the source
// directories the dev server watches and compiles from.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// FileName is the SFDX project descriptor.
const FileName = "sfdx-project.json"

// DefaultNamespace is the namespace custom components are imported under.
const DefaultNamespace = "c"

var apiVersionPattern = regexp.MustCompile(`^\d+\.0$`)

// PackageDirectory is one entry of packageDirectories.
type PackageDirectory struct {
	Path    string `json:"path"`
	Default bool   `json:"default"`
}

type descriptor struct {
	PackageDirectories []PackageDirectory `json:"packageDirectories"`
	Namespace          string             `json:"namespace"`
	SourceAPIVersion   string             `json:"sourceApiVersion"`
	LoginURL           string             `json:"sfdcLoginUrl"`
}

// Project is a loaded project directory.
type Project struct {
	Dir                string
	SFDX               bool
	PackageDirectories []PackageDirectory
	PackageNamespace   string
	SourceAPIVersion   string
	LoginURL           string
}

// Load reads dir/sfdx-project.json. A directory without the descriptor is
// still a project, with its sources under "src".
func Load(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project dir: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project dir %s is not a directory", abs)
	}

	data, err := os.ReadFile(filepath.Join(abs, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return &Project{Dir: abs}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	return Parse(abs, data)
}

// Parse builds a project rooted at dir from descriptor bytes.
func Parse(dir string, data []byte) (*Project, error) {
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if len(d.PackageDirectories) == 0 {
		return nil, fmt.Errorf("%s declares no packageDirectories", FileName)
	}
	for _, pkg := range d.PackageDirectories {
		if pkg.Path == "" || filepath.IsAbs(pkg.Path) {
			return nil, fmt.Errorf("%s: invalid package directory %q", FileName, pkg.Path)
		}
	}
	if d.SourceAPIVersion != "" && !apiVersionPattern.MatchString(d.SourceAPIVersion) {
		return nil, fmt.Errorf("%s: invalid sourceApiVersion %q", FileName, d.SourceAPIVersion)
	}

	return &Project{
		Dir:                dir,
		SFDX:               true,
		PackageDirectories: d.PackageDirectories,
		PackageNamespace:   d.Namespace,
		SourceAPIVersion:   d.SourceAPIVersion,
		LoginURL:           d.LoginURL,
	}, nil
}

// Name is the project directory's base name.
func (p *Project) Name() string {
	return filepath.Base(p.Dir)
}

// DefaultPackageDir returns the package directory marked default, or the
// first one.
func (p *Project) DefaultPackageDir() string {
	for _, pkg := range p.PackageDirectories {
		if pkg.Default {
			return filepath.Join(p.Dir, pkg.Path)
		}
	}
	if len(p.PackageDirectories) > 0 {
		return filepath.Join(p.Dir, p.PackageDirectories[0].Path)
	}
	return p.Dir
}

// ModuleSourceDir is the directory source files may be served from.
func (p *Project) ModuleSourceDir() string {
	if !p.SFDX {
		return filepath.Join(p.Dir, "src")
	}
	return filepath.Join(p.DefaultPackageDir(), "main", "default")
}

// CustomLabelsPath is where SFDX keeps the custom labels file.
func (p *Project) CustomLabelsPath() string {
	return filepath.Join(p.ModuleSourceDir(), "labels", "CustomLabels.labels-meta.xml")
}

// StaticResourcesDirs lists staticresources directories of every package.
func (p *Project) StaticResourcesDirs() []string {
	return p.metadataDirs("staticresources")
}

// ContentAssetsDirs lists contentassets directories of every package.
func (p *Project) ContentAssetsDirs() []string {
	return p.metadataDirs("contentassets")
}

func (p *Project) metadataDirs(kind string) []string {
	if !p.SFDX {
		return []string{filepath.Join(p.Dir, kind)}
	}
	dirs := make([]string, 0, len(p.PackageDirectories))
	for _, pkg := range p.PackageDirectories {
		dirs = append(dirs, filepath.Join(p.Dir, pkg.Path, "main", "default", kind))
	}
	return dirs
}

// Metadata is what the browser sees as window.LocalDev.project.
type Metadata struct {
	Name             string `json:"projectName"`
	Namespace        string `json:"namespace"`
	SourceAPIVersion string `json:"sourceApiVersion,omitempty"`
	SFDX             bool   `json:"isSfdx"`
}

// Metadata summarizes the project for the client runtime.
func (p *Project) Metadata(namespace string) Metadata {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Metadata{
		Name:             p.Name(),
		Namespace:        namespace,
		SourceAPIVersion: p.SourceAPIVersion,
		SFDX:             p.SFDX,
	}
}
