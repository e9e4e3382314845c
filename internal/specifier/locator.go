package specifier

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ComponentExtensions are the files a component bundle may contain.
var ComponentExtensions = []string{".js", ".html", ".css", ".js-meta.xml"}

// segmentPattern limits the names spliced into the bundle glob to characters
// that carry no glob meaning.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Root maps a custom namespace onto a source directory. Mapped is the
// directory name components live under inside Dir (for SFDX projects "lwc").
type Root struct {
	Dir    string
	Mapped string
}

// ComponentLocator finds component bundles on disk.
type ComponentLocator struct {
	roots map[string]Root
}

// NewComponentLocator creates a locator for the given namespace roots.
func NewComponentLocator(roots map[string]Root) *ComponentLocator {
	copied := make(map[string]Root, len(roots))
	for ns, root := range roots {
		copied[ns] = root
	}
	return &ComponentLocator{roots: copied}
}

// Namespaces returns the mapped custom namespaces, sorted.
func (l *ComponentLocator) Namespaces() []string {
	names := make([]string, 0, len(l.roots))
	for ns := range l.roots {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// Root returns the root for a namespace.
func (l *ComponentLocator) Root(namespace string) (Root, bool) {
	root, ok := l.roots[namespace]
	return root, ok
}

// Locate returns the directory of namespace/name, or "" when no bundle matches
// **/<mapped>/<name>/<name>.* under the namespace root.
func (l *ComponentLocator) Locate(namespace, name string) (string, error) {
	root, ok := l.roots[namespace]
	if !ok || !segmentPattern.MatchString(name) || !segmentPattern.MatchString(root.Mapped) {
		return "", nil
	}

	pattern := path.Join("**", root.Mapped, name, name+".*")
	matches, err := doublestar.Glob(os.DirFS(root.Dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return "", fmt.Errorf("searching for %s/%s: %w", namespace, name, err)
	}
	if len(matches) == 0 {
		return "", nil
	}

	sort.Strings(matches)
	return filepath.Join(root.Dir, filepath.FromSlash(path.Dir(matches[0]))), nil
}

// FileIn resolves sub inside an already located bundle directory. Paths
// escaping base and missing files resolve to "".
func FileIn(base, sub string) string {
	rel := filepath.Clean(filepath.FromSlash(sub))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}

	candidate := filepath.Join(base, rel)
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return ""
	}
	return candidate
}

// BundleFiles lists the files in a bundle directory with a known extension.
func BundleFiles(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !hasComponentExtension(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(base, entry.Name()))
	}
	return files, nil
}

// Owner maps a source file path back to the namespace/name bundle containing
// it. ok is false for files outside every namespace root.
func (l *ComponentLocator) Owner(file string) (namespace, name string, ok bool) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", "", false
	}

	for ns, root := range l.roots {
		rootAbs, err := filepath.Abs(root.Dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		for i := 0; i+2 < len(parts); i++ {
			if parts[i] == root.Mapped {
				return ns, parts[i+1], true
			}
		}
	}
	return "", "", false
}

func hasComponentExtension(file string) bool {
	for _, ext := range ComponentExtensions {
		if strings.HasSuffix(file, ext) {
			return true
		}
	}
	return false
}
