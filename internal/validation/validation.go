// Package validation provides the input checks applied before values reach a
// child process, the file system or the browser launcher.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// shellMeta are characters a shell would interpret.
const shellMeta = ";&|$`()<>\\\"'"

func firstOf(s, chars string) (rune, bool) {
	i := strings.IndexAny(s, chars)
	if i < 0 {
		return 0, false
	}
	return []rune(s[i:])[0], true
}

// ValidateArgument rejects process arguments with shell metacharacters or
// parent directory references.
func ValidateArgument(arg string) error {
	if c, ok := firstOf(arg, shellMeta); ok {
		return fmt.Errorf("contains dangerous character: %c", c)
	}
	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}
	return nil
}

// ValidateCommand checks command against allowed.
func ValidateCommand(command string, allowed map[string]bool) error {
	switch {
	case command == "":
		return fmt.Errorf("command cannot be empty")
	case !allowed[command]:
		return fmt.Errorf("command '%s' is not allowed", command)
	}
	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}
	return nil
}

// ValidatePathWithin resolves path against root and fails unless the result
// stays inside root. It returns the cleaned absolute path.
func ValidatePathWithin(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains NUL byte")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(rootAbs, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(rootAbs, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, root)
	}
	return candidate, nil
}

// ValidateFileExtension accepts filename only when its extension is one of
// allowed, compared case-insensitively.
func ValidateFileExtension(filename string, allowed []string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file must have an extension")
	}
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			return nil
		}
	}
	return fmt.Errorf("file extension '%s' is not allowed", ext)
}

// ValidateURL accepts absolute http(s) URLs that are safe to hand to the
// browser launcher or to use as a proxy target.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if c, ok := firstOf(rawURL, shellMeta+" \n\r"); ok {
		return fmt.Errorf("URL contains dangerous character: %q", c)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	return nil
}
