// Package proxy forwards the browser's API calls to the authenticated org.
package proxy

import (
	"regexp"
	"strings"
)

// DefaultPrefix is the local path under which org API calls arrive.
const DefaultPrefix = "/webruntime/api"

var versionSegment = regexp.MustCompile(`^v\d+\.0$`)

// Rewriter turns a local API path into the path the org expects.
type Rewriter struct {
	Prefix     string
	APIVersion string
}

// NewRewriter creates a rewriter for the default prefix.
func NewRewriter(apiVersion string) Rewriter {
	return Rewriter{Prefix: DefaultPrefix, APIVersion: apiVersion}
}

// Rewrite strips the local prefix when present and pins every version
// segment ("v49.0") to the configured API version. Applying it to its own
// output returns the same path.
func (r Rewriter) Rewrite(path string) string {
	if r.Prefix != "" && (path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/")) {
		path = strings.TrimPrefix(path, r.Prefix)
		if path == "" {
			path = "/"
		}
	}

	if r.APIVersion == "" {
		return path
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if versionSegment.MatchString(seg) {
			segments[i] = "v" + r.APIVersion
		}
	}
	return strings.Join(segments, "/")
}
