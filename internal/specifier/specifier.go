// Package specifier maps module specifiers onto the addressable service that
// owns them and onto component source directories.
//
// A specifier is an opaque, immutable string such as "c/myComponent" or
// "@salesforce/label/c.greeting". Nothing here holds state beyond the
// registrations made at startup.
package specifier

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Namespace prefixes owned by the built-in services.
const (
	LabelPrefix            = "@salesforce/label/"
	ResourceURLPrefix      = "@salesforce/resourceUrl/"
	ContentAssetURLPrefix  = "@salesforce/contentAssetUrl/"
	ApexContinuationPrefix = "@salesforce/apexContinuation/"
	MessageChannelPrefix   = "@salesforce/messageChannel/"
)

// ErrInvalidSpecifier is returned for specifiers that do not have the
// namespace/name shape.
var ErrInvalidSpecifier = errors.New("Invalid specifier for custom component")

// Mapping declares that a specifier prefix is served under a URI template.
// URITemplate uses chi route syntax; the trailing wildcard or the {name}
// parameter carries the remainder of the specifier.
type Mapping struct {
	Prefix      string
	URITemplate string
}

type owner struct {
	name     string
	mappings []Mapping
}

// Resolver finds the owner of a specifier by prefix. Owners are tested in
// registration order and the first match wins.
type Resolver struct {
	mu     sync.RWMutex
	owners []owner
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Register adds an owner with its mappings.
func (r *Resolver) Register(name string, mappings ...Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, owner{name: name, mappings: mappings})
}

// Resolve returns the owner of spec and the part of spec after the matched
// prefix. ok is false when no owner claims the specifier, so the caller can
// fall through to another handler.
func (r *Resolver) Resolve(spec string) (name string, remainder string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.owners {
		for _, m := range o.mappings {
			if m.Prefix != "" && strings.HasPrefix(spec, m.Prefix) {
				return o.name, strings.TrimPrefix(spec, m.Prefix), true
			}
		}
	}
	return "", "", false
}

// Owners lists the registered owner names in order.
func (r *Resolver) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.owners))
	for _, o := range r.owners {
		names = append(names, o.name)
	}
	return names
}

// SplitComponent splits a custom component specifier "namespace/name".
func SplitComponent(spec string) (namespace, name string, err error) {
	namespace, name, found := strings.Cut(spec, "/")
	if !found || namespace == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidSpecifier, spec)
	}
	return namespace, name, nil
}

// ParseLabel splits the part of a label specifier after the prefix.
//
//	""        -> all labels
//	"c.*"     -> section "c"
//	"c.hello" -> section "c", name "hello"
func ParseLabel(remainder string) (section, name string) {
	if remainder == "" {
		return "", ""
	}
	section, name, found := strings.Cut(remainder, ".")
	if !found {
		return remainder, ""
	}
	if name == "*" {
		name = ""
	}
	return section, name
}
