package services

import (
	"context"
	"strings"

	"github.com/conneroisu/localdev/internal/build"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/types"
)

// VersionLookup supplies the build version key embedded in asset URLs.
type VersionLookup interface {
	BuildVersionKey() string
}

// VersionKey is a fixed VersionLookup.
type VersionKey string

func (k VersionKey) BuildVersionKey() string { return string(k) }

// ResourceURLService rewrites static resource and content asset specifiers
// into asset URLs. The version key is read once; changing it needs a restart.
type ResourceURLService struct {
	versionKey string
}

// NewResourceURLService reads the version key from lookup.
func NewResourceURLService(lookup VersionLookup) *ResourceURLService {
	return &ResourceURLService{versionKey: lookup.BuildVersionKey()}
}

func (s *ResourceURLService) Name() string { return "resource-url" }

func (s *ResourceURLService) Mappings() []specifier.Mapping {
	return []specifier.Mapping{
		{Prefix: specifier.ResourceURLPrefix, URITemplate: "/webruntime/resourceUrl/{mode}/{locale}/*"},
		{Prefix: specifier.ContentAssetURLPrefix, URITemplate: "/webruntime/contentAssetUrl/{mode}/{locale}/*"},
	}
}

func (s *ResourceURLService) Initialize(context.Context) error { return nil }

// Resolve maps a specifier to its asset URL. ok is false for anything
// outside the two owned prefixes.
func (s *ResourceURLService) Resolve(spec string) (string, bool) {
	var kind build.AssetKind
	var name string
	switch {
	case strings.HasPrefix(spec, specifier.ResourceURLPrefix):
		kind, name = build.StaticResources, strings.TrimPrefix(spec, specifier.ResourceURLPrefix)
	case strings.HasPrefix(spec, specifier.ContentAssetURLPrefix):
		kind, name = build.ContentAssets, strings.TrimPrefix(spec, specifier.ContentAssetURLPrefix)
	default:
		return "", false
	}
	if name == "" {
		return "", false
	}
	return "/assets/project/" + s.versionKey + "/" + string(kind) + "/" + name, true
}

// Request returns a module exporting the asset URL.
func (s *ResourceURLService) Request(_ context.Context, spec string, _ types.Params) (*types.Resource, error) {
	url, ok := s.Resolve(spec)
	if !ok {
		return nil, nil
	}
	return &types.Resource{
		Type:      types.ResourceComponent,
		Specifier: spec,
		Code:      exportDefault(url),
		Success:   true,
	}, nil
}

func (s *ResourceURLService) Close() error { return nil }
