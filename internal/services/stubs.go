package services

import (
	"context"
	"strings"

	"github.com/conneroisu/localdev/internal/build"
	"github.com/conneroisu/localdev/internal/compiler"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/types"
)

// MessageApexContinuationUnsupported is the rejection reason of every Apex
// continuation stub.
const MessageApexContinuationUnsupported = "Apex continuations are not supported by the local development server"

// stubService serves modules that only exist on the platform with a local
// placeholder.
type stubService struct {
	name     string
	prefix   string
	template string
	source   func(name string) string
	compiler compiler.Compiler
	cache    *build.ModuleCache
}

// NewApexContinuationService stubs @salesforce/apexContinuation/ imports with
// a function that always rejects.
func NewApexContinuationService(c compiler.Compiler, logger logging.Logger) Service {
	return newStubService("apex-continuation", specifier.ApexContinuationPrefix, "/webruntime/apexContinuation/{mode}/{locale}/*",
		func(string) string {
			return "export default function () { return Promise.reject(new Error(" +
				jsLiteral(MessageApexContinuationUnsupported) + ")); }"
		}, c, logger)
}

// NewMessageChannelService stubs @salesforce/messageChannel/ imports with an
// object naming the channel.
func NewMessageChannelService(c compiler.Compiler, logger logging.Logger) Service {
	return newStubService("message-channel", specifier.MessageChannelPrefix, "/webruntime/messageChannel/{mode}/{locale}/*",
		func(name string) string {
			return exportDefault(map[string]string{"channel": name})
		}, c, logger)
}

func newStubService(name, prefix, template string, source func(string) string, c compiler.Compiler, logger logging.Logger) *stubService {
	return &stubService{
		name:     name,
		prefix:   prefix,
		template: template,
		source:   source,
		compiler: c,
		cache:    build.NewModuleCache(nil, logger.WithComponent(name)),
	}
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Mappings() []specifier.Mapping {
	return []specifier.Mapping{{Prefix: s.prefix, URITemplate: s.template}}
}

func (s *stubService) Initialize(context.Context) error { return nil }

func (s *stubService) Request(ctx context.Context, spec string, params types.Params) (*types.Resource, error) {
	name := strings.TrimPrefix(spec, s.prefix)
	if name == spec || name == "" {
		return nil, nil
	}
	key := build.Key{Specifier: spec, Mode: params.Mode, Locale: params.Locale}
	return s.cache.GetOrCompile(ctx, key, syntheticCompute(s.compiler, spec, name, s.source(name), params))
}

func (s *stubService) Close() error { return nil }
