package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lderrors "github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/types"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3333, cfg.Server.Port)
	assert.Equal(t, "/webruntime/api", cfg.Server.APIPrefix)
	assert.Equal(t, ".", cfg.Project.Dir)
	assert.Equal(t, "c", cfg.Project.Namespace)
	assert.Equal(t, ".localdevserver", cfg.Build.OutputDir)
	assert.Equal(t, 60*time.Second, cfg.Build.CompilerTimeout)
	assert.Equal(t, types.ModeDev, cfg.Build.ParsedMode())
	assert.Equal(t, 100*time.Millisecond, cfg.Build.Debounce())
	assert.True(t, cfg.Development.LiveReload)
	assert.Equal(t, "en", cfg.Development.Locale)
}

func TestLoadFrom_Overrides(t *testing.T) {
	t.Setenv("LOCALDEV_BUILD_DEBOUNCE_MS", "250")
	t.Setenv("LOCALDEV_ORG_ALIAS", "scratch")

	v := viper.New()
	v.SetEnvPrefix("LOCALDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.Set("server.port", 8080)
	v.Set("build.mode", "PROD")
	v.Set("project.static_resources_dirs", []string{"force-app/main/default/staticresources"})
	v.Set("development.locale", "fr_CA")

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "prod", cfg.Build.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Build.Debounce())
	assert.Equal(t, "scratch", cfg.Org.Alias)
	assert.Equal(t, []string{"force-app/main/default/staticresources"}, cfg.Project.StaticResourcesDirs)
	assert.Equal(t, "fr_CA", cfg.Development.Locale)
}

func TestLoadFrom_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".localdev.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 4000
project:
  namespace: acme
org:
  api_version: "58.0"
`), 0o644))

	v := viper.New()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "acme", cfg.Project.Namespace)
	assert.Equal(t, "58.0", cfg.Org.APIVersion)
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoadFrom_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value interface{}
		field string
	}{
		{"port too large", "server.port", 70000, "server.port"},
		{"dangerous host", "server.host", "localhost;rm", "server.host"},
		{"relative api prefix", "server.api_prefix", "api", "server.api_prefix"},
		{"absolute output", "build.output_dir", "/tmp/out", "build.output_dir"},
		{"traversal output", "build.output_dir", "../out", "build.output_dir"},
		{"unknown mode", "build.mode", "staging", "build.mode"},
		{"shell in compiler", "build.compiler_command", "node; rm -rf /", "build.compiler_command"},
		{"bad api version", "org.api_version", "v58", "org.api_version"},
		{"namespace with slash", "project.namespace", "c/x", "project.namespace"},
		{"token without url", "org.access_token", "00D!x", "org"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tc.key, tc.value)

			cfg, err := LoadFrom(v)
			require.Error(t, err)
			assert.Nil(t, cfg)

			var cfgErr *lderrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestLoadFrom_UnmarshalError(t *testing.T) {
	v := viper.New()
	v.Set("server.port", "invalid_port")

	_, err := LoadFrom(v)
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := &Config{Org: OrgConfig{InstanceURL: "https://x.my.salesforce.com", AccessToken: "secret"}}
	redacted := cfg.Redacted()
	assert.Equal(t, "********", redacted.Org.AccessToken)
	assert.Equal(t, "secret", cfg.Org.AccessToken)
}
