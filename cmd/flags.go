package cmd

import (
	"github.com/conneroisu/localdev/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// modeValue is a pflag.Value accepting only dev or prod.
type modeValue struct {
	mode types.Mode
}

var _ pflag.Value = (*modeValue)(nil)

func newModeValue(def types.Mode) *modeValue {
	return &modeValue{mode: def}
}

func (m *modeValue) String() string { return string(m.mode) }

func (m *modeValue) Set(s string) error {
	mode, err := types.ParseMode(s)
	if err != nil {
		return err
	}
	m.mode = mode
	return nil
}

func (m *modeValue) Type() string { return "mode" }

// serveFlagKeys maps serve flags onto configuration keys.
var serveFlagKeys = map[string]string{
	"port":        "server.port",
	"host":        "server.host",
	"open":        "server.open",
	"mode":        "build.mode",
	"locale":      "development.locale",
	"live-reload": "development.live_reload",
	"target-org":  "org.alias",
	"api-version": "org.api_version",
}

func addServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntP("port", "p", 3333, "Port to serve on")
	flags.String("host", "localhost", "Host to bind to")
	flags.Bool("open", false, "Open the browser once the server is up")
	flags.Var(newModeValue(types.ModeDev), "mode", "Compilation mode (dev, prod)")
	flags.String("locale", "en", "Default label locale")
	flags.Bool("live-reload", true, "Reload the browser when project files change")
	flags.StringP("target-org", "o", "", "Org alias or username to proxy API calls to")
	flags.String("api-version", "", "API version used for proxied data calls (e.g. 58.0)")
}

// bindFlags binds every flag in keys to its viper key so that an explicitly
// set flag overrides file and environment values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
