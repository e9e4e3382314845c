// Package cmd provides the command-line interface for localdev.
//
// Configuration is read from several sources, highest priority first:
//
//  1. Command-line flags (--port, --mode, ...)
//  2. LOCALDEV_<SECTION>_<OPTION> environment variables
//  3. The file named by --config or LOCALDEV_CONFIG_FILE
//  4. .localdev.yml in the current directory
//  5. Built-in defaults
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/conneroisu/localdev/internal/config"
	lderrors "github.com/conneroisu/localdev/internal/errors"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "localdev",
	Short: "Local development server for Lightning Web Components",
	Long: `localdev serves the Lightning Web Components of a Salesforce DX project
from your machine.

Components, custom labels and static resources are compiled on demand and
cached until their sources change. Data and Apex requests are proxied to a
connected org, and the browser reloads when project files change.

Quick Start:
  localdev serve                  Start the server in the current project
  localdev config show            Print the effective configuration
  localdev config validate        Check the configuration and project layout`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .localdev.yml, can also use LOCALDEV_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file and enables LOCALDEV_ environment
// overrides. A missing file is not an error; defaults apply.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("LOCALDEV_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".localdev")
	}

	viper.SetEnvPrefix("LOCALDEV")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log flags.
func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, lderrors.NewConfigError("log-level", err)
	}

	format := viper.GetString("log-format")
	if format != "text" && format != "json" {
		return nil, lderrors.NewConfigError("log-format", fmt.Errorf("unsupported format %q (supported: text, json)", format))
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	return logging.NewLogger(cfg), nil
}
