package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/conneroisu/localdev/internal/build"
	"github.com/conneroisu/localdev/internal/compiler"
	"github.com/conneroisu/localdev/internal/config"
	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/org"
	"github.com/conneroisu/localdev/internal/project"
	"github.com/conneroisu/localdev/internal/proxy"
	"github.com/conneroisu/localdev/internal/server"
	"github.com/conneroisu/localdev/internal/services"
	"github.com/conneroisu/localdev/internal/specifier"
	"github.com/conneroisu/localdev/internal/validation"
	"github.com/conneroisu/localdev/internal/version"
	"github.com/conneroisu/localdev/internal/watcher"
	"github.com/conneroisu/localdev/internal/websocket"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the local development server",
	Long: `Start the local development server for the project in the current
directory (or project.dir).

Components are compiled on first request and cached until their files
change. With live reload on, a websocket channel tells open pages to reload
after a component, label or static resource change.

Examples:
  localdev serve                        # Serve on localhost:3333
  localdev serve --port 8080 --open     # Different port, open the browser
  localdev serve --mode prod            # Serve production builds
  localdev serve --target-org my-sandbox`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(viper.GetViper(), cmd.Flags(), serveFlagKeys)
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-a.server.Started():
		case <-ctx.Done():
			return
		}
		url := serverURL(cfg.Server.Host, a.server.Addr())
		printBanner(cmd.OutOrStdout(), a, url)
		if cfg.Server.Open {
			if err := openBrowser(url); err != nil {
				logger.Warn(ctx, err, "Could not open browser", "url", url)
			}
		}
	}()

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// app is the assembled server and what was derived to build it.
type app struct {
	server     *server.Server
	project    *project.Project
	static     *build.StaticBuilder
	sourceDir  string
	apiVersion string
	org        string
	liveReload bool
}

// newApp resolves the project and wires every component of the server. It
// copies static resources once so the asset route has something to serve.
func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	proj, err := project.Load(cfg.Project.Dir)
	if err != nil {
		return nil, err
	}

	sourceDir := proj.ModuleSourceDir()
	if cfg.Project.ModuleSourceDir != "" {
		sourceDir = resolvePath(proj.Dir, cfg.Project.ModuleSourceDir)
	}
	outputDir := resolvePath(proj.Dir, cfg.Build.OutputDir)

	comp, err := compiler.NewExecCompiler(cfg.Build.CompilerCommand, cfg.Build.CompilerArgs, proj.Dir, cfg.Build.CompilerTimeout, logger)
	if err != nil {
		return nil, err
	}

	locator := specifier.NewComponentLocator(map[string]specifier.Root{
		cfg.Project.Namespace: {Dir: sourceDir, Mapped: "lwc"},
	})

	labelsPath := proj.CustomLabelsPath()
	if cfg.Project.CustomLabelsPath != "" {
		labelsPath = resolvePath(proj.Dir, cfg.Project.CustomLabelsPath)
	}
	labelsSvc := services.NewLabelsService(services.LabelsOptions{
		Path:          labelsPath,
		Explicit:      cfg.Project.CustomLabelsPath != "",
		DefaultLocale: cfg.Development.Locale,
		Debounce:      cfg.Build.Debounce(),
	}, comp, logger)
	componentSvc := services.NewComponentService(locator, comp, outputDir, logger)
	keys := version.NewKeyLookup(proj.Dir, strconv.FormatInt(time.Now().UnixNano(), 10))

	registry := services.NewRegistry(logger)
	for _, svc := range []services.Service{
		labelsSvc,
		services.NewResourceURLService(keys),
		services.NewApexContinuationService(comp, logger),
		services.NewMessageChannelService(comp, logger),
		componentSvc,
	} {
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	static := build.NewStaticBuilder(outputDir, assetSources(cfg, proj), logger)
	if err := static.BuildAll(ctx); err != nil {
		return nil, fmt.Errorf("copying static resources: %w", err)
	}

	var w server.Watcher
	if cfg.Development.LiveReload {
		channel := websocket.NewReloadChannel(cfg.Server.Host, cfg.Server.Port, logger)
		w = watcher.NewCoordinator(watcher.CoordinatorConfig{
			ComponentDirs:       []string{sourceDir},
			ComponentExtensions: specifier.ComponentExtensions,
			StaticDirs:          static.Dirs(),
			Debounce:            cfg.Build.Debounce(),
		}, channel, componentSvc, static, logger, labelsSvc)
	}

	provider, orgName := orgProvider(cfg.Org, logger)
	apiVersion := cfg.Org.APIVersion
	if apiVersion == "" {
		apiVersion = proj.SourceAPIVersion
	}
	rewriter := proxy.NewRewriter(apiVersion)
	rewriter.Prefix = cfg.Server.APIPrefix

	srv, err := server.New(server.Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Project:         proj.Metadata(cfg.Project.Namespace),
		ModuleSourceDir: sourceDir,
		AssetsDir:       static.AssetsDir(),
		Mode:            cfg.Build.ParsedMode(),
		Locale:          cfg.Development.Locale,
		LiveReload:      cfg.Development.LiveReload,
		Registry:        registry,
		Watcher:         w,
		APIPrefix:       cfg.Server.APIPrefix,
		API:             proxy.NewAPIProxy(provider, rewriter, logger),
		Apex:            proxy.NewApexHandler(provider, logger),
	}, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		server:     srv,
		project:    proj,
		static:     static,
		sourceDir:  sourceDir,
		apiVersion: apiVersion,
		org:        orgName,
		liveReload: cfg.Development.LiveReload,
	}, nil
}

// assetSources prefers configured directories over the project layout.
func assetSources(cfg *config.Config, proj *project.Project) []build.AssetSource {
	staticDirs := proj.StaticResourcesDirs()
	if len(cfg.Project.StaticResourcesDirs) > 0 {
		staticDirs = resolvePaths(proj.Dir, cfg.Project.StaticResourcesDirs)
	}
	contentDirs := proj.ContentAssetsDirs()
	if len(cfg.Project.ContentAssetsDirs) > 0 {
		contentDirs = resolvePaths(proj.Dir, cfg.Project.ContentAssetsDirs)
	}

	sources := make([]build.AssetSource, 0, len(staticDirs)+len(contentDirs))
	for _, dir := range staticDirs {
		sources = append(sources, build.AssetSource{Kind: build.StaticResources, Dir: dir})
	}
	for _, dir := range contentDirs {
		sources = append(sources, build.AssetSource{Kind: build.ContentAssets, Dir: dir})
	}
	return sources
}

// orgProvider uses explicit credentials when configured and the sf CLI
// otherwise. The returned name is for display.
func orgProvider(cfg config.OrgConfig, logger logging.Logger) (org.Provider, string) {
	if cfg.InstanceURL != "" {
		return org.Static{InstanceURL: cfg.InstanceURL, AccessToken: cfg.AccessToken}, cfg.InstanceURL
	}
	name := cfg.Alias
	if name == "" {
		name = "default org"
	}
	return org.NewCLIProvider(cfg.Alias, logger), name
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func resolvePaths(dir string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, resolvePath(dir, p))
	}
	return out
}

func serverURL(host string, addr net.Addr) string {
	port := ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	return "http://" + net.JoinHostPort(host, port)
}

func printBanner(out io.Writer, a *app, url string) {
	title := color.New(color.FgCyan, color.Bold)
	title.Fprintf(out, "\nlocaldev %s\n\n", version.GetShortVersion())

	kind := "plain"
	if a.project.SFDX {
		kind = "sfdx"
	}
	fmt.Fprintf(out, "  Local:    %s\n", color.GreenString(url))
	fmt.Fprintf(out, "  Project:  %s (%s)\n", a.project.Name(), kind)
	fmt.Fprintf(out, "  Sources:  %s\n", a.sourceDir)
	fmt.Fprintf(out, "  Org:      %s\n", a.org)
	if a.apiVersion != "" {
		fmt.Fprintf(out, "  API:      v%s\n", a.apiVersion)
	}
	if a.liveReload {
		fmt.Fprintf(out, "  Reload:   %s\n", color.GreenString("on"))
	} else {
		fmt.Fprintf(out, "  Reload:   %s\n", color.YellowString("off"))
	}
	fmt.Fprintln(out)
}

// openBrowser opens url in the default browser.
func openBrowser(url string) error {
	if err := validation.ValidateURL(url); err != nil {
		return fmt.Errorf("refusing to open URL: %w", err)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
