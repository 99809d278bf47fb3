// impactscan reports where a function, method or class is referenced across a
// repository, either as an MCP tool or from the command line.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phobologic/impactscan/internal/config"
	"github.com/phobologic/impactscan/internal/impact"
	"github.com/phobologic/impactscan/internal/logging"
	"github.com/phobologic/impactscan/internal/model"
	"github.com/phobologic/impactscan/internal/server"
	"github.com/phobologic/impactscan/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	quiet      bool
}

// load reads the configuration and builds the stderr logger.
func (g *globalFlags) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath, config.SearchDirs()...)
	if err != nil {
		return nil, nil, err
	}
	level := logging.EffectiveLevel(cfg.LogLevel(), g.verbose, g.quiet)
	return cfg, logging.New(stderr, level), nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "impactscan",
		Short: "Find every reference to a code element before you change it",
		Long: `impactscan scans a repository for usages of a function, method or class
outside the file that defines it. Call sites are matched structurally with
tree-sitter and narrowed by argument shape where the definition declares
parameters. Supported languages: JavaScript, TypeScript, Python and C#.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("impactscan {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ./"+config.FileName+" or the user config dir)")
	pf.BoolVar(&g.verbose, "verbose", false, "log debug output to stderr")
	pf.BoolVar(&g.quiet, "quiet", false, "suppress all log output")

	root.AddCommand(
		newServeCmd(g, stderr),
		newAnalyzeCmd(g, stdout, stderr),
		newInitCmd(stdout, stderr),
		newConfigCmd(g, stdout, stderr),
	)
	return root
}

func newServeCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the show_impacted_code tool over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := g.load(stderr)
			if err != nil {
				return err
			}
			engine, err := impact.New(cfg.EngineOptions(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("serving", "tool", server.ToolName, "version", version, "config", cfg.File)
			if err := server.New(engine, version, logger).Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}

type analyzeFlags struct {
	repo   string
	file   string
	name   string
	kind   string
	format string
}

func newAnalyzeCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis and print the impacted files",
		Example: `  impactscan analyze --file src/greeter.ts --name greet
  impactscan analyze --repo /path/to/repo --file Greeter.cs --name GreetPerson --type method
  impactscan analyze --file app/models.py --name User --format toon`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.format != "text" && f.format != "toon" {
				return fmt.Errorf("unknown format %q (want text or toon)", f.format)
			}
			repo, err := filepath.Abs(f.repo)
			if err != nil {
				return fmt.Errorf("resolving repo: %w", err)
			}

			cfg, logger, err := g.load(stderr)
			if err != nil {
				return err
			}
			engine, err := impact.New(cfg.EngineOptions(logger))
			if err != nil {
				return err
			}

			report, err := engine.Analyze(cmd.Context(), impact.Request{
				RepoPath:    repo,
				FilePath:    f.file,
				ElementName: f.name,
				ElementType: model.ElementKind(f.kind),
			})
			if err != nil {
				return err
			}

			out := impact.Format(report)
			if f.format == "toon" {
				out = toon.Encode(report)
			}
			_, _ = fmt.Fprintln(stdout, out)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.repo, "repo", ".", "repository root")
	fl.StringVar(&f.file, "file", "", "file defining the element, relative to --repo")
	fl.StringVar(&f.name, "name", "", "element name")
	fl.StringVar(&f.kind, "type", "", "element kind: function, method or class (advisory)")
	fl.StringVar(&f.format, "format", "text", "output format: text or toon")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newConfigCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := g.load(stderr)
			if err != nil {
				return err
			}
			data, err := cfg.TOML()
			if err != nil {
				return err
			}
			if cfg.File != "" {
				_, _ = fmt.Fprintf(stdout, "# loaded from %s\n", cfg.File)
			}
			_, _ = stdout.Write(data)
			return nil
		},
	}
}
