package venvbuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// CLI flag values shared by all commands.
var (
	flagTarget string
	flagSrc    string
	flagJobs   int
	flagDebug  bool
	flagVerb   bool
)

// loadSettings merges config file, VENVBUILD_* environment and flags, in
// that order of increasing precedence.
func loadSettings(needTarget bool) (*Settings, error) {
	path := ConfigFile
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	mergeEnvOverrides(cfg, os.Environ())

	if flagTarget != "" {
		cfg.Values["VENVBUILD_TARGET"] = flagTarget
	}
	if flagSrc != "" {
		cfg.Values["VENVBUILD_SRCPATH"] = flagSrc
	}
	if flagJobs > 0 {
		cfg.Values["VENVBUILD_JOBS"] = strconv.Itoa(flagJobs)
	}
	if flagDebug {
		cfg.Values["VENVBUILD_DEBUG"] = "1"
	}
	if flagVerb {
		cfg.Values["VENVBUILD_VERBOSE"] = "1"
	}

	s, err := resolveSettings(cfg)
	if err != nil {
		return nil, err
	}
	if !needTarget && s.TargetEnv == "" {
		s.TargetEnv = "."
	}
	if err := s.finalize(); err != nil {
		return nil, err
	}
	return s, nil
}

// registry returns the built-in installers plus any catalog steps.
func registry(s *Settings) (*Registry, error) {
	reg := NewRegistry(Installers()...)
	steps, err := LoadCatalog(s.CatalogFile)
	if err != nil {
		return nil, err
	}
	for _, st := range steps {
		reg.Add(st)
	}
	return reg, nil
}

func newRootCmd(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "venvbuild",
		Short:         "Build bundled third-party packages into an isolated environment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&ConfigFile, "config", "c", "", "config file (default $XDG_CONFIG_HOME/venvbuild/venvbuild.conf)")
	pf.StringVarP(&flagTarget, "target", "t", "", "target environment directory")
	pf.StringVarP(&flagSrc, "src", "s", "", "source root containing 3rdparty/ (default: working directory)")
	pf.IntVarP(&flagJobs, "jobs", "j", 0, "parallel make jobs (default 4)")
	pf.BoolVar(&flagDebug, "debug", false, "print debug output")
	pf.BoolVarP(&flagVerb, "verbose", "v", false, "stream script output")

	root.AddCommand(
		newInstallCmd(ctx),
		newListCmd(),
		newScriptCmd(),
		newRenderCmd(),
		newChecksumCmd(),
		newVersionCmd(),
	)
	return root
}

func newInstallCmd(ctx context.Context) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install <step>...",
		Short: "Run build steps in the given order",
		Long: "Run build steps in the given order. Steps are built-in installers,\n" +
			"catalog entries, module:<name> or pip:<requirement>.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(true)
			if err != nil {
				return err
			}
			reg, err := registry(s)
			if err != nil {
				return err
			}

			// Resolve everything first so a typo fails before any work.
			steps := make([]Step, 0, len(args))
			for _, name := range args {
				st, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				steps = append(steps, st)
			}

			b, err := NewBuilder(ctx, s, os.Environ())
			if err != nil {
				return err
			}
			ledger := NewLedger(s.TargetEnv)

			for _, st := range steps {
				if force {
					if err := ledger.Forget(st.Name); err != nil {
						return err
					}
				} else if e, err := ledger.Lookup(st.Name); err != nil {
					return err
				} else if e != nil {
					colArrow.Print("-> ")
					colNote.Printf("%s already installed (%s), skipping\n", st.Name, e.Installed.Local().Format(time.DateTime))
					continue
				}
				if err := RunStep(b, st, ledger); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "rebuild steps already recorded as installed")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available steps and their install status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(false)
			if err != nil {
				return err
			}
			reg, err := registry(s)
			if err != nil {
				return err
			}
			ledger := NewLedger(s.TargetEnv)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Step", "Description", "Installed"})
			for _, name := range reg.Names() {
				st, _ := reg.Lookup(name)
				status := "-"
				if e, err := ledger.Lookup(name); err != nil {
					return err
				} else if e != nil {
					status = e.Installed.Local().Format(time.DateTime)
				}
				table.Append([]string{name, st.Desc, status})
			}
			table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
			table.SetCenterSeparator("|")
			table.Render()
			return nil
		},
	}
}

func newScriptCmd() *cobra.Command {
	var configure, archive string
	cmd := &cobra.Command{
		Use:   "script <name>",
		Short: "Print the standard recipe script for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(false)
			if err != nil {
				return err
			}
			r := Recipe{Name: args[0], Configure: configure, Jobs: s.Jobs, Archive: archive}
			fmt.Fprint(cmd.OutOrStdout(), r.Script(s.SrcPath))
			return nil
		},
	}
	cmd.Flags().StringVar(&configure, "configure", "", "extra ./configure flags")
	cmd.Flags().StringVar(&archive, "archive", "", "archive file name (default <name>.tar.gz)")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var format string
	var executable bool
	cmd := &cobra.Command{
		Use:   "render <source> <dest>",
		Short: "Render a template with TARGET_ENV and the process environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := ParseMode(format)
			if err != nil {
				return err
			}
			s, err := loadSettings(true)
			if err != nil {
				return err
			}
			r := &Renderer{TargetEnv: s.TargetEnv, Environ: os.Environ()}
			if err := r.Render(args[0], args[1], mode, executable); err != nil {
				return err
			}
			announce("Rendered %s", args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "brace", "placeholder syntax: brace or percent")
	cmd.Flags().BoolVarP(&executable, "executable", "x", false, "mark the result executable")
	return cmd
}

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum",
		Short: "Write 3rdparty/SUMS.b3 for every bundled archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(false)
			if err != nil {
				return err
			}
			n, err := writeSums(s.ThirdPartyDir())
			if err != nil {
				return err
			}
			announce("Wrote %d checksums to %s", n, sumsFileName)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			colInfo.Printf("venvbuild %s (%s) built %s\n", version, arch, buildDate)
		},
	}
}

// reportError prints err, plus the tail of a failed script's output.
func reportError(err error) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) && execErr.Output != "" {
		lines := strings.Split(strings.TrimRight(execErr.Output, "\n"), "\n")
		if len(lines) > 50 {
			lines = lines[len(lines)-50:]
		}
		colWarn.Println("--- last output ---")
		fmt.Fprintln(os.Stderr, strings.Join(lines, "\n"))
	}
	colError.Printf("Error: %v\n", err)
}

// Main is the CLI entrypoint.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			colError.Printf("Received %v. Cancelling running script\n", sig)
			cancel()
			// A second signal forces an immediate exit.
			select {
			case <-sigs:
				os.Exit(130)
			case <-time.After(5 * time.Second):
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	if err := newRootCmd(ctx).ExecuteContext(ctx); err != nil {
		reportError(err)
		os.Exit(1)
	}
}
