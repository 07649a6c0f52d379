package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/repoql/internal/config"
)

// RootOptions holds global flags for all commands and the configuration
// they resolve to.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	v      *viper.Viper
	config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Config returns the configuration resolved before the command ran.
func (o *RootOptions) Config() *config.Config {
	return o.config
}

// Logger builds the structured logger for diagnostics written to w.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	if o.config == nil {
		return slog.New(slog.NewTextHandler(w, nil))
	}
	return o.config.Logger(w)
}

// contractsDir returns the positional directory argument at i, or the
// configured contracts directory.
func (o *RootOptions) contractsDir(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return o.config.Contracts
}

// NewRootCommand creates the root command for the repoql CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:   "repoql",
		Short: "repoql - repository query engine",
		Long: `Declare repositories as CUE contracts and let repoql derive, check and run
their queries against SQLite or PostgreSQL.

Configuration is read from ./repoql.yaml (or --config), REPOQL_ environment
variables (REPOQL_DATABASE_DSN) and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Verbose {
				opts.v.Set(config.KeyLogLevel, "debug")
			}
			cfg, err := config.Load(opts.v, opts.ConfigFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.config = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (log level debug)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default ./repoql.yaml)")
	flags.String("driver", "", "database driver (sqlite3|pgx)")
	flags.String("dsn", "", "database data source name")
	flags.String("log-level", "", "log level (debug|info|warn|error)")

	bindings := map[string]string{
		"driver":    config.KeyDriver,
		"dsn":       config.KeyDSN,
		"log-level": config.KeyLogLevel,
	}
	for name, key := range bindings {
		if err := opts.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
