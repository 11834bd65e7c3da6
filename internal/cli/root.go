package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rotasave.org/internal/config"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/rosca"
	"rotasave.org/internal/store/memory"
	"rotasave.org/internal/store/pg"
	"rotasave.org/internal/store/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Store      string
	SQLitePath string
	DSN        string
	Format     string // "json" | "text"
	Verbose    bool
	Policy     string

	// Now overrides the clock used for default timestamps.
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the rotasave admin command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Now: time.Now}

	cmd := &cobra.Command{
		Use:   "rotasave",
		Short: "Administer rotating savings groups",
		Long: `rotasave operates the rotation engine directly against a store.

Groups live in the configured store (sqlite by default), so successive
invocations see each other's changes. Fund movement is not performed here;
use the API service for ledger-backed groups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if _, ok := rosca.PolicyByName(opts.Policy); !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown advance policy %q", opts.Policy))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Store, "store", config.StoreSQLite, "store backend (memory|sqlite|postgres)")
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite-path", "rotasave.db", "path to the sqlite database")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "postgres DSN")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Policy, "policy", "partial", "advance policy (partial|full)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewGroupCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))

	return cmd
}

// Execute runs the root command with args and returns the exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		f := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr}
		f.Error(err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// timestamp returns ts, or the current unix time when ts is zero.
func (o *RootOptions) timestamp(ts int64) int64 {
	if ts != 0 {
		return ts
	}
	return o.now().Unix()
}

// openStore opens the configured backend. The returned func closes it.
func (o *RootOptions) openStore() (rosca.Store, func() error, error) {
	switch o.Store {
	case config.StoreMemory:
		s := memory.New()
		return s, s.Close, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(o.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StorePostgres:
		if o.DSN == "" {
			return nil, nil, fmt.Errorf("--dsn is required for the postgres store")
		}
		s, err := pg.Open(o.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", o.Store)
	}
}

// withEngine opens the store, builds an engine over it and runs fn.
func (o *RootOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *rosca.Engine) error) error {
	st, closeStore, err := o.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			o.formatter(cmd).VerboseLog("closing store: %v", cerr)
		}
	}()

	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	logger, err := obs.NewLogger(cmd.ErrOrStderr(), "text", level)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	policy, _ := rosca.PolicyByName(o.Policy)
	f := o.formatter(cmd)

	eng := rosca.NewEngine(st,
		rosca.WithAdvancePolicy(policy),
		rosca.WithLogger(logger),
		rosca.WithEventSink(rosca.SinkFunc(func(_ context.Context, evt rosca.Event) error {
			f.VerboseLog("event %s group=%d cycle=%d member=%s", evt.Kind, evt.GroupID, evt.Cycle, evt.Member)
			return nil
		})),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, eng)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
