package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DIPx2/WASSERFALL/internal/classify"
	"github.com/DIPx2/WASSERFALL/internal/config"
	"github.com/DIPx2/WASSERFALL/internal/dispatch"
	"github.com/DIPx2/WASSERFALL/internal/logging"
	"github.com/DIPx2/WASSERFALL/internal/logstore"
	"github.com/DIPx2/WASSERFALL/internal/pipeline"
	"github.com/DIPx2/WASSERFALL/internal/report"
	"github.com/DIPx2/WASSERFALL/internal/sshx"
	"github.com/DIPx2/WASSERFALL/internal/store"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global configuration
	cfg *config.Config

	// Shared CLI flags
	commandName   string
	hostList      []string
	vars          []string
	allowNewHosts bool

	// SQL variant flags
	databases   []string
	excludedDBs []string

	// Shell variant flags
	sudo     bool
	sudoUser string
	timeout  time.Duration
	dryRun   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(getExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "wasserfall",
	Short: "Execute configured commands in parallel across a PostgreSQL host fleet",
	Long: `wasserfall fans a named command out to a fleet of hosts over SSH, with
bounded concurrency, per-host outcome classification and a persistent
execution audit trail.

Commands and host connection parameters live in a sqlite configuration
database; every execution is recorded in a separate sqlite log database.

Examples:
  # Run a configured shell command on every active host
  wasserfall shell --cmd restart-agent

  # Run an ad-hoc shell command on two hosts with sudo
  wasserfall shell --cmd "systemctl restart nginx" --host a1 --host a2 --sudo

  # Run a configured SQL command on every database except templates
  wasserfall sql --cmd table-bloat --db-exclude postgres

  # Render without connecting
  wasserfall shell --cmd restart-agent --dry-run`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		manager := config.NewManager()
		if err := manager.BindFlags(cmd.Root().PersistentFlags()); err != nil {
			return &SetupError{Message: fmt.Sprintf("failed to bind flags: %v", err)}
		}
		loaded, err := manager.Load()
		if err != nil {
			return &SetupError{Message: fmt.Sprintf("failed to load configuration: %v", err)}
		}
		cfg = loaded
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run a shell command on every target host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFleet(cmd.Context(), classify.Shell)
	},
}

var sqlCmd = &cobra.Command{
	Use:   "sql",
	Short: "Run a SQL command on every database of every target host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFleet(cmd.Context(), classify.SQL)
	},
}

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wasserfall %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("config-db", "wasserfall.db", "Path to the host/command configuration database")
	pf.String("log-db", "wasserfall-log.db", "Path to the execution log database")
	pf.String("project-root", ".", "Base directory for relative SSH key paths")
	pf.String("known-hosts", "", "Path to the known_hosts file (default ~/.ssh/known_hosts)")
	pf.Int("workers", 10, "Maximum concurrent host sessions")
	pf.Duration("cmd-timeout", 0, "Per-unit execution timeout (0 for no timeout)")
	pf.Bool("quiet", false, "Suppress non-error diagnostics")
	pf.Bool("verbose", false, "Print per-unit output for every host")
	pf.String("log-level", "info", "Log level (info, error)")
	pf.String("log-format", "text", "Log format (json, text)")

	for _, c := range []*cobra.Command{shellCmd, sqlCmd} {
		c.Flags().StringVar(&commandName, "cmd", "", "Name of the configured command to run (required)")
		c.Flags().StringArrayVar(&hostList, "host", nil, "Target host name (repeatable; default all active hosts)")
		c.Flags().StringArrayVar(&vars, "var", nil, "Template variable as key=value (repeatable)")
		c.Flags().BoolVar(&allowNewHosts, "allow-new-hosts", false, "Accept and persist unknown host keys")
		c.MarkFlagRequired("cmd")
	}

	sqlCmd.Flags().StringArrayVar(&databases, "db", nil, "Target database (repeatable; default discover all)")
	sqlCmd.Flags().StringArrayVar(&excludedDBs, "db-exclude", nil, "Database to skip (repeatable)")

	shellCmd.Flags().BoolVar(&sudo, "sudo", false, "Prefix the command with sudo")
	shellCmd.Flags().StringVar(&sudoUser, "sudo-user", "", "Run the command as this user via sudo (implies --sudo)")
	shellCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Render the command per host without connecting")
	shellCmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-command timeout (overrides cmd-timeout)")

	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(sqlCmd)
}

func runFleet(ctx context.Context, kind classify.Kind) error {
	logger := logging.NewFromSettings(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	configStore, err := store.Open(cfg.ConfigDB)
	if err != nil {
		logger.LogConfigError(cfg.ConfigDB, err)
		return &SetupError{Message: fmt.Sprintf("failed to open configuration database: %v", err)}
	}
	defer configStore.Close()

	auditStore, err := logstore.Open(cfg.LogDB)
	if err != nil {
		logger.LogConfigError(cfg.LogDB, err)
		return &SetupError{Message: fmt.Sprintf("failed to open log database: %v", err)}
	}
	defer auditStore.Close()

	hosts := hostList
	if len(hosts) == 0 {
		hosts, err = configStore.ListActive()
		if err != nil {
			return &SetupError{Message: fmt.Sprintf("failed to list active hosts: %v", err)}
		}
	}
	if len(hosts) == 0 {
		return &SetupError{Message: "no target hosts: none given via --host and none active in the configuration database"}
	}

	parsedVars, err := parseVars(vars)
	if err != nil {
		return &SetupError{Message: err.Error()}
	}

	var variant pipeline.Variant
	if kind == classify.SQL {
		variant = &pipeline.SQLVariant{Templates: configStore}
	} else {
		variant = &pipeline.ShellVariant{Templates: configStore}
	}

	pipe := &pipeline.Pipeline{
		Config: configStore,
		Audit:  auditStore,
		Dialer: &sshx.ClientDialer{
			Root:           cfg.ProjectRoot,
			KnownHostsPath: cfg.KnownHosts,
			Logger:         logger,
		},
		Variant: variant,
		Logger:  logger,
	}

	reporter := report.NewConsoleReporter(os.Stdout, cfg.Verbose)
	dispatcher := &dispatch.Dispatcher{
		Runner:   pipe,
		Reporter: reporter,
		Workers:  cfg.Workers,
		Logger:   logger,
	}

	unitTimeout := cfg.CmdTimeout
	if timeout > 0 {
		unitTimeout = timeout
	}

	summary := dispatcher.Dispatch(ctx, hosts, pipeline.ExecContext{
		CommandName:      commandName,
		Vars:             parsedVars,
		Databases:        databases,
		ExcludeDatabases: excludedDBs,
		Sudo:             sudo || sudoUser != "",
		SudoUser:         sudoUser,
		Timeout:          unitTimeout,
		AllowNewHosts:    allowNewHosts || cfg.TrustNew,
		DryRun:           dryRun,
	})
	reporter.Summarize(summary)

	if err := ctx.Err(); err != nil {
		return &ExecutionError{Message: "execution interrupted"}
	}
	if !summary.AllSucceeded() {
		return &ExecutionError{
			Message: fmt.Sprintf("%d of %d hosts did not fully succeed",
				summary.Partial+summary.Fail, summary.Total()),
		}
	}
	return nil
}

// parseVars turns repeated key=value flags into a template variable map.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

// ExecutionError represents a command execution failure (exit code 1)
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// SetupError represents an error during setup/configuration (exit code 2)
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return e.Message
}

// getExitCode determines the appropriate exit code based on error type
// Returns:
//   - 0: Success (all targets succeeded)
//   - 1: Execution failure (one or more targets failed)
//   - 2: Setup error (invalid arguments, configuration issues, etc.)
func getExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch err.(type) {
	case *SetupError:
		return 2
	case *ExecutionError:
		return 1
	default:
		// Unknown errors, including cobra's own flag errors, are treated
		// as setup errors.
		return 2
	}
}
