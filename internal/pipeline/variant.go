package pipeline

import (
	"context"
	"errors"

	"github.com/DIPx2/WASSERFALL/internal/classify"
	"github.com/DIPx2/WASSERFALL/internal/runner"
	"github.com/DIPx2/WASSERFALL/internal/sshx"
	"github.com/DIPx2/WASSERFALL/internal/store"
)

// TemplateSource resolves command names to template text.
type TemplateSource interface {
	LookupTemplate(commandName string) (string, error)
}

// ShellVariant executes a single rendered shell command per host.
type ShellVariant struct {
	Templates TemplateSource
}

func (v *ShellVariant) Kind() classify.Kind { return classify.Shell }

// Template resolves the named command, falling back to the literal name so
// ad-hoc commands need no configuration entry.
func (v *ShellVariant) Template(commandName string) (string, error) {
	text, err := v.Templates.LookupTemplate(commandName)
	if errors.Is(err, store.ErrNotFound) {
		return commandName, nil
	}
	return text, err
}

// ResolveUnits yields the single synthetic shell unit.
func (v *ShellVariant) ResolveUnits(context.Context, sshx.Session, store.HostConfig, ExecContext) ([]string, error) {
	return []string{runner.ShellUnit}, nil
}

func (v *ShellVariant) Run(ctx context.Context, sess sshx.Session, rendered, _ string, _ store.HostConfig, ec ExecContext) runner.UnitResult {
	return runner.RunShell(ctx, sess, rendered, runner.ShellOptions{
		Sudo:     ec.Sudo,
		SudoUser: ec.SudoUser,
	})
}

// SQLVariant executes one rendered statement against every target database.
type SQLVariant struct {
	Templates TemplateSource
}

func (v *SQLVariant) Kind() classify.Kind { return classify.SQL }

// Template resolves the named SQL command. Unlike the shell variant there
// is no literal fallback: running arbitrary text as SQL fleet-wide is
// always a configuration mistake.
func (v *SQLVariant) Template(commandName string) (string, error) {
	return v.Templates.LookupTemplate(commandName)
}

// ResolveUnits returns the explicit database list when one was supplied,
// otherwise discovers all non-template databases on the host, then removes
// excluded names preserving order.
func (v *SQLVariant) ResolveUnits(ctx context.Context, sess sshx.Session, cfg store.HostConfig, ec ExecContext) ([]string, error) {
	dbs := ec.Databases
	if len(dbs) == 0 {
		discovered, err := runner.ListDatabases(ctx, sess, cfg.PG)
		if err != nil {
			return nil, err
		}
		dbs = discovered
	}

	if len(ec.ExcludeDatabases) == 0 {
		return dbs, nil
	}

	excluded := make(map[string]struct{}, len(ec.ExcludeDatabases))
	for _, name := range ec.ExcludeDatabases {
		excluded[name] = struct{}{}
	}

	var kept []string
	for _, name := range dbs {
		if _, skip := excluded[name]; !skip {
			kept = append(kept, name)
		}
	}
	return kept, nil
}

func (v *SQLVariant) Run(ctx context.Context, sess sshx.Session, rendered, unit string, cfg store.HostConfig, _ ExecContext) runner.UnitResult {
	return runner.RunSQL(ctx, sess, rendered, cfg.PG, unit)
}
