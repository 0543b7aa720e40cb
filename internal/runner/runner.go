// Package runner executes single units of work over an established session:
// one shell invocation, or one psql invocation against one database.
package runner

import (
	"context"

	"github.com/DIPx2/WASSERFALL/internal/classify"
	"github.com/DIPx2/WASSERFALL/internal/sshx"
)

// ShellUnit is the unit label used for shell invocations, which have no
// per-database dimension.
const ShellUnit = "-"

// UnitResult is the outcome of exactly one remote invocation. It is created
// once and never mutated after being handed to the aggregator.
type UnitResult struct {
	Unit     string // database name, or ShellUnit
	Stdout   string
	Stderr   string
	ExitCode int
	Code     classify.Code
	OK       bool // Code equals the kind's success code
	Data     any  // SQL only: parsed rows, raw fallback text, or nil
}

// ShellOptions modify a shell invocation.
type ShellOptions struct {
	Sudo     bool
	SudoUser string
}

// RunShell executes one shell command. The context carries the caller's
// execution timeout; a transport failure while dispatching yields the
// transport code, not a command classification.
func RunShell(ctx context.Context, sess sshx.Session, command string, opts ShellOptions) UnitResult {
	full := command
	if opts.Sudo {
		user := opts.SudoUser
		if user == "" {
			user = "root"
		}
		full = "sudo -u " + shellQuote(user) + " " + command
	}

	out, err := sess.Run(ctx, full)
	if err != nil {
		return UnitResult{
			Unit:     ShellUnit,
			Stdout:   out.Stdout,
			Stderr:   firstNonEmpty(out.Stderr, err.Error()),
			ExitCode: -1,
			Code:     classify.TransportFailed,
		}
	}

	code := classify.Command(classify.Shell, out.Stderr, out.ExitCode)
	return UnitResult{
		Unit:     ShellUnit,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Code:     code,
		OK:       classify.IsSuccess(classify.Shell, code),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
