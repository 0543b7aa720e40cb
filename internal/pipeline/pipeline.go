// Package pipeline runs the full execution sequence for one host: resolve
// configuration, open a session, resolve the target unit set, render the
// command, execute every unit, and synthesize the host outcome.
//
// Failures never escape as errors. Every terminal condition becomes a
// HostOutcome and writes exactly one audit record, so the log store alone
// can reconstruct every attempted action.
package pipeline

import (
	"context"
	"time"

	"github.com/DIPx2/WASSERFALL/internal/classify"
	"github.com/DIPx2/WASSERFALL/internal/logging"
	"github.com/DIPx2/WASSERFALL/internal/logstore"
	"github.com/DIPx2/WASSERFALL/internal/runner"
	"github.com/DIPx2/WASSERFALL/internal/sshx"
	"github.com/DIPx2/WASSERFALL/internal/store"
	"github.com/DIPx2/WASSERFALL/internal/template"
)

// ExecContext carries the caller's per-run execution parameters. It is
// built once and read-only during dispatch.
type ExecContext struct {
	CommandName string
	Vars        map[string]string

	// SQL variant targeting.
	Databases        []string // explicit target list; empty means discover
	ExcludeDatabases []string

	// Shell variant execution.
	Sudo     bool
	SudoUser string
	Timeout  time.Duration // per-unit execution timeout; zero means none

	AllowNewHosts bool
	DryRun        bool
}

// HostOutcome is the synthesized result for one host.
type HostOutcome struct {
	Host      string
	Transport classify.Code        // TransportOK unless the session never opened
	FailCode  classify.Code        // set for host-terminal failures past the session
	Units     []runner.UnitResult  // completion order; empty on host-terminal failure
	Err       string               // human-readable reason for host-terminal failures
	DryRun    bool
}

// Succeeded reports full host success: session established, a non-empty
// unit set, and every unit successful. A host with zero resolvable units is
// a failure, never vacuously successful.
func (o HostOutcome) Succeeded() bool {
	if o.DryRun {
		return o.Err == ""
	}
	if o.Transport != classify.TransportOK || len(o.Units) == 0 {
		return false
	}
	for _, u := range o.Units {
		if !u.OK {
			return false
		}
	}
	return true
}

// OKUnits counts successful units.
func (o HostOutcome) OKUnits() int {
	n := 0
	for _, u := range o.Units {
		if u.OK {
			n++
		}
	}
	return n
}

// ConfigSource resolves per-host descriptors.
type ConfigSource interface {
	Lookup(hostName string) (store.HostConfig, error)
}

// AuditLog appends write-once execution records.
type AuditLog interface {
	Append(logstore.Record) error
}

// Variant is the capability pair that distinguishes the shell and SQL
// executors: how the unit set is resolved, and how one unit runs. The
// surrounding orchestration is identical for both.
type Variant interface {
	Kind() classify.Kind

	// Template resolves the text to render for a command name.
	Template(commandName string) (string, error)

	// ResolveUnits determines the unit labels to execute against.
	ResolveUnits(ctx context.Context, sess sshx.Session, cfg store.HostConfig, ec ExecContext) ([]string, error)

	// Run executes one unit.
	Run(ctx context.Context, sess sshx.Session, rendered, unit string, cfg store.HostConfig, ec ExecContext) runner.UnitResult
}

// Pipeline executes hosts one at a time. It is safe for concurrent use by
// multiple dispatch workers.
type Pipeline struct {
	Config  ConfigSource
	Audit   AuditLog
	Dialer  sshx.Dialer
	Variant Variant
	Logger  *logging.Logger
}

// Run executes the pipeline for one host and always returns an outcome.
func (p *Pipeline) Run(ctx context.Context, host string, ec ExecContext) HostOutcome {
	out := HostOutcome{Host: host, Transport: classify.TransportOK}

	cfg, err := p.Config.Lookup(host)
	if err != nil {
		p.Logger.LogConfigError(host, err)
		p.audit(logstore.Record{
			Host:     host,
			Text:     "CONFIG_ERROR: " + ec.CommandName,
			Code:     classify.TransportFailed,
			ExitCode: -1,
			Stderr:   err.Error(),
		})
		out.Transport = classify.TransportFailed
		out.Err = "configuration: " + err.Error()
		return out
	}

	if ec.DryRun {
		return p.dryRun(cfg, ec)
	}

	sess, err := p.Dialer.Dial(ctx, sshx.Params{
		User:          cfg.SSH.User,
		Host:          cfg.Name,
		KeyPath:       cfg.SSH.KeyPath,
		Timeout:       cfg.SSH.Timeout,
		AllowNewHosts: ec.AllowNewHosts,
	})
	if err != nil {
		p.audit(logstore.Record{
			Host:     host,
			Text:     "SSH_ERROR: " + ec.CommandName,
			Code:     classify.TransportFailed,
			ExitCode: -1,
			Stderr:   err.Error(),
		})
		out.Transport = classify.TransportFailed
		out.Err = "session: " + err.Error()
		return out
	}
	defer sess.Close()

	units, err := p.Variant.ResolveUnits(ctx, sess, cfg, ec)
	if err != nil {
		return p.hostFailure(out, "TARGET_ERROR: "+ec.CommandName, "targets: "+err.Error())
	}
	if len(units) == 0 {
		// Excluding everything is a configuration mistake, not a no-op.
		return p.hostFailure(out, "TARGET_ERROR: "+ec.CommandName, "no units to process after exclusion")
	}

	rendered, err := p.renderCommand(ec)
	if err != nil {
		return p.hostFailure(out, "TEMPLATE_ERROR: "+ec.CommandName, "template: "+err.Error())
	}

	for _, unit := range units {
		runCtx := ctx
		cancel := context.CancelFunc(func() {})
		if ec.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, ec.Timeout)
		}
		res := p.Variant.Run(runCtx, sess, rendered, unit, cfg, ec)
		cancel()

		p.Logger.LogUnit(host, res.Unit, res.Code, res.ExitCode)
		p.audit(logstore.Record{
			Host:     host,
			Text:     rendered,
			Unit:     auditUnit(res.Unit),
			Code:     res.Code,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		})

		out.Units = append(out.Units, res)
	}

	return out
}

func (p *Pipeline) renderCommand(ec ExecContext) (string, error) {
	text, err := p.Variant.Template(ec.CommandName)
	if err != nil {
		return "", err
	}
	return template.Render(text, ec.Vars)
}

// dryRun renders without connecting and reports the command that would run.
func (p *Pipeline) dryRun(cfg store.HostConfig, ec ExecContext) HostOutcome {
	out := HostOutcome{Host: cfg.Name, Transport: classify.TransportOK, DryRun: true}

	rendered, err := p.renderCommand(ec)
	if err != nil {
		out.FailCode = classify.Unknown(p.Variant.Kind())
		out.Err = "template: " + err.Error()
		return out
	}

	out.Units = []runner.UnitResult{{
		Unit:   runner.ShellUnit,
		Stdout: "[DRY-RUN] " + rendered,
		Code:   classify.Success(p.Variant.Kind()),
		OK:     true,
	}}
	return out
}

// hostFailure finalizes a host-terminal failure past the session: the
// outcome carries the variant's ambiguity code and exactly one audit record
// is written.
func (p *Pipeline) hostFailure(out HostOutcome, marker, reason string) HostOutcome {
	code := classify.Unknown(p.Variant.Kind())
	p.Logger.LogHostFailure(out.Host, code, reason)
	p.audit(logstore.Record{
		Host:     out.Host,
		Text:     marker,
		Code:     code,
		ExitCode: -1,
		Stderr:   reason,
	})
	out.FailCode = code
	out.Err = reason
	return out
}

// audit writes one record; a failing log store is reported but never fails
// the host.
func (p *Pipeline) audit(rec logstore.Record) {
	if err := p.Audit.Append(rec); err != nil {
		p.Logger.Error("audit append failed", "host", rec.Host, "error", err)
	}
}

func auditUnit(unit string) string {
	if unit == runner.ShellUnit {
		return ""
	}
	return unit
}
