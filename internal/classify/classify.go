// Package classify turns raw remote execution signals (stderr text plus exit
// code) into stable semantic codes.
//
// The rules are deliberate substring scraping of a third-party CLI's stderr.
// They live in ordered tables evaluated top to bottom; the order encodes
// precedence, not severity.
package classify

import "strings"

// Kind selects the rule table used for classification.
type Kind int

const (
	// Shell classifies plain remote shell invocations.
	Shell Kind = iota

	// SQL classifies psql invocations.
	SQL
)

// Code is a stable, taxonomy-level outcome identifier. The values are wire
// identifiers shared with the log store and must not change.
type Code string

// Shell command codes.
const (
	CmdOK         Code = "cmd_0"  // command exited zero
	CmdNotFound   Code = "cmd_10" // executable or file missing
	CmdAuthDenied Code = "cmd_12" // permission denied, incl. sudo password prompts
	CmdTimeout    Code = "cmd_16" // remote reported a timeout
	CmdFailed     Code = "cmd_18" // non-zero exit, no more specific match
	CmdUnknown    Code = "cmd_99" // zero exit but unclassifiable signal
)

// SQL (psql) codes.
const (
	PgOK          Code = "pg_0"  // statement executed
	PgExecMissing Code = "pg_10" // psql binary not found on the host
	PgAuthFailed  Code = "pg_12" // password authentication rejected
	PgSyntax      Code = "pg_14" // syntax error, or any ERROR: line
	PgUnreachable Code = "pg_16" // server not reachable from the host
	PgFailed      Code = "pg_18" // non-zero exit, no more specific match
	PgUnknown     Code = "pg_99" // zero exit but unclassifiable signal
)

// Transport codes. These form a separate family from the per-unit codes
// above: a session that never opened carries no exit code and short-circuits
// the per-unit loop entirely.
const (
	TransportOK     Code = "ssh_0"
	TransportFailed Code = "ssh_99"
)

// rule is one ordered classification entry. A rule matches when every
// substring in all appears in the lowercased stderr, or when any substring
// in anyOf does.
type rule struct {
	all   []string
	anyOf []string
	code  Code
}

var shellRules = []rule{
	{all: []string{"permission denied"}, code: CmdAuthDenied},
	{anyOf: []string{"not found", "no such file"}, code: CmdNotFound},
	{all: []string{"timeout"}, code: CmdTimeout},
	{all: []string{"sudo", "password"}, code: CmdAuthDenied},
}

var sqlRules = []rule{
	{anyOf: []string{"psql: not found", "command not found"}, code: PgExecMissing},
	{all: []string{"fatal", "password"}, code: PgAuthFailed},
	{all: []string{"fatal", "could not connect"}, code: PgUnreachable},
	{all: []string{"fatal", "no route"}, code: PgUnreachable},
	// "error:" intentionally catches more than syntax errors; psql prefixes
	// every server-side error the same way and callers rely on this code.
	{anyOf: []string{"syntax error", "error:"}, code: PgSyntax},
}

func (r rule) matches(err string) bool {
	for _, s := range r.all {
		if !strings.Contains(err, s) {
			return false
		}
	}
	if len(r.anyOf) == 0 {
		return len(r.all) > 0
	}
	for _, s := range r.anyOf {
		if strings.Contains(err, s) {
			return true
		}
	}
	return false
}

// Command is the classification contract for remote execution outcomes.
// It is pure and total: any input maps to exactly one code. Rules win over
// the exit code; an unmatched non-zero exit maps to the kind's generic
// failure code and an unmatched zero exit to its success code.
func Command(kind Kind, stderr string, exitCode int) Code {
	err := strings.ToLower(stderr)

	var rules []rule
	switch kind {
	case SQL:
		rules = sqlRules
	default:
		rules = shellRules
	}

	for _, r := range rules {
		if r.matches(err) {
			return r.code
		}
	}

	if exitCode != 0 {
		if kind == SQL {
			return PgFailed
		}
		return CmdFailed
	}
	return Success(kind)
}

// Unknown returns the kind's code for outcomes that never reached remote
// execution in a classifiable way (empty target sets, unrenderable
// templates). It is distinct from both success and generic failure and is
// never produced by Command.
func Unknown(kind Kind) Code {
	if kind == SQL {
		return PgUnknown
	}
	return CmdUnknown
}

// Success returns the designated success code for a kind.
func Success(kind Kind) Code {
	if kind == SQL {
		return PgOK
	}
	return CmdOK
}

// IsSuccess reports whether code is the success code of its kind.
func IsSuccess(kind Kind, code Code) bool {
	return code == Success(kind)
}
