package classify

import "testing"

func TestCommandShell(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		exitCode int
		want     Code
	}{
		{"clean success", "", 0, CmdOK},
		{"permission denied", "bash: /etc/shadow: Permission denied", 1, CmdAuthDenied},
		{"not found", "bash: frobnicate: command not found", 127, CmdNotFound},
		{"no such file", "cat: /nope: No such file or directory", 1, CmdNotFound},
		{"timeout", "connection timeout while reading", 1, CmdTimeout},
		{"sudo password", "sudo: a password is required", 1, CmdAuthDenied},
		{"generic nonzero", "something odd happened", 3, CmdFailed},
		{"nonzero empty stderr", "", 2, CmdFailed},
		// Precedence: permission denied outranks the sudo+password rule.
		{"sudo permission denied", "sudo: permission denied, password rejected", 1, CmdAuthDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Command(Shell, tt.stderr, tt.exitCode); got != tt.want {
				t.Errorf("Command(Shell, %q, %d) = %s, want %s", tt.stderr, tt.exitCode, got, tt.want)
			}
		})
	}
}

func TestCommandSQL(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		exitCode int
		want     Code
	}{
		{"clean success", "", 0, PgOK},
		{"psql missing", "bash: psql: not found", 127, PgExecMissing},
		{"command not found", "su: psql: command not found", 127, PgExecMissing},
		{"password auth", `psql: FATAL:  password authentication failed for user "app"`, 2, PgAuthFailed},
		{"could not connect", "psql: FATAL: could not connect to server", 2, PgUnreachable},
		{"no route", "psql: FATAL: no route to host", 2, PgUnreachable},
		{"syntax error", `ERROR:  syntax error at or near "SELCT"`, 1, PgSyntax},
		// Any ERROR: line classifies as syntax, constraint violations included.
		{"constraint violation", `ERROR:  duplicate key value violates unique constraint "pk"`, 1, PgSyntax},
		{"generic nonzero", "psql: unexpected condition", 1, PgFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Command(SQL, tt.stderr, tt.exitCode); got != tt.want {
				t.Errorf("Command(SQL, %q, %d) = %s, want %s", tt.stderr, tt.exitCode, got, tt.want)
			}
		})
	}
}

func TestCommandCaseInsensitive(t *testing.T) {
	if got := Command(Shell, "PERMISSION DENIED", 1); got != CmdAuthDenied {
		t.Errorf("uppercase stderr not matched: got %s", got)
	}
	if got := Command(SQL, "psql: fatal: PASSWORD authentication failed", 2); got != PgAuthFailed {
		t.Errorf("mixed case stderr not matched: got %s", got)
	}
}

func TestSuccessAndUnknown(t *testing.T) {
	if Success(Shell) != CmdOK || Success(SQL) != PgOK {
		t.Fatal("wrong success codes")
	}
	if Unknown(Shell) != CmdUnknown || Unknown(SQL) != PgUnknown {
		t.Fatal("wrong unknown codes")
	}
	if !IsSuccess(Shell, CmdOK) || IsSuccess(Shell, PgOK) {
		t.Fatal("IsSuccess must be kind-specific")
	}
	if IsSuccess(SQL, PgUnknown) {
		t.Fatal("unknown must not count as success")
	}
}
