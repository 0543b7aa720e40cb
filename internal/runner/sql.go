package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DIPx2/WASSERFALL/internal/classify"
	"github.com/DIPx2/WASSERFALL/internal/sshx"
	"github.com/DIPx2/WASSERFALL/internal/store"
)

const heredocTag = "__PGSQL_HEREDOC__"

// WrapStatement strips the statement's trailing terminator and wraps it so
// psql always emits a JSON array (or nothing, for zero rows) instead of
// tabular text. Downstream parsing is uniform regardless of the statement's
// shape.
func WrapStatement(sqlText string) string {
	body := strings.TrimRight(strings.TrimSpace(sqlText), ";")
	return "SELECT json_agg(t) FROM (" + body + ") t;"
}

// BuildPSQL assembles the full remote command line for one statement against
// one database: non-interactive psql flags, the statement delivered through
// an inline here-document (so multi-line SQL needs no escaping), PGPASSWORD
// scoped to the invocation, and the whole pipeline run as the postgres
// system account, which is the only account reliably configured for
// passwordless local access.
func BuildPSQL(sqlText string, p store.PGParams, dbName string) string {
	flags := fmt.Sprintf("-U %s -d %s -p %d -t -q -A -v ON_ERROR_STOP=1",
		shellQuote(p.User), shellQuote(dbName), p.Port)

	env := ""
	if p.Password != "" {
		env = "PGPASSWORD=" + shellQuote(p.Password) + " "
	}

	inner := env + p.PSQLPath + " " + flags +
		" <<'" + heredocTag + "'\n" + WrapStatement(sqlText) + "\n" + heredocTag

	return "su - postgres -c " + shellQuote(inner)
}

// RunSQL executes one statement against one database. Exit zero always
// classifies as success: stdout is parsed as JSON when possible and kept as
// raw text otherwise, because statements without a row-producing shape
// legitimately emit nothing.
func RunSQL(ctx context.Context, sess sshx.Session, sqlText string, p store.PGParams, dbName string) UnitResult {
	out, err := sess.Run(ctx, BuildPSQL(sqlText, p, dbName))
	if err != nil {
		return UnitResult{
			Unit:     dbName,
			Stdout:   out.Stdout,
			Stderr:   firstNonEmpty(out.Stderr, err.Error()),
			ExitCode: -1,
			Code:     classify.TransportFailed,
		}
	}

	res := UnitResult{
		Unit:     dbName,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
	}

	if out.ExitCode == 0 {
		res.Code = classify.PgOK
		res.OK = true
		res.Data = decodeRows(out.Stdout)
		return res
	}

	res.Code = classify.Command(classify.SQL, out.Stderr, out.ExitCode)
	return res
}

// decodeRows interprets psql output from a wrapped statement. json_agg over
// zero rows prints nothing in tuples-only mode, which decodes to an empty
// slice, never null. Unparsable output is returned verbatim.
func decodeRows(stdout string) any {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return []any{}
	}

	var rows any
	if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
		return trimmed
	}
	if rows == nil {
		return []any{}
	}
	return rows
}

// ListDatabases discovers all non-template databases on the host. Any
// stderr output or non-zero exit fails discovery outright.
func ListDatabases(ctx context.Context, sess sshx.Session, p store.PGParams) ([]string, error) {
	inner := fmt.Sprintf("%s -p %d -t -A -c 'SELECT datname FROM pg_database WHERE datistemplate = false;'",
		p.PSQLPath, p.Port)
	cmd := "su - postgres -c " + shellQuote(inner)

	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("database discovery: %w", err)
	}
	if out.Stderr != "" || out.ExitCode != 0 {
		return nil, fmt.Errorf("database discovery failed (exit %d): %s", out.ExitCode, out.Stderr)
	}

	var dbs []string
	for _, line := range strings.Split(out.Stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			dbs = append(dbs, name)
		}
	}
	return dbs, nil
}

// shellQuote wraps s in single quotes for safe inclusion in a remote shell
// command line, splicing around embedded quotes.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>(){}[]*?~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
