// Package store provides read-only access to the configuration database:
// the host table, per-host SSH and PostgreSQL parameter sets, and the
// command template table.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Defaults applied when a per-host parameter row is absent.
const (
	DefaultSSHUser    = "root"
	DefaultSSHKeyPath = "~/.ssh/id_ed25519"
	DefaultSSHTimeout = 10 * time.Second

	DefaultPGUser   = "postgres"
	DefaultPGPort   = 5432
	DefaultPSQLPath = "/usr/bin/psql"
)

// ErrNotFound reports a missing or disabled host, or a missing command
// template.
var ErrNotFound = errors.New("not found")

// SSHParams holds the resolved transport parameters for one host.
type SSHParams struct {
	User    string
	KeyPath string
	Timeout time.Duration
}

// PGParams holds the resolved PostgreSQL parameters for one host.
type PGParams struct {
	User     string
	Port     int
	Password string // empty when the host relies on local trust
	PSQLPath string
}

// HostConfig is the immutable per-host descriptor resolved once per run.
type HostConfig struct {
	Name string
	SSH  SSHParams
	PG   PGParams
}

// Store reads host and command definitions from the configuration database.
type Store struct {
	db *sql.DB
}

// Open opens the configuration database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open config db: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle; the caller owns the handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup resolves the full descriptor for an active host. A host that is
// unknown or disabled yields ErrNotFound.
func (s *Store) Lookup(hostName string) (HostConfig, error) {
	var hostID int64
	err := s.db.QueryRow(
		`SELECT id FROM hosts WHERE name = ? AND toggle = 1`, hostName,
	).Scan(&hostID)
	if errors.Is(err, sql.ErrNoRows) {
		return HostConfig{}, fmt.Errorf("host %q: %w", hostName, ErrNotFound)
	}
	if err != nil {
		return HostConfig{}, fmt.Errorf("lookup host %q: %w", hostName, err)
	}

	sshVars, err := s.variables("ssh_variables", hostID)
	if err != nil {
		return HostConfig{}, fmt.Errorf("ssh variables for %q: %w", hostName, err)
	}
	pgVars, err := s.variables("postgre_variables", hostID)
	if err != nil {
		return HostConfig{}, fmt.Errorf("pg variables for %q: %w", hostName, err)
	}

	cfg := HostConfig{
		Name: hostName,
		SSH: SSHParams{
			User:    pick(sshVars, "SSH_USER", DefaultSSHUser),
			KeyPath: pick(sshVars, "SSH_KEY_PATH", DefaultSSHKeyPath),
			Timeout: DefaultSSHTimeout,
		},
		PG: PGParams{
			User:     pick(pgVars, "PG_DB_USER", DefaultPGUser),
			Port:     DefaultPGPort,
			Password: pgVars["PG_PASSWORD"],
			PSQLPath: pick(pgVars, "PG_PSQL_PATH", DefaultPSQLPath),
		},
	}

	if raw, ok := sshVars["SSH_TIMEOUT"]; ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.SSH.Timeout = time.Duration(secs) * time.Second
		}
	}
	if raw, ok := pgVars["PG_DB_PORT"]; ok {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.PG.Port = port
		}
	}

	return cfg, nil
}

// ListActive returns the names of all enabled hosts.
func (s *Store) ListActive() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM hosts WHERE toggle = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list active hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		hosts = append(hosts, name)
	}
	return hosts, rows.Err()
}

// LookupTemplate fetches the template text for a named command.
func (s *Store) LookupTemplate(commandName string) (string, error) {
	var text string
	err := s.db.QueryRow(
		`SELECT template FROM commands WHERE name = ?`, commandName,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("command %q: %w", commandName, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup command %q: %w", commandName, err)
	}
	return text, nil
}

func (s *Store) variables(table string, hostID int64) (map[string]string, error) {
	// table is one of two fixed identifiers, never user input.
	rows, err := s.db.Query(
		`SELECT variable, value FROM `+table+` WHERE id_host = ?`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		vars[k] = v
	}
	return vars, rows.Err()
}

func pick(vars map[string]string, key, fallback string) string {
	if v, ok := vars[key]; ok && v != "" {
		return v
	}
	return fallback
}
