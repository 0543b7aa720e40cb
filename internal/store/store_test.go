package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openMemConfig(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE hosts (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT UNIQUE, toggle INTEGER DEFAULT 1)`,
		`CREATE TABLE ssh_variables (id_host INTEGER, variable TEXT, value TEXT)`,
		`CREATE TABLE postgre_variables (id_host INTEGER, variable TEXT, value TEXT)`,
		`CREATE TABLE commands (name TEXT UNIQUE, template TEXT)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func seedHost(t *testing.T, db *sql.DB, name string, active int, sshVars, pgVars map[string]string) {
	t.Helper()
	res, err := db.Exec(`INSERT INTO hosts (name, toggle) VALUES (?, ?)`, name, active)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := res.LastInsertId()
	for k, v := range sshVars {
		if _, err := db.Exec(`INSERT INTO ssh_variables (id_host, variable, value) VALUES (?, ?, ?)`, id, k, v); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range pgVars {
		if _, err := db.Exec(`INSERT INTO postgre_variables (id_host, variable, value) VALUES (?, ?, ?)`, id, k, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLookupAppliesDefaults(t *testing.T) {
	db := openMemConfig(t)
	seedHost(t, db, "db1.example.com", 1, nil, nil)

	s := NewStore(db)
	cfg, err := s.Lookup("db1.example.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if cfg.SSH.User != "root" || cfg.SSH.KeyPath != "~/.ssh/id_ed25519" || cfg.SSH.Timeout != 10*time.Second {
		t.Errorf("ssh defaults not applied: %+v", cfg.SSH)
	}
	if cfg.PG.User != "postgres" || cfg.PG.Port != 5432 || cfg.PG.PSQLPath != "/usr/bin/psql" || cfg.PG.Password != "" {
		t.Errorf("pg defaults not applied: %+v", cfg.PG)
	}
}

func TestLookupReadsVariables(t *testing.T) {
	db := openMemConfig(t)
	seedHost(t, db, "pg7", 1,
		map[string]string{"SSH_USER": "deploy", "SSH_KEY_PATH": "keys/pg7", "SSH_TIMEOUT": "30"},
		map[string]string{"PG_DB_USER": "app", "PG_DB_PORT": "5433", "PG_PASSWORD": "s3cret", "PG_PSQL_PATH": "/opt/pg/bin/psql"})

	cfg, err := NewStore(db).Lookup("pg7")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cfg.SSH.User != "deploy" || cfg.SSH.KeyPath != "keys/pg7" || cfg.SSH.Timeout != 30*time.Second {
		t.Errorf("ssh vars not picked up: %+v", cfg.SSH)
	}
	if cfg.PG.User != "app" || cfg.PG.Port != 5433 || cfg.PG.Password != "s3cret" || cfg.PG.PSQLPath != "/opt/pg/bin/psql" {
		t.Errorf("pg vars not picked up: %+v", cfg.PG)
	}
}

func TestLookupDisabledHost(t *testing.T) {
	db := openMemConfig(t)
	seedHost(t, db, "retired", 0, nil, nil)

	_, err := NewStore(db).Lookup("retired")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("disabled host: got %v, want ErrNotFound", err)
	}

	_, err = NewStore(db).Lookup("never-existed")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown host: got %v, want ErrNotFound", err)
	}
}

func TestListActive(t *testing.T) {
	db := openMemConfig(t)
	seedHost(t, db, "b", 1, nil, nil)
	seedHost(t, db, "a", 1, nil, nil)
	seedHost(t, db, "c", 0, nil, nil)

	hosts, err := NewStore(db).ListActive()
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(hosts) != 2 || hosts[0] != "a" || hosts[1] != "b" {
		t.Errorf("ListActive = %v, want [a b]", hosts)
	}
}

func TestLookupTemplate(t *testing.T) {
	db := openMemConfig(t)
	if _, err := db.Exec(`INSERT INTO commands (name, template) VALUES ('vacuum', 'VACUUM ANALYZE;')`); err != nil {
		t.Fatal(err)
	}

	s := NewStore(db)
	text, err := s.LookupTemplate("vacuum")
	if err != nil || text != "VACUUM ANALYZE;" {
		t.Errorf("LookupTemplate = %q, %v", text, err)
	}

	_, err = s.LookupTemplate("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing template: got %v, want ErrNotFound", err)
	}
}
