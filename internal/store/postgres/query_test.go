package postgres

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := newListQuery("SELECT id FROM t WHERE session_id = $1", "s1")
	q.window("created_at", domain.ListOpts{Since: &since})
	q.page("created_at DESC", domain.ListOpts{Limit: 10, Offset: 20})

	want := "SELECT id FROM t WHERE session_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
	if q.sql != want {
		t.Errorf("sql = %q\nwant  %q", q.sql, want)
	}
	if len(q.args) != 4 || q.args[0] != "s1" || q.args[2] != 10 || q.args[3] != 20 {
		t.Errorf("args = %v", q.args)
	}
}

func TestDSN(t *testing.T) {
	if got := DSN(ClientConfig{DSN: " postgres://x "}); got != " postgres://x " {
		t.Errorf("explicit DSN rewritten: %q", got)
	}
	got := DSN(ClientConfig{Host: "db", User: "bot", Password: "p@ss", Database: "grid"})
	want := "postgres://bot:p%40ss@db:5432/grid?sslmode=disable"
	if got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestMigrationFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_more.sql": {Data: []byte("SELECT 2")},
		"m/001_init.sql": {Data: []byte("SELECT 1")},
		"m/README.md":    {Data: []byte("docs")},
		"m/sub/x.sql":    {Data: []byte("SELECT 3")},
	}
	got, err := migrationFiles(fsys, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "001_init.sql" || got[1] != "002_more.sql" {
		t.Errorf("migrationFiles() = %v", got)
	}

	embedded, err := migrationFiles(migrationsFS, "migrations")
	if err != nil || len(embedded) == 0 {
		t.Errorf("embedded migrations = %v, %v", embedded, err)
	}
}
