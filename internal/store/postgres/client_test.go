package postgres

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		cfg  ClientConfig
		want string
	}{
		{
			ClientConfig{DSN: "postgres://u@db/x"},
			"postgres://u@db/x",
		},
		{
			ClientConfig{Host: "db", User: "u", Password: "p", Database: "ww"},
			"postgres://u:p@db:5432/ww?sslmode=disable",
		},
		{
			ClientConfig{Host: "db", Port: 6432, User: "u", Database: "ww", SSLMode: "require"},
			"postgres://u@db:6432/ww?sslmode=require",
		},
		{
			ClientConfig{Host: "db", User: "u", Password: "p@ss/w", Database: "ww"},
			"postgres://u:p%40ss%2Fw@db:5432/ww?sslmode=disable",
		},
	}
	for _, test := range tests {
		if got := DSN(test.cfg); got != test.want {
			t.Errorf("DSN(%+v): got %q, want %q", test.cfg, got, test.want)
		}
	}
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatalf("migration files: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("got %v, want 001_init.sql first", names)
	}
	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"teams", "matches", "wagers"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("001_init.sql does not create %s", table)
		}
	}
}
