package database

import (
	"strings"
	"testing"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User: "authguard",
		Name: "authguard",
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	expected := "host=localhost port=5432 user=authguard dbname=authguard TimeZone=UTC application_name=authguard connect_timeout=10 sslmode=disable"
	if dsn != expected {
		t.Fatalf("expected %q, got %q", expected, dsn)
	}
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "user",
		Name:     "db",
		Host:     "db.example.com",
		Port:     6543,
		Password: "pass",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "public",
		},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(
		dsn,
		"host=db.example.com",
		"port=6543",
		"user=user",
		"dbname=db",
		"password=pass",
		"sslmode=require",
		"search_path=public",
	) {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
}

func TestBuildPostgresDSNQuotesValues(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "auth guard",
		Name:     "db",
		Password: `it's a \secret`,
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(dsn, "user='auth guard'", `password='it\'s a \\secret'`) {
		t.Fatalf("dsn values not quoted: %q", dsn)
	}
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildPostgresDSN(Config{}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "authguard",
		Name: "authguard",
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	expected := "authguard@tcp(127.0.0.1:3306)/authguard?charset=utf8mb4&clientFoundRows=true&loc=UTC&parseTime=True&timeout=10s"
	if dsn != expected {
		t.Fatalf("expected %q, got %q", expected, dsn)
	}
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options: map[string]string{
			"tls": "skip-verify",
		},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(
		dsn,
		"user:secret@tcp(db.example.com:3307)/db?",
		"charset=utf8mb4",
		"loc=UTC",
		"parseTime=True",
		"tls=skip-verify",
	) {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildMySQLDSN(Config{Host: "localhost"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func containsAll(value string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(value, part) {
			return false
		}
	}
	return true
}

func TestBuildSQLiteDSN(t *testing.T) {
	cases := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{
			name:     "shared memory",
			cfg:      Config{},
			expected: "file::memory:?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate&cache=shared",
		},
		{
			name:     "named memory",
			cfg:      Config{Path: "memory:unit"},
			expected: "file:unit?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate&cache=shared&mode=memory",
		},
		{
			name:     "file with override",
			cfg:      Config{Path: "authguard.db", Options: map[string]string{"_busy_timeout": "250"}},
			expected: "file:authguard.db?_busy_timeout=250&_foreign_keys=1&_journal_mode=WAL&_txlock=immediate",
		},
		{
			name:     "explicit dsn",
			cfg:      Config{DSN: "file:custom.db"},
			expected: "file:custom.db",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := buildSQLiteDSN(tc.cfg)
			if err != nil {
				t.Fatalf("build dsn: %v", err)
			}
			if dsn != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, dsn)
			}
		})
	}
}
