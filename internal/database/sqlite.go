package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Connection parameters applied to every pooled SQLite connection. Token rotation and device
// approval read a row and then conditionally update it inside one transaction, so
// transactions take the write lock at BEGIN and writers wait for the lock instead of failing
// with SQLITE_BUSY.
var sqliteDefaults = map[string]string{
	"_foreign_keys": "1",
	"_busy_timeout": "5000",
	"_txlock":       "immediate",
}

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn, err := buildSQLiteDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(sqlite.Open(dsn), gormConfig())
}

func buildSQLiteDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}

	params := make(map[string]string, len(sqliteDefaults)+3)
	for key, value := range sqliteDefaults {
		params[key] = value
	}

	var target string
	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "", strings.EqualFold(path, ":memory:"):
		target = ":memory:"
		params["cache"] = "shared"
	case strings.HasPrefix(path, "memory:"):
		// Named in-memory databases isolate parallel test packages.
		target = strings.TrimPrefix(path, "memory:")
		params["mode"] = "memory"
		params["cache"] = "shared"
	default:
		if err := ensureDir(path); err != nil {
			return "", err
		}
		target = filepath.ToSlash(path)
		params["_journal_mode"] = "WAL"
	}

	for key, value := range cfg.Options {
		params[key] = value
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	return fmt.Sprintf("file:%s?%s", target, strings.Join(pairs, "&")), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
