package store

import "strings"

// New opens a Store backend chosen by databaseURL's scheme: "postgres://" or
// "postgresql://" selects PostgresStore; anything else (including a bare
// file path, ":memory:", or an explicit "sqlite://" URL) selects
// SQLiteStore.
func New(databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgres(databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	default:
		return NewSQLite(databaseURL)
	}
}
