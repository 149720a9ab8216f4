package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const sqlitePrefix = "sqlite:"

// NewStore picks a backend from databaseURL: empty selects the in-memory
// store, a "sqlite:<path>" value a SQLite file, anything else PostgreSQL.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case databaseURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(databaseURL, sqlitePrefix):
		return NewSQLiteStore(strings.TrimPrefix(databaseURL, sqlitePrefix))
	default:
		return NewPostgresStore(ctx, databaseURL)
	}
}

func newID() string {
	return uuid.NewString()
}

// Mode names the backend NewStore selects for databaseURL.
func Mode(databaseURL string) string {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case databaseURL == "":
		return "in-memory"
	case strings.HasPrefix(databaseURL, sqlitePrefix):
		return "sqlite"
	default:
		return "postgres"
	}
}
