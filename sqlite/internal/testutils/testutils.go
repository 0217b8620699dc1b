// Package testutils provides test-only helpers shared across the sqlite
// package tree.
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-extralite/extralite/sqlite"
)

// NewEphemeralDatabase opens a private, temporary in-memory database and
// registers its teardown with t.Cleanup.
func NewEphemeralDatabase(t *testing.T, mutate func(*sqlite.Options)) *sqlite.Database {
	t.Helper()

	opts := sqlite.Options{Path: ":memory:", BusyTimeout: time.Second}
	if mutate != nil {
		mutate(&opts)
	}

	db, err := sqlite.Open(context.Background(), opts, nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}
