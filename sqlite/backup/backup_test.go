package backup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-extralite/extralite/sqlite"
	"github.com/go-extralite/extralite/sqlite/internal/testutils"
)

func TestBackup_CopiesRowsAndReportsMonotonicProgress(t *testing.T) {
	db := testutils.NewEphemeralDatabase(t, nil)

	ctx := context.Background()

	_, err := db.Execute(ctx, "create table t(a integer primary key, b text)", nil)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		_, err := db.Execute(ctx, "insert into t (b) values (?)", "row")
		require.NoError(t, err)
	}

	dst := filepath.Join(t.TempDir(), "dst.db")

	c := New(db, nil)

	var observed [][2]int64

	err = c.Backup(ctx, dst, "", "", func(remaining, total int64) {
		observed = append(observed, [2]int64{remaining, total})
	})
	require.NoError(t, err)

	require.NotEmpty(t, observed)

	total := observed[0][1]
	assert.Equal(t, int64(40), total)
	assert.Equal(t, [2]int64{0, total}, observed[len(observed)-1])

	for i := 1; i < len(observed); i++ {
		assert.LessOrEqual(t, observed[i][0], observed[i-1][0])
		assert.Equal(t, total, observed[i][1])
	}

	dstDB := testutils.NewEphemeralDatabase(t, func(opts *sqlite.Options) { opts.Path = dst })

	count, err := dstDB.QuerySingle(ctx, "select count(*) from t", nil, sqlite.QueryOptions{Mode: sqlite.RowSplat})
	require.NoError(t, err)
	assert.Equal(t, int64(40), count)
}

func TestBackup_EmptySourceReportsZeroOnce(t *testing.T) {
	db := testutils.NewEphemeralDatabase(t, nil)

	ctx := context.Background()

	_, err := db.Execute(ctx, "create table t(a)", nil)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "dst.db")

	c := New(db, nil)

	var calls [][2]int64

	err = c.Backup(ctx, dst, "", "", func(remaining, total int64) {
		calls = append(calls, [2]int64{remaining, total})
	})
	require.NoError(t, err)

	assert.Equal(t, [][2]int64{{0, 0}}, calls)
}

func TestBackup_NoProgressCallback(t *testing.T) {
	db := testutils.NewEphemeralDatabase(t, nil)

	ctx := context.Background()

	_, err := db.Execute(ctx, "create table t(a)", nil)
	require.NoError(t, err)
	_, err = db.Execute(ctx, "insert into t values (1), (2), (3)", nil)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "dst.db")

	c := New(db, nil)

	err = c.Backup(ctx, dst, "", "", nil)
	require.NoError(t, err)
}

func TestBackup_RejectsEmptyDestination(t *testing.T) {
	db := testutils.NewEphemeralDatabase(t, nil)

	c := New(db, nil)

	err := c.Backup(context.Background(), "", "", "", nil)
	require.Error(t, err)
}

func TestDestAlias_RemapsMainAndEmpty(t *testing.T) {
	assert.Equal(t, "extralite_backup", destAlias(""))
	assert.Equal(t, "extralite_backup", destAlias("main"))
	assert.Equal(t, "other", destAlias("other"))
}
