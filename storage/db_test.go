package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(filepath.Join(t.TempDir(), "level"))
	require.NoError(t, err)
	t.Cleanup(level.Close)

	bolt, err := NewBoltDB(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(bolt.Close)

	mem := NewMemDB()
	t.Cleanup(mem.Close)

	return map[string]Database{"memory": mem, "leveldb": level, "bolt": bolt}
}

func TestDatabaseBasics(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)

			ok, err := db.Has([]byte("k"))
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, db.Delete([]byte("k")))
			ok, err = db.Has([]byte("k"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestDatabaseBatchAndIterate(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("grant/3"), []byte("stale")))

			batch := db.NewBatch()
			batch.Put([]byte("grant/1"), []byte("a"))
			batch.Put([]byte("grant/2"), []byte("b"))
			batch.Delete([]byte("grant/3"))
			batch.Put([]byte("other/1"), []byte("x"))
			require.Equal(t, 4, batch.Len())

			// Nothing lands before Write.
			ok, err := db.Has([]byte("grant/1"))
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, batch.Write())

			var keys []string
			var values []string
			require.NoError(t, db.Iterate([]byte("grant/"), func(key, value []byte) error {
				keys = append(keys, string(key))
				values = append(values, string(value))
				return nil
			}))
			require.Equal(t, []string{"grant/1", "grant/2"}, keys)
			require.Equal(t, []string{"a", "b"}, values)

			stop := errors.New("stop")
			count := 0
			err = db.Iterate([]byte("grant/"), func(key, value []byte) error {
				count++
				return stop
			})
			require.ErrorIs(t, err, stop)
			require.Equal(t, 1, count)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "level")
	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("presale/state"), []byte("active")))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("presale/state"))
	require.NoError(t, err)
	require.Equal(t, []byte("active"), got)
}
