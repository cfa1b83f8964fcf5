package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDB(t *testing.T) Storage {
	t.Helper()
	db, err := NewWithPath(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSetGetDelete(t *testing.T) {
	db := mustDB(t)

	require.NoError(t, db.Set([]byte("wallet:0x1"), []byte("a")))

	v, err := db.GetKey([]byte("wallet:0x1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	exist, err := db.Exist([]byte("wallet:0x1"))
	require.NoError(t, err)
	assert.True(t, exist)

	require.NoError(t, db.Delete([]byte("wallet:0x1")))
	_, err = db.GetKey([]byte("wallet:0x1"))
	assert.True(t, IsKeyNotFound(err))
}

func TestGetByPrefix(t *testing.T) {
	db := mustDB(t)

	require.NoError(t, db.BatchWrite(map[string][]byte{
		"sessionkey:alice": []byte("1"),
		"sessionkey:bob":   []byte("2"),
		"wallet:0x1":       []byte("3"),
	}))

	items, err := db.GetByPrefix([]byte("sessionkey:"))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	keys, err := db.ListKeys("wallet:")
	require.NoError(t, err)
	assert.Equal(t, []string{"wallet:0x1"}, keys)
}

func TestBackupAndRestore(t *testing.T) {
	src := mustDB(t)
	require.NoError(t, src.Set([]byte("sessionkey:alice"), []byte("secret")))
	require.NoError(t, src.Set([]byte("wallet:0x1"), []byte("deployed")))

	var snapshot bytes.Buffer
	_, err := src.Backup(context.Background(), &snapshot, 0)
	require.NoError(t, err)
	require.NotZero(t, snapshot.Len())

	dst := mustDB(t)
	require.NoError(t, dst.Load(&snapshot))

	v, err := dst.GetKey([]byte("sessionkey:alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), v)

	v, err = dst.GetKey([]byte("wallet:0x1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("deployed"), v)
}
