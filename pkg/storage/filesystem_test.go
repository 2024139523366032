package storage

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveReadDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("snapshots/abc.json", []byte(`{"a":1}`))
	require.NoError(t, err)
	_, err = store.Save("snapshots/abc.json", []byte(`{"a":2}`))
	require.NoError(t, err)

	data, err := store.Read("snapshots/abc.json")
	require.NoError(t, err)
	require.Equal(t, `{"a":2}`, string(data))

	names, err := store.List("snapshots", ".json")
	require.NoError(t, err)
	require.Equal(t, []string{"snapshots/abc.json"}, names)

	require.NoError(t, store.Delete("snapshots/abc.json"))
	require.NoError(t, store.Delete("snapshots/abc.json"))
	_, err = store.Read("snapshots/abc.json")
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLocalStorageLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)
	_, err = store.Save("x.json", []byte("{}"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.False(t, strings.HasPrefix(entry.Name(), tempFilePrefix))
	}
}

func TestLocalStorageRejectsEscapes(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = store.Save("../outside.json", []byte("{}"))
	require.Error(t, err)
	_, err = store.Read("/etc/passwd")
	require.Error(t, err)
}

func TestLocalStorageListMissingDir(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	names, err := store.List("missing", ".json")
	require.NoError(t, err)
	require.Empty(t, names)
}
