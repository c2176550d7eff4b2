package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	info, err := store.Put(ctx, "42/JPK_V7M_client-1_2024-03.xml", []byte("<JPK/>"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Path, "42/"))
	assert.True(t, strings.HasSuffix(info.Path, ".xml"))
	assert.Equal(t, int64(6), info.Size)
	assert.Len(t, info.Hash, 64)

	content, err := store.Get(ctx, info.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("<JPK/>"), content)

	again, err := store.Put(ctx, "42/JPK_V7M_client-1_2024-03.xml", []byte("<JPK/>"))
	require.NoError(t, err)
	assert.NotEqual(t, info.Path, again.Path)
	assert.Equal(t, info.Hash, again.Hash)

	require.NoError(t, store.Delete(ctx, info.Path))
	require.NoError(t, store.Delete(ctx, info.Path))

	_, err = store.Get(ctx, info.Path)
	assert.ErrorIs(t, err, reportdomain.ErrNotFound)
}

func TestLocalStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "7/doc.signed.xml", []byte("signed"))
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "7", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	entries, err := os.ReadDir(filepath.Join(dir, "7"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStoreRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, errInvalidPath)
	assert.ErrorIs(t, store.Delete(context.Background(), "/abs"), errInvalidPath)
}

func TestStorageKeyIsSluggedAndUnique(t *testing.T) {
	first := storageKey("../12/Raport Marzec.XML")
	second := storageKey("../12/Raport Marzec.XML")

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, "12/raport-marzec-"))
	assert.True(t, strings.HasSuffix(first, ".xml"))
	assert.NotContains(t, first, "..")
}
