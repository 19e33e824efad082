package database

import (
	"encoding/hex"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func checksum(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestPendingMigrationsOrderAndFilter(t *testing.T) {
	fsys := fstest.MapFS{
		"002_index.sql":  {Data: []byte("CREATE INDEX b;")},
		"001_table.sql":  {Data: []byte("CREATE TABLE a;")},
		"README.md":      {Data: []byte("not a migration")},
		"003_extra.sql~": {Data: []byte("backup")},
	}

	pending, err := pendingMigrations(fsys, map[string]string{})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "001_table.sql", pending[0].name)
	assert.Equal(t, "002_index.sql", pending[1].name)
	assert.Equal(t, checksum("CREATE TABLE a;"), pending[0].checksum)
}

func TestPendingMigrationsSkipsApplied(t *testing.T) {
	fsys := fstest.MapFS{
		"001_table.sql": {Data: []byte("CREATE TABLE a;")},
		"002_index.sql": {Data: []byte("CREATE INDEX b;")},
	}

	pending, err := pendingMigrations(fsys, map[string]string{"001_table.sql": checksum("CREATE TABLE a;")})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "002_index.sql", pending[0].name)
}

func TestPendingMigrationsDetectsEditedFile(t *testing.T) {
	fsys := fstest.MapFS{"001_table.sql": {Data: []byte("CREATE TABLE a (id INT);")}}

	_, err := pendingMigrations(fsys, map[string]string{"001_table.sql": checksum("CREATE TABLE a;")})
	assert.ErrorContains(t, err, "changed after it was applied")
}

func TestEmbeddedMigrations(t *testing.T) {
	sub, err := fs.Sub(Migrations, "migrations")
	require.NoError(t, err)

	pending, err := pendingMigrations(sub, nil)
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	assert.Equal(t, "001_voice_exchanges.sql", pending[0].name)
	assert.Contains(t, pending[0].sql, "voice_exchanges")
}
