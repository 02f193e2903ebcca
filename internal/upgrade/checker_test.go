package upgrade

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestApplyFreshDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	before, err := CheckSchema(path)
	require.NoError(t, err)
	assert.True(t, before.NeedsMigration)

	s, err := Apply(path)
	require.NoError(t, err)
	assert.True(t, s.Compatible)
	assert.Equal(t, RequiredSchemaVersion, s.CurrentVersion)

	again, err := Apply(path)
	require.NoError(t, err)
	assert.True(t, again.Compatible, "second apply is a no-op")
}

func TestApplyRejectsDirtySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	_, err := Apply(path)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE schema_migrations SET dirty = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Apply(path)
	assert.ErrorIs(t, err, ErrSchemaDirty)
	require.NotNil(t, s)
	assert.True(t, s.Dirty)
}

func TestFormatError(t *testing.T) {
	assert.Contains(t, FormatError(&SchemaStatus{CurrentVersion: 3, RequiredVersion: 1}), "newer than this binary")
	assert.Contains(t, FormatError(&SchemaStatus{CurrentVersion: 1, Dirty: true}), "dirty")
}
