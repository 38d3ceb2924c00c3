package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "streams.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, dirty, err := RunMigrations(db)
	require.NoError(t, err)
	require.False(t, dirty)

	return db
}

func createTestStream(t *testing.T, streams *StreamStore, streamID string) *Stream {
	t.Helper()

	stream := &Stream{StreamID: streamID, Title: streamID, URL: "https://example.com/" + streamID + ".xml"}
	require.NoError(t, streams.CreateStream(t.Context(), stream))
	return stream
}
